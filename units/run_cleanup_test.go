package units

import (
	"context"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/mock"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCleanupJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &mock.Environment{}
	require.NoError(t, env.Configure(ctx))
	store := run.NewMemoryStore()

	stale := &run.Run{
		ID:           "stale",
		PipelineName: "demo",
		Status:       conveyor.StatusSucceeded,
		FinishedAt:   time.Now().Add(-2 * conveyor.RunHistoryTTL),
	}
	fresh := &run.Run{
		ID:           "fresh",
		PipelineName: "demo",
		Status:       conveyor.StatusSucceeded,
		FinishedAt:   time.Now(),
	}
	inflight := &run.Run{
		ID:           "inflight",
		PipelineName: "demo",
		Status:       conveyor.StatusStarted,
	}
	for _, rec := range []*run.Run{stale, fresh, inflight} {
		require.NoError(t, store.Put(ctx, rec))
	}

	j := NewRunCleanupJob(env, store, time.Now())
	j.Run(ctx)
	require.NoError(t, j.Error())

	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, run.ErrRunNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "inflight")
	assert.NoError(t, err)
}

func TestRunCleanupJobIDsCollapseWithinAPeriod(t *testing.T) {
	env := &mock.Environment{}
	store := run.NewMemoryStore()
	ts := time.Now()

	first := NewRunCleanupJob(env, store, ts)
	second := NewRunCleanupJob(env, store, ts)
	assert.Equal(t, first.ID(), second.ID())
}
