package units

import (
	"context"
	"testing"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent"
	"github.com/conveyor-ci/conveyor/mock"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRunJobExecutesTheRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &mock.Environment{}
	require.NoError(t, env.Configure(ctx))
	store := run.NewMemoryStore()

	runner, err := agent.New(ctx, env, store, agent.Options{
		WorkDir:   t.TempDir(),
		LogPrefix: conveyor.LocalLoggingOverride,
	})
	require.NoError(t, err)

	pipeline := &model.Pipeline{
		Name: "demo",
		Jobs: []model.Job{
			{Name: "build", Steps: []model.StepConf{{Command: "noop.announce"}}},
		},
	}

	j := NewPipelineRunJob(env, runner, pipeline, event.NewManual("tester"))
	j.Run(ctx)
	require.NoError(t, j.Error())

	runs, err := store.List(ctx, run.ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "demo", runs[0].PipelineName)
	assert.Equal(t, conveyor.StatusSucceeded, runs[0].Status)
	assert.Equal(t, conveyor.EventManual, runs[0].Event.Kind)
}

func TestPipelineRunJobWithoutRunnerErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &mock.Environment{}
	require.NoError(t, env.Configure(ctx))

	j := makePipelineRunJob()
	j.env = env
	j.Run(ctx)

	require.Error(t, j.Error())
	assert.Contains(t, j.Error().Error(), "without a runner")
}
