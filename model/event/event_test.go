package event

import (
	"testing"

	"github.com/conveyor-ci/conveyor"
	"github.com/stretchr/testify/assert"
)

func TestPushEvent(t *testing.T) {
	assert := assert.New(t)

	ev := NewPush("d1", "acme/widgets", "master", "0123456789abcdef", "alice")
	assert.Equal("d1", ev.ID)
	assert.Equal(conveyor.EventPush, ev.Kind)
	assert.Equal("acme/widgets", ev.Repo)
	assert.Equal("master", ev.Branch)
	assert.Equal("alice", ev.Sender)
	assert.False(ev.Timestamp.IsZero())

	assert.Equal("0123456789", ev.ShortRevision())
	assert.Equal("push of 0123456789 to master on acme/widgets", ev.String())
}

func TestPullRequestEvent(t *testing.T) {
	assert := assert.New(t)

	ev := NewPullRequest("d2", "acme/widgets", 42, "opened", "feature", "master", "fedcba", "bob")
	assert.Equal(conveyor.EventPullRequest, ev.Kind)
	assert.Equal(42, ev.PRNumber)
	assert.Equal("feature", ev.Branch)
	assert.Equal("master", ev.BaseBranch)
	assert.Equal("fedcba", ev.Revision)
	assert.Equal("fedcba", ev.ShortRevision())

	assert.Equal("pull request #42 (opened) on acme/widgets", ev.String())
}

func TestCronEvent(t *testing.T) {
	assert := assert.New(t)

	ev := NewCron("nightly", "0 2 * * *")
	assert.Equal(conveyor.EventCron, ev.Kind)
	assert.Equal("0 2 * * *", ev.Schedule)
	assert.Equal(conveyor.AppName, ev.Sender)
	assert.Contains(ev.ID, "cron-nightly-")

	assert.Equal("scheduled run (0 2 * * *)", ev.String())
}

func TestManualEvent(t *testing.T) {
	assert := assert.New(t)

	ev := NewManual("carol")
	assert.Equal(conveyor.EventManual, ev.Kind)
	assert.Equal("carol", ev.Sender)
	assert.Equal("manual event", ev.String())

	ev = NewManual("")
	assert.Equal(conveyor.AppName, ev.Sender)
}
