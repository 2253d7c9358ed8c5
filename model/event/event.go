package event

import (
	"fmt"
	"time"

	"github.com/conveyor-ci/conveyor"
)

// Event describes a single occurrence that can trigger pipeline runs:
// a push, a pull request action, a cron schedule firing, or a manual
// request from the CLI or API.
type Event struct {
	ID         string    `bson:"_id" json:"id"`
	Kind       string    `bson:"kind" json:"kind"`
	Repo       string    `bson:"repo,omitempty" json:"repo,omitempty"`
	Branch     string    `bson:"branch,omitempty" json:"branch,omitempty"`
	Revision   string    `bson:"revision,omitempty" json:"revision,omitempty"`
	PRNumber   int       `bson:"pr_number,omitempty" json:"pr_number,omitempty"`
	BaseBranch string    `bson:"base_branch,omitempty" json:"base_branch,omitempty"`
	Action     string    `bson:"action,omitempty" json:"action,omitempty"`
	Schedule   string    `bson:"schedule,omitempty" json:"schedule,omitempty"`
	Sender     string    `bson:"sender,omitempty" json:"sender,omitempty"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

// NewPush returns a push event for a branch head. The branch is the
// short ref name, not the full refs/heads path.
func NewPush(deliveryID, repo, branch, revision, sender string) Event {
	return Event{
		ID:        deliveryID,
		Kind:      conveyor.EventPush,
		Repo:      repo,
		Branch:    branch,
		Revision:  revision,
		Sender:    sender,
		Timestamp: time.Now(),
	}
}

// NewPullRequest returns an event for a pull request action. The
// branch is the PR's head branch and the revision its head SHA.
func NewPullRequest(deliveryID, repo string, prNumber int, action, headBranch, baseBranch, revision, sender string) Event {
	return Event{
		ID:         deliveryID,
		Kind:       conveyor.EventPullRequest,
		Repo:       repo,
		Branch:     headBranch,
		BaseBranch: baseBranch,
		Revision:   revision,
		PRNumber:   prNumber,
		Action:     action,
		Sender:     sender,
		Timestamp:  time.Now(),
	}
}

// NewCron returns an event for a schedule entry firing.
func NewCron(pipelineName, schedule string) Event {
	now := time.Now()
	return Event{
		ID:        fmt.Sprintf("cron-%s-%d", pipelineName, now.Unix()),
		Kind:      conveyor.EventCron,
		Schedule:  schedule,
		Sender:    conveyor.AppName,
		Timestamp: now,
	}
}

// NewManual returns an event for a run requested directly by a user.
func NewManual(sender string) Event {
	now := time.Now()
	if sender == "" {
		sender = conveyor.AppName
	}
	return Event{
		ID:        fmt.Sprintf("manual-%d", now.UnixNano()),
		Kind:      conveyor.EventManual,
		Sender:    sender,
		Timestamp: now,
	}
}

// ShortRevision returns an abbreviated revision for display.
func (e *Event) ShortRevision() string {
	if len(e.Revision) > 10 {
		return e.Revision[:10]
	}
	return e.Revision
}

// String renders the event for log lines.
func (e *Event) String() string {
	switch e.Kind {
	case conveyor.EventPush:
		return fmt.Sprintf("push of %s to %s on %s", e.ShortRevision(), e.Branch, e.Repo)
	case conveyor.EventPullRequest:
		return fmt.Sprintf("pull request #%d (%s) on %s", e.PRNumber, e.Action, e.Repo)
	case conveyor.EventCron:
		if e.Schedule != "" {
			return fmt.Sprintf("scheduled run (%s)", e.Schedule)
		}
		return "scheduled run"
	default:
		return fmt.Sprintf("%s event", e.Kind)
	}
}
