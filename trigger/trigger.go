package trigger

import (
	"path"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
)

// Matches reports whether ev should start a run of pipeline.
//
// Push events must land on a branch the push trigger covers. Pull request
// events match whenever the pull_request trigger is enabled, regardless of
// the action on the event. Cron events match any pipeline that declares
// schedules, and manual events match everything.
func Matches(pipeline *model.Pipeline, ev event.Event) bool {
	switch ev.Kind {
	case conveyor.EventManual:
		return true
	case conveyor.EventPush:
		if pipeline.Triggers.Push == nil {
			return false
		}
		return BranchMatches(pipeline.Triggers.Push.Branches, ev.Branch)
	case conveyor.EventPullRequest:
		return pipeline.Triggers.PullRequest != nil
	case conveyor.EventCron:
		return len(pipeline.Triggers.Schedules) > 0
	}
	return false
}

// BranchMatches reports whether branch is covered by patterns. An empty
// pattern list covers every branch. Patterns are compared literally first
// and then as path globs, so both "master" and "release-*" work.
func BranchMatches(patterns []string, branch string) bool {
	if len(patterns) == 0 {
		return true
	}
	if branch == "" {
		return false
	}
	for _, pattern := range patterns {
		if pattern == branch {
			return true
		}
		if matched, err := path.Match(pattern, branch); err == nil && matched {
			return true
		}
	}
	return false
}
