package conveyor

import (
	"os"
	"time"

	"github.com/mongodb/grip"
	homedir "github.com/mitchellh/go-homedir"
)

// Run, job, and step statuses. A run mirrors the worst status of its
// jobs; a job mirrors the first failing step.
const (
	StatusCreated   = "created"
	StatusStarted   = "started"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Event kinds that can trigger a pipeline.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
	EventCron        = "cron"
	EventManual      = "manual"
)

const (
	// AppName is the identity used for log senders, user agents, and
	// the GitHub commit status context prefix.
	AppName = "conveyor"

	// ClientVersion is the CLI/agent version reported by the version
	// command and sent in API user agents.
	ClientVersion = "2026-08-18"

	// DefaultSettingsFile is the service configuration path checked
	// when no --config flag is given; a per-user fallback under the
	// home directory is tried next.
	DefaultSettingsFile = "/etc/conveyor.yml"
	userSettingsFile    = ".conveyor.yml"

	// DefaultPipelineFile is the pipeline definition a repository is
	// expected to carry at its root.
	DefaultPipelineFile = "conveyor.yml"

	// LocalLoggingOverride sends job logs to the console instead of a
	// file when passed as the log prefix.
	LocalLoggingOverride = "LOCAL"

	// DefaultJobTimeout bounds a single job's steps end to end when a
	// definition does not set its own timeout.
	DefaultJobTimeout = 2 * time.Hour

	// DefaultStepTimeout bounds one step's process when the step does
	// not set its own.
	DefaultStepTimeout = 30 * time.Minute

	// MaxQueueSize bounds the number of pending job executions held by
	// the local queue before Put calls fail.
	MaxQueueSize = 1024

	// RunHistoryTTL is how long finished run records are retained
	// before the cleanup unit prunes them.
	RunHistoryTTL = 30 * 24 * time.Hour
)

// BuildRevision is the commit this binary was built from. It should be
// specified with -ldflags at build time.
var BuildRevision = ""

// IsFinishedStatus reports whether a status is terminal for a run, job,
// or step.
func IsFinishedStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// FindSettingsFile locates the service configuration, preferring an
// explicit path, then the system default, then the user's home
// directory.
func FindSettingsFile(path string) string {
	if path != "" {
		return path
	}

	if _, err := os.Stat(DefaultSettingsFile); err == nil {
		return DefaultSettingsFile
	}

	home, err := homedir.Dir()
	if err != nil {
		grip.Debugf("problem finding home directory: %v", err)
		return DefaultSettingsFile
	}

	return home + string(os.PathSeparator) + userSettingsFile
}
