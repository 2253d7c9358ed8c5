package command

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/util"
	"github.com/mongodb/grip"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
)

// Command is an interface that defines a single step executed by the
// runner as part of a job.
type Command interface {
	// Name is the name of the command as registered and referenced in
	// pipeline definitions.
	Name() string

	// ParseParams reads in the command's parameters exactly as they
	// appear under the step's params key.
	ParseParams(params map[string]interface{}) error

	// Execute runs the command using the job's configuration. A
	// non-nil error fails the step.
	Execute(ctx context.Context, logger LoggerProducer, conf *JobContext) error

	// JasperManager returns the command's Jasper manager, used to
	// create any processes the command starts.
	JasperManager() jasper.Manager
	SetJasperManager(jasper.Manager)

	// FullDisplayName is the identifier for the command in log output
	// and results, e.g. "'cargo build' (step 2 of 5)".
	FullDisplayName() string
	SetFullDisplayName(string)
}

// LoggerProducer provides grip Journalers for the three log streams a
// step can write to: execution (runner bookkeeping), task (the step's
// own output), and system (host level diagnostics).
type LoggerProducer interface {
	Execution() grip.Journaler
	Task() grip.Journaler
	System() grip.Journaler
}

// JobContext carries everything a command needs to run as part of a
// job: the pipeline and job being executed, the event that triggered
// the run, the job's workspace, merged environment, and expansions.
type JobContext struct {
	RunID      string
	Pipeline   *model.Pipeline
	Job        *model.Job
	Event      event.Event
	WorkDir    string
	Env        map[string]string
	Expansions *util.Expansions
}

// GetWorkingDirectory joins dir to the job's workspace, rejecting
// paths that escape it. An empty dir means the workspace root.
func (c *JobContext) GetWorkingDirectory(dir string) (string, error) {
	if dir == "" {
		return c.WorkDir, nil
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.WorkDir, dir)
	}
	dir = filepath.Clean(dir)
	if dir != c.WorkDir && !strings.HasPrefix(dir, c.WorkDir+string(filepath.Separator)) {
		return "", errors.Errorf("working directory '%s' is outside of the workspace", dir)
	}
	return dir, nil
}

// BlockType indicates the block of the pipeline a command runs in.
type BlockType string

const (
	MainBlock BlockType = ""
	PreBlock  BlockType = "pre"
	PostBlock BlockType = "post"
)

// BlockInfo locates a command within its block for display names.
type BlockInfo struct {
	Block     BlockType
	CmdNum    int
	TotalCmds int
}
