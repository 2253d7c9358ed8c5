package command

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conveyor-ci/conveyor/util"
	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/jasper"
	"github.com/mongodb/jasper/options"
	"github.com/pkg/errors"
)

// Environment markers set on every step process so stray children can
// be traced back to the run that started them.
const (
	MarkerRunID    = "CONVEYOR_RUN_ID"
	MarkerAgentPID = "CONVEYOR_AGENT_PID"
)

type subprocessExec struct {
	Binary  string            `mapstructure:"binary"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Command string            `mapstructure:"command"`
	Path    []string          `mapstructure:"add_to_path"`

	// Add defined expansions to the environment of the process
	// that's launched.
	AddExpansionsToEnv bool `mapstructure:"add_expansions_to_env"`

	// IncludeExpansionsInEnv allows users to specify a number of
	// expansions that will be included in the environment, if
	// they are defined. It is not an error to specify expansions
	// that are not defined in include_expansions_in_env.
	IncludeExpansionsInEnv []string `mapstructure:"include_expansions_in_env"`

	// Background, if set to true, prevents the step from waiting for
	// the process to complete and immediately returns to the caller.
	Background bool `mapstructure:"background"`

	// Silent, if set to true, prevents the process's output from being
	// logged to the job's logs. This can be used to avoid exposing
	// sensitive expansion parameters and keys.
	Silent bool `mapstructure:"silent"`

	// SystemLog if set will write the process's output to the system
	// logs, instead of the job logs. This can be used to collect
	// diagnostic data in the background of a running job.
	SystemLog bool `mapstructure:"system_log"`

	// WorkingDir is the working directory to start the process in.
	WorkingDir string `mapstructure:"working_dir"`

	// IgnoreStandardOutput and IgnoreStandardError allow users to
	// elect to ignore either standard out and/or standard output.
	IgnoreStandardOutput bool `mapstructure:"ignore_standard_out"`
	IgnoreStandardError  bool `mapstructure:"ignore_standard_error"`

	// RedirectStandardErrorToOutput allows you to capture
	// standard error in the same stream as standard output. This
	// improves the synchronization of these streams.
	RedirectStandardErrorToOutput bool `mapstructure:"redirect_standard_error_to_output"`

	// KeepEmptyArgs will allow empty arguments in commands if set to true
	// note that non-blank whitespace arguments are never stripped
	KeepEmptyArgs bool `mapstructure:"keep_empty_args"`

	// features holds the step's opaque feature strings, appended
	// verbatim after the arguments.
	features []string

	base
}

func subprocessExecFactory() Command   { return &subprocessExec{} }
func (c *subprocessExec) Name() string { return "subprocess.exec" }

func (c *subprocessExec) setFeatureArgs(features []string) { c.features = features }

func (c *subprocessExec) ParseParams(params map[string]interface{}) error {
	err := mapstructure.Decode(params, c)
	if err != nil {
		return errors.Wrapf(err, "error decoding %s params", c.Name())
	}

	if c.Command != "" {
		if c.Binary != "" || len(c.Args) > 0 {
			return errors.New("must specify command as either arguments or a command string but not both")
		}

		args, err := shlex.Split(c.Command)
		if err != nil {
			return errors.Wrapf(err, "problem parsing %s command", c.Name())
		}
		if len(args) == 0 {
			return errors.Errorf("no arguments for command %s", c.Name())
		}

		c.Binary = args[0]
		if len(args) > 1 {
			c.Args = args[1:]
		}
	}

	if c.Binary == "" {
		return errors.Errorf("must specify a binary or command string for %s", c.Name())
	}

	if c.Silent {
		c.IgnoreStandardError = true
		c.IgnoreStandardOutput = true
	}

	if c.IgnoreStandardOutput && c.RedirectStandardErrorToOutput {
		return errors.New("cannot ignore standard out, and redirect standard error to it")
	}

	if c.Env == nil {
		c.Env = make(map[string]string)
	}

	return nil
}

func (c *subprocessExec) doExpansions(exp *util.Expansions) error {
	var err error
	catcher := grip.NewBasicCatcher()

	c.WorkingDir, err = exp.ExpandString(c.WorkingDir)
	catcher.Add(err)

	c.Binary, err = exp.ExpandString(c.Binary)
	catcher.Add(err)

	for idx := range c.Args {
		c.Args[idx], err = exp.ExpandString(c.Args[idx])
		catcher.Add(err)
	}

	for idx := range c.features {
		c.features[idx], err = exp.ExpandString(c.features[idx])
		catcher.Add(err)
	}

	for k, v := range c.Env {
		c.Env[k], err = exp.ExpandString(v)
		catcher.Add(err)
	}

	if len(c.Path) > 0 {
		path := make([]string, len(c.Path), len(c.Path)+1)
		for idx := range c.Path {
			path[idx], err = exp.ExpandString(c.Path[idx])
			catcher.Add(err)
		}
		path = append(path, os.Getenv("PATH"))

		c.Env["PATH"] = strings.Join(path, string(filepath.ListSeparator))
	}

	return errors.Wrap(catcher.Resolve(), "problem expanding strings")
}

type modifyEnvOptions struct {
	runID                  string
	workingDir             string
	tmpDir                 string
	expansions             util.Expansions
	includeExpansionsInEnv []string
	addExpansionsToEnv     bool
}

func defaultAndApplyExpansionsToEnv(env map[string]string, opts modifyEnvOptions) map[string]string {
	if env == nil {
		env = map[string]string{}
	}

	expansions := opts.expansions.Map()
	if opts.addExpansionsToEnv {
		for k, v := range expansions {
			env[k] = v
		}
	}

	for _, expName := range opts.includeExpansionsInEnv {
		if val, ok := expansions[expName]; ok {
			env[expName] = val
		}
	}

	env[MarkerRunID] = opts.runID
	env[MarkerAgentPID] = strconv.Itoa(os.Getpid())

	addTempDirs(env, opts.tmpDir)

	if _, ok := env["CI"]; !ok {
		env["CI"] = "true"
	}

	return env
}

func addTempDirs(env map[string]string, dir string) {
	if dir == "" {
		return
	}
	for _, key := range []string{"TMP", "TMPDIR", "TEMP"} {
		if _, ok := env[key]; ok {
			continue
		}
		env[key] = dir
	}
}

func (c *subprocessExec) getProc(ctx context.Context, runID string, logger LoggerProducer) *jasper.Command {
	cmd := c.JasperManager().CreateCommand(ctx).Add(append(append([]string{c.Binary}, c.Args...), c.features...)).
		Background(c.Background).Environment(c.Env).Directory(c.WorkingDir).
		SuppressStandardError(c.IgnoreStandardError).SuppressStandardOutput(c.IgnoreStandardOutput).RedirectErrorToOutput(c.RedirectStandardErrorToOutput).
		ProcConstructor(func(lctx context.Context, opts *options.Create) (jasper.Process, error) {
			var cancel context.CancelFunc
			var ictx context.Context
			if c.Background {
				ictx, cancel = context.WithCancel(context.Background())
			} else {
				ictx = lctx
			}

			proc, err := c.JasperManager().CreateProcess(ictx, opts)
			if err != nil {
				if cancel != nil {
					cancel()
				}

				return proc, errors.WithStack(err)
			}

			if cancel != nil {
				grip.Warning(message.WrapError(proc.RegisterTrigger(lctx, func(info jasper.ProcessInfo) {
					cancel()
				}), "problem registering cancellation for process"))
			}

			pid := proc.Info(ctx).PID

			if c.Background {
				logger.Execution().Debugf("running command in the background [pid=%d]", pid)
			} else {
				logger.Execution().Infof("started process with pid '%d'", pid)
			}

			return proc, nil
		})

	if !c.IgnoreStandardOutput {
		if c.SystemLog {
			cmd.SetOutputSender(level.Info, logger.System().GetSender())
		} else {
			cmd.SetOutputSender(level.Info, logger.Task().GetSender())
		}
	}

	if !c.IgnoreStandardError {
		if c.SystemLog {
			cmd.SetErrorSender(level.Error, logger.System().GetSender())
		} else {
			cmd.SetErrorSender(level.Error, logger.Task().GetSender())
		}
	}

	return cmd
}

func (c *subprocessExec) Execute(ctx context.Context, logger LoggerProducer, conf *JobContext) error {
	var err error

	if err = c.doExpansions(conf.Expansions); err != nil {
		logger.Execution().Error("problem expanding command values")
		return errors.WithStack(err)
	}

	logger.Execution().WarningWhen(
		filepath.IsAbs(c.WorkingDir) && !strings.HasPrefix(c.WorkingDir, conf.WorkDir),
		message.Fields{
			"message":         "the working directory is an absolute path without the required prefix",
			"path":            c.WorkingDir,
			"required_prefix": conf.WorkDir,
		})
	c.WorkingDir, err = conf.GetWorkingDirectory(c.WorkingDir)
	if err != nil {
		logger.Execution().Warning(err.Error())
		return errors.WithStack(err)
	}

	jobTmpDir, err := conf.GetWorkingDirectory("tmp")
	if err != nil {
		logger.Execution().Notice(err.Error())
		jobTmpDir = ""
	}

	// the job's environment comes first so that the step's own env
	// wins on conflicts
	env := map[string]string{}
	for k, v := range conf.Env {
		env[k] = v
	}
	for k, v := range c.Env {
		env[k] = v
	}
	c.Env = env

	var exp util.Expansions
	if conf.Expansions != nil {
		exp = *conf.Expansions
	}
	c.Env = defaultAndApplyExpansionsToEnv(c.Env, modifyEnvOptions{
		runID:                  conf.RunID,
		workingDir:             c.WorkingDir,
		tmpDir:                 jobTmpDir,
		expansions:             exp,
		includeExpansionsInEnv: c.IncludeExpansionsInEnv,
		addExpansionsToEnv:     c.AddExpansionsToEnv,
	})

	if !c.KeepEmptyArgs {
		for i := len(c.Args) - 1; i >= 0; i-- {
			if c.Args[i] == "" {
				c.Args = append(c.Args[:i], c.Args[i+1:]...)
			}
		}
	}

	logger.Execution().Debug(message.Fields{
		"working_directory": c.WorkingDir,
		"background":        c.Background,
		"binary":            c.Binary,
	})

	err = errors.WithStack(c.runCommand(ctx, c.getProc(ctx, conf.RunID, logger), logger))

	if ctx.Err() != nil {
		logger.System().Debug("dumping running processes")
		logger.System().Debug(message.CollectAllProcesses())
		logger.Execution().Notice(err)

		return errors.Errorf("%s aborted", c.Name())
	}

	return err
}

func (c *subprocessExec) runCommand(ctx context.Context, cmd *jasper.Command, logger LoggerProducer) error {
	if c.Silent {
		logger.Execution().Info("executing command in silent mode")
	}

	return cmd.Run(ctx)
}
