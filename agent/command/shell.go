package command

import (
	"context"

	"github.com/conveyor-ci/conveyor/util"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
)

// shellExec runs a script through a shell on the job's runner.
type shellExec struct {
	// Script is the shell code to be run.
	Script string `mapstructure:"script" plugin:"expand"`

	// Shell describes the shell to execute the script contents
	// with. Defaults to "sh", but users can customize to
	// explicitly specify another shell.
	Shell string `mapstructure:"shell" plugin:"expand"`

	// Env is the step's extra environment, layered over the job's.
	Env map[string]string `mapstructure:"env" plugin:"expand"`

	// WorkingDir is the working directory to start the shell in.
	WorkingDir string `mapstructure:"working_dir" plugin:"expand"`

	// Silent, if set to true, prevents the script's output from being
	// logged to the job's logs.
	Silent bool `mapstructure:"silent"`

	// SystemLog if set will write the script's output to the system
	// logs, instead of the job logs.
	SystemLog bool `mapstructure:"system_log"`

	// IgnoreStandardOutput and IgnoreStandardError allow users to
	// elect to ignore either standard out and/or standard output.
	IgnoreStandardOutput bool `mapstructure:"ignore_standard_out"`
	IgnoreStandardError  bool `mapstructure:"ignore_standard_error"`

	// RedirectStandardErrorToOutput allows you to capture
	// standard error in the same stream as standard output.
	RedirectStandardErrorToOutput bool `mapstructure:"redirect_standard_error_to_output"`

	base
}

func shellExecFactory() Command   { return &shellExec{} }
func (c *shellExec) Name() string { return "shell.exec" }

func (c *shellExec) ParseParams(params map[string]interface{}) error {
	if err := mapstructure.Decode(params, c); err != nil {
		return errors.Wrapf(err, "error decoding %s params", c.Name())
	}

	if c.Script == "" {
		return errors.Errorf("must specify a script for %s", c.Name())
	}

	if c.Shell == "" {
		c.Shell = "sh"
	}

	if c.Silent {
		c.IgnoreStandardError = true
		c.IgnoreStandardOutput = true
	}

	if c.IgnoreStandardOutput && c.RedirectStandardErrorToOutput {
		return errors.New("cannot ignore standard out, and redirect standard error to it")
	}

	return nil
}

func (c *shellExec) Execute(ctx context.Context, logger LoggerProducer, conf *JobContext) error {
	var err error

	if err = util.ExpandValues(c, conf.Expansions); err != nil {
		return errors.Wrap(err, "problem expanding shell script values")
	}

	c.WorkingDir, err = conf.GetWorkingDirectory(c.WorkingDir)
	if err != nil {
		logger.Execution().Warning(err.Error())
		return errors.WithStack(err)
	}

	env := map[string]string{}
	for k, v := range conf.Env {
		env[k] = v
	}
	for k, v := range c.Env {
		env[k] = v
	}

	var exp util.Expansions
	if conf.Expansions != nil {
		exp = *conf.Expansions
	}
	env = defaultAndApplyExpansionsToEnv(env, modifyEnvOptions{
		runID:      conf.RunID,
		workingDir: c.WorkingDir,
		expansions: exp,
	})

	if c.Silent {
		logger.Execution().Info("executing script in silent mode")
	}

	cmd := c.getProc(ctx, env, logger)

	err = cmd.Run(ctx)
	if ctx.Err() != nil {
		logger.Execution().Notice(err)
		return errors.Errorf("%s aborted", c.Name())
	}

	return errors.WithStack(err)
}

func (c *shellExec) getProc(ctx context.Context, env map[string]string, logger LoggerProducer) *jasper.Command {
	cmd := c.JasperManager().CreateCommand(ctx).Add([]string{c.Shell}).
		SetInputBytes([]byte(c.Script)).
		Environment(env).Directory(c.WorkingDir).
		SuppressStandardError(c.IgnoreStandardError).SuppressStandardOutput(c.IgnoreStandardOutput).
		RedirectErrorToOutput(c.RedirectStandardErrorToOutput)

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
