package operations

import (
	"context"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent"
	"github.com/conveyor-ci/conveyor/agent/command"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/conveyor-ci/conveyor/validator"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func Run() cli.Command {
	const logPrefixFlagName = "log_prefix"

	return cli.Command{
		Name:  "run",
		Usage: "run a pipeline from a local definition file in an existing checkout",
		Flags: serviceConfigFlags(addPathFlag(addJobFlag(addVarFlag(
			cli.StringFlag{
				Name:  joinFlagNames(workdirFlagName, "w"),
				Value: ".",
				Usage: "directory to run the jobs in",
			},
			cli.StringFlag{
				Name:  logPrefixFlagName,
				Value: conveyor.LocalLoggingOverride,
				Usage: "prefix for the job log files, or LOCAL for console output",
			})...)...)...),
		Before: mergeBeforeFuncs(setPlainLogger, requirePathFlag),
		Action: func(c *cli.Context) error {
			path := c.String(pathFlagName)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go handleInterrupt(cancel)

			pipeline, err := loadLocalPipeline(path)
			if err != nil {
				return err
			}

			catcher := grip.NewBasicCatcher()
			issues := validator.CheckPipelineSyntax(pipeline)
			issues = append(issues, validator.CheckPipelineSemantics(pipeline)...)
			for _, issue := range issues {
				switch issue.Level {
				case validator.Error:
					catcher.Errorf("pipeline '%s': %s", pipeline.Name, issue.Message)
				case validator.Warning:
					grip.Warning(message.Fields{
						"message":  issue.Message,
						"pipeline": pipeline.Name,
					})
				}
			}
			if catcher.HasErrors() {
				return catcher.Resolve()
			}

			vars, err := parseVars(c.StringSlice(varFlagName))
			if err != nil {
				return err
			}

			workDir, err := filepath.Abs(c.String(workdirFlagName))
			if err != nil {
				return errors.Wrapf(err, "resolving working directory '%s'", c.String(workdirFlagName))
			}

			settings, err := localSettings(settingsPath(c))
			if err != nil {
				return err
			}

			env, err := conveyor.NewEnvironment(ctx, settings)
			if err != nil {
				return errors.Wrap(err, "configuring application environment")
			}
			conveyor.SetEnvironment(env)
			defer closeEnvironment(env)

			store := run.NewMemoryStore()
			runner, err := agent.New(ctx, env, store, agent.Options{
				WorkDir:   workDir,
				Jobs:      c.StringSlice(jobFlagName),
				Vars:      vars,
				LogPrefix: c.String(logPrefixFlagName),
				InPlace:   true,
			})
			if err != nil {
				return errors.Wrap(err, "setting up the runner")
			}

			grip.Info(message.Fields{
				"message":  "starting local run",
				"pipeline": pipeline.Name,
				"commands": command.RegisteredCommandNames(),
				"dir":      workDir,
			})

			rec, err := runner.RunPipeline(ctx, pipeline, event.NewManual(localUser()))
			if err != nil {
				return errors.Wrapf(err, "running pipeline '%s'", pipeline.Name)
			}

			printRunSummary(rec)
			if rec.Status != conveyor.StatusSucceeded {
				return errors.Errorf("run finished %s", rec.Status)
			}
			return nil
		},
	}
}

// localSettings builds settings for a one-shot run. The database is
// always disabled so local runs stay out of the shared run history.
func localSettings(confPath string) (*conveyor.Settings, error) {
	settings := &conveyor.Settings{}
	if confPath != "" {
		var err error
		if settings, err = conveyor.NewSettings(confPath); err != nil {
			return nil, errors.Wrap(err, "loading settings")
		}
	}
	settings.Database = conveyor.DBSettings{}
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	return settings, nil
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := map[string]string{}
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.Errorf("malformed variable '%s', expected a KEY=VALUE pair", pair)
		}
		vars[parts[0]] = parts[1]
	}
	return vars, nil
}

func localUser() string {
	if usr, err := user.Current(); err == nil && usr.Username != "" {
		return usr.Username
	}
	return "local"
}

func printRunSummary(rec *run.Run) {
	fmt.Printf("\nRun %s finished %s in %s.\n", rec.ID, rec.Status, rec.Duration().Round(time.Millisecond))
	t := tabby.New()
	t.AddHeader("Job", "Status", "Duration", "Failed Step")
	for _, jr := range rec.Jobs {
		duration := "-"
		if !jr.StartedAt.IsZero() && !jr.FinishedAt.IsZero() {
			duration = jr.FinishedAt.Sub(jr.StartedAt).Round(time.Millisecond).String()
		}
		t.AddLine(jr.Name, jr.Status, duration, jr.FailingStep)
	}
	t.Print()
}
