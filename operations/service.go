package operations

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/conveyor-ci/conveyor/service"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const closeTimeout = 30 * time.Second

func Service() cli.Command {
	return cli.Command{
		Name:  "service",
		Usage: "run the conveyor web service",
		Flags: serviceConfigFlags(),
		Before: mergeBeforeFuncs(func(c *cli.Context) error {
			grip.SetName("conveyor.service")
			return nil
		}),
		Action: func(c *cli.Context) error {
			confPath := conveyor.FindSettingsFile(settingsPath(c))

			settings, err := conveyor.NewSettings(confPath)
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}
			if err = settings.Validate(); err != nil {
				return errors.Wrap(err, "invalid settings")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go handleInterrupt(cancel)

			env, err := conveyor.NewEnvironment(ctx, settings)
			if err != nil {
				return errors.Wrap(err, "configuring application environment")
			}
			conveyor.SetEnvironment(env)
			defer recovery.LogStackTraceAndExit("conveyor service")
			defer closeEnvironment(env)

			var store run.Store
			if settings.HasDatabase() {
				store = run.NewMongoStore(env.DB())
			} else {
				store = run.NewMemoryStore()
				grip.Notice("no database is configured; run history will not survive restarts")
			}

			svc, err := service.New(ctx, env, store)
			if err != nil {
				return errors.Wrap(err, "constructing service")
			}

			grip.Notice(message.Fields{
				"build":   conveyor.BuildRevision,
				"process": grip.Name(),
				"conf":    confPath,
			})

			return errors.Wrap(svc.Start(ctx), "running service")
		},
	}
}

// handleInterrupt cancels the process context on SIGINT or SIGTERM so
// in-flight jobs abort and record themselves before exit.
func handleInterrupt(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 5)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	sig := <-sigChan
	grip.Noticef("terminating on signal '%s'", sig)
	cancel()
}

// closeEnvironment drains the queues on a fresh context, since the
// process context is usually already canceled by the time it runs.
func closeEnvironment(env conveyor.Environment) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	grip.Error(errors.Wrap(env.Close(ctx), "closing application environment"))
}
