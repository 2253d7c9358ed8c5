package operations

import (
	"github.com/conveyor-ci/conveyor"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var (
	// requirePathFlag resolves the pipeline definition path from the
	// flag, a bare positional argument, or the conventional file name,
	// in that order.
	requirePathFlag = func(c *cli.Context) error {
		path := c.String(pathFlagName)
		if path == "" && c.NArg() == 1 {
			path = c.Args().Get(0)
		}
		if path == "" {
			path = conveyor.DefaultPipelineFile
		}
		return c.Set(pathFlagName, path)
	}

	setPlainLogger = func(c *cli.Context) error {
		grip.Warning(grip.SetSender(send.MakePlainLogger()))
		return nil
	}
)

func requireOnlyOneBool(flags ...string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		set := []string{}
		for _, f := range flags {
			if c.Bool(f) {
				set = append(set, f)
			}
		}
		if len(set) != 1 {
			return errors.Errorf("must specify exactly one of the flags: %v", flags)
		}
		return nil
	}
}

func mergeBeforeFuncs(ops ...func(c *cli.Context) error) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()
		for _, op := range ops {
			catcher.Add(op(c))
		}
		return catcher.Resolve()
	}
}
