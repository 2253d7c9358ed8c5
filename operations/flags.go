package operations

import (
	"strings"

	"github.com/urfave/cli"
)

// Flag names shared by more than one command. Flags that only one
// command understands are declared inside that command.
const (
	confFlagName    = "conf"
	pathFlagName    = "path"
	jobFlagName     = "job"
	varFlagName     = "var"
	workdirFlagName = "workdir"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func addPathFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(pathFlagName, "filename", "file", "f"),
		Usage: "path to a pipeline definition file",
	})
}

func addJobFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringSliceFlag{
		Name:  joinFlagNames(jobFlagName, "j"),
		Usage: "restrict the run to the named job; may be specified multiple times",
	})
}

func addVarFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringSliceFlag{
		Name:  varFlagName,
		Usage: "set an expansion as a KEY=VALUE pair; may be specified multiple times",
	})
}

func serviceConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(confFlagName, "config", "c"),
		Usage: "path to the service configuration file",
	})
}

// settingsPath resolves the configuration path from the command's own
// flag, falling back to the application-level one.
func settingsPath(c *cli.Context) string {
	if path := c.String(confFlagName); path != "" {
		return path
	}
	if parent := c.Parent(); parent != nil {
		return parent.String(confFlagName)
	}
	return ""
}
