package operations

import (
	"fmt"

	"github.com/conveyor-ci/conveyor"
	"github.com/urfave/cli"
)

func Version() cli.Command {
	return cli.Command{
		Name:  "version",
		Usage: "print the client version and build revision",
		Action: func(c *cli.Context) error {
			fmt.Printf("%s version %s", conveyor.AppName, conveyor.ClientVersion)
			if conveyor.BuildRevision != "" {
				fmt.Printf(" (%s)", conveyor.BuildRevision)
			}
			fmt.Println()
			return nil
		},
	}
}
