package operations

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/model"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	yaml "gopkg.in/yaml.v2"
)

func Evaluate() cli.Command {
	const jobsFlagName = "jobs"

	return cli.Command{
		Name:  "evaluate",
		Usage: "print the given pipeline definition in its fully translated form",
		Flags: addPathFlag(
			cli.BoolFlag{
				Name:  jobsFlagName,
				Usage: "only show job definitions",
			},
		),
		Before: mergeBeforeFuncs(setPlainLogger, requirePathFlag),
		Action: func(c *cli.Context) error {
			path := c.String(pathFlagName)

			pipeline, err := loadLocalPipeline(path)
			if err != nil {
				return err
			}

			var out interface{} = pipeline
			if c.Bool(jobsFlagName) {
				out = struct {
					Jobs []model.Job `yaml:"jobs"`
				}{Jobs: pipeline.Jobs}
			}

			outYAML, err := yaml.Marshal(out)
			if err != nil {
				return errors.Wrap(err, "marshalling evaluated pipeline YAML")
			}

			fmt.Println(string(outYAML))
			return nil
		},
	}
}
