package operations

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/validator"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func Validate() cli.Command {
	const labelFlagName = "label"

	return cli.Command{
		Name:  "validate",
		Usage: "verify that a pipeline definition is well formed and can run on this host",
		Flags: addPathFlag(
			cli.StringSliceFlag{
				Name:  labelFlagName,
				Usage: "check jobs' runs_on against the named runner label; may be specified multiple times",
			},
		),
		Before: mergeBeforeFuncs(setPlainLogger, requirePathFlag),
		Action: func(c *cli.Context) error {
			path := c.String(pathFlagName)

			pipeline, err := loadLocalPipeline(path)
			if err != nil {
				return err
			}

			issues := validator.CheckPipelineSyntax(pipeline)
			issues = append(issues, validator.CheckPipelineSemantics(pipeline)...)
			issues = append(issues, validator.CheckRunnerLabels(pipeline, c.StringSlice(labelFlagName))...)

			numErrors, numWarnings := 0, 0
			if len(issues) > 0 {
				for i, issue := range issues {
					if issue.Level == validator.Warning {
						numWarnings++
					} else if issue.Level == validator.Error {
						numErrors++
					}
					fmt.Printf("%v) %v: %v\n\n", i+1, issue.Level, issue.Message)
				}

				return errors.Errorf("Pipeline file has %d warnings, %d errors.", numWarnings, numErrors)
			}
			fmt.Println("Valid!")
			return nil
		},
	}
}
