package operations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheynewallace/tabby"
	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func List() cli.Command {
	const (
		jobsFlagName      = "jobs"
		pipelinesFlagName = "pipelines"
		triggersFlagName  = "triggers"
	)

	return cli.Command{
		Name:  "list",
		Usage: "display the jobs or triggers of a definition file or the pipelines the service watches",
		Flags: serviceConfigFlags(addPathFlag(
			cli.BoolFlag{
				Name:  jobsFlagName,
				Usage: "list all jobs defined in the specified file",
			},
			cli.BoolFlag{
				Name:  triggersFlagName,
				Usage: "list all triggers declared in the specified file",
			},
			cli.BoolFlag{
				Name:  pipelinesFlagName,
				Usage: "list all pipelines named by the service configuration",
			})...),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requirePathFlag,
			requireOnlyOneBool(jobsFlagName, triggersFlagName, pipelinesFlagName),
		),
		Action: func(c *cli.Context) error {
			switch {
			case c.Bool(jobsFlagName):
				return listJobs(c.String(pathFlagName))
			case c.Bool(triggersFlagName):
				return listTriggers(c.String(pathFlagName))
			case c.Bool(pipelinesFlagName):
				return listPipelines(settingsPath(c))
			}
			return errors.New("this code should not be reachable")
		},
	}
}

func listJobs(path string) error {
	pipeline, err := loadLocalPipeline(path)
	if err != nil {
		return err
	}

	fmt.Printf("%d jobs in pipeline '%s':\n", len(pipeline.Jobs), pipeline.Name)
	t := tabby.New()
	t.AddHeader("Name", "Runs On", "Steps", "Depends On")
	for _, job := range pipeline.Jobs {
		t.AddLine(job.Name, job.RunsOn, len(job.Steps), strings.Join(job.DependsOn, ", "))
	}
	t.Print()
	return nil
}

func listTriggers(path string) error {
	pipeline, err := loadLocalPipeline(path)
	if err != nil {
		return err
	}

	t := tabby.New()
	t.AddHeader("Trigger", "Matches")
	if push := pipeline.Triggers.Push; push != nil {
		branches := "any branch"
		if len(push.Branches) > 0 {
			branches = strings.Join(push.Branches, ", ")
		}
		t.AddLine("push", branches)
	}
	if pipeline.Triggers.PullRequest != nil {
		t.AddLine("pull_request", "all actions")
	}
	for _, schedule := range pipeline.Triggers.Schedules {
		t.AddLine("schedule", schedule)
	}
	t.Print()

	if pipeline.Triggers.Push == nil && pipeline.Triggers.PullRequest == nil &&
		len(pipeline.Triggers.Schedules) == 0 {
		fmt.Printf("pipeline '%s' declares no triggers and only runs manually\n", pipeline.Name)
	}
	return nil
}

func listPipelines(confPath string) error {
	settings, err := conveyor.NewSettings(conveyor.FindSettingsFile(confPath))
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}

	fmt.Printf("%d pipelines:\n", len(settings.Pipelines))
	t := tabby.New()
	t.AddHeader("Name", "File")
	for _, ref := range settings.Pipelines {
		name := ref.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(ref.File), filepath.Ext(ref.File))
		}
		t.AddLine(name, ref.File)
	}
	t.Print()
	return nil
}

func loadLocalPipeline(path string) (*model.Pipeline, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading pipeline definition")
	}

	identifier := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pipeline := &model.Pipeline{}
	if err = model.LoadPipelineInto(configBytes, identifier, pipeline); err != nil {
		return nil, errors.Wrap(err, "loading pipeline definition")
	}
	if pipeline.Name == "" {
		pipeline.Name = identifier
	}

	return pipeline, nil
}
