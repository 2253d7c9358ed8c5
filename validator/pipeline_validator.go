package validator

import (
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/conveyor-ci/conveyor/agent/command"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/util"
	"github.com/dominikbraun/graph"
	"github.com/google/shlex"
	"github.com/robfig/cron"
)

type pipelineValidator func(*model.Pipeline) []ValidationError

type ValidationErrorLevel int64

const (
	Error ValidationErrorLevel = iota
	Warning
)

func (l ValidationErrorLevel) String() string {
	switch l {
	case Error:
		return "error"
	case Warning:
		return "warning"
	}
	return "unknown"
}

type ValidationError struct {
	Level   ValidationErrorLevel `json:"level"`
	Message string               `json:"message"`
}

func (vr ValidationError) Error() string {
	return vr.Message
}

// Functions used to validate the syntax of a pipeline configuration file.
// Any validation errors here are fatal and the pipeline will not run.
var pipelineSyntaxValidators = []pipelineValidator{
	ensureHasNecessaryFields,
	validateJobNames,
	validateStepCommands,
	checkDependencyGraph,
	validateTriggers,
	validateEnvVars,
}

// Functions used to validate the semantics of a pipeline configuration
// file against the machine it will run on.
var pipelineSemanticValidators = []pipelineValidator{
	checkStepBinaries,
	checkJobsHaveCheckout,
}

// verify that the pipeline configuration syntax is valid
func CheckPipelineSyntax(pipeline *model.Pipeline) []ValidationError {
	validationErrs := []ValidationError{}
	for _, pipelineSyntaxValidator := range pipelineSyntaxValidators {
		validationErrs = append(validationErrs,
			pipelineSyntaxValidator(pipeline)...)
	}
	return validationErrs
}

// verify that the pipeline configuration semantics are valid on this host
func CheckPipelineSemantics(pipeline *model.Pipeline) []ValidationError {
	validationErrs := []ValidationError{}
	for _, pipelineSemanticValidator := range pipelineSemanticValidators {
		validationErrs = append(validationErrs,
			pipelineSemanticValidator(pipeline)...)
	}
	return validationErrs
}

// CheckRunnerLabels compares each job's runs_on label against the labels
// this installation actually serves. An empty label list skips the check.
func CheckRunnerLabels(pipeline *model.Pipeline, labels []string) []ValidationError {
	if len(labels) == 0 {
		return nil
	}
	errs := []ValidationError{}
	for _, job := range pipeline.Jobs {
		if job.RunsOn == "" {
			continue
		}
		if !util.StringSliceContains(labels, job.RunsOn) {
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("job '%v' in pipeline '%v' wants "+
						"runner '%v' which is not configured",
						job.Name, pipeline.Name, job.RunsOn),
					Level: Warning,
				},
			)
		}
	}
	return errs
}

// ensure that the pipeline has all the fields it cannot run without
func ensureHasNecessaryFields(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	if pipeline.Name == "" {
		errs = append(errs,
			ValidationError{
				Message: "pipeline must specify a name",
			},
		)
	}
	if len(pipeline.Jobs) == 0 {
		errs = append(errs,
			ValidationError{
				Message: fmt.Sprintf("pipeline '%v' must define at least "+
					"one job", pipeline.Name),
			},
		)
	}
	if pipeline.TimeoutSecs < 0 {
		errs = append(errs,
			ValidationError{
				Message: fmt.Sprintf("pipeline '%v' specifies a negative "+
					"timeout", pipeline.Name),
			},
		)
	}
	for _, job := range pipeline.Jobs {
		if job.TimeoutSecs < 0 {
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("job '%v' in pipeline '%v' "+
						"specifies a negative timeout",
						job.Name, pipeline.Name),
				},
			)
		}
		for _, step := range job.Steps {
			if step.TimeoutSecs < 0 {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("step '%v' in job '%v' "+
							"specifies a negative timeout",
							step.GetDisplayName(), job.Name),
					},
				)
			}
		}
	}
	return errs
}

// ensure that no job name is used more than once
func validateJobNames(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	seen := map[string]bool{}
	for _, job := range pipeline.Jobs {
		if seen[job.Name] {
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("job '%v' in pipeline '%v' is "+
						"listed more than once", job.Name, pipeline.Name),
				},
			)
		}
		seen[job.Name] = true
	}
	return errs
}

// ensure that every step names a registered command and that its
// parameters decode into that command
func validateStepCommands(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	for _, job := range pipeline.Jobs {
		for i, step := range job.Steps {
			block := command.BlockInfo{CmdNum: i + 1, TotalCmds: len(job.Steps)}
			if _, err := command.Render(step, block); err != nil {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("job '%v' in pipeline '%v' has "+
							"an invalid step: %v", job.Name, pipeline.Name, err),
					},
				)
			}
		}
	}
	for _, blockSet := range []struct {
		name  command.BlockType
		steps *model.CommandSet
	}{
		{command.PreBlock, pipeline.Pre},
		{command.PostBlock, pipeline.Post},
	} {
		steps := blockSet.steps.List()
		for i, step := range steps {
			block := command.BlockInfo{Block: blockSet.name, CmdNum: i + 1, TotalCmds: len(steps)}
			if _, err := command.Render(step, block); err != nil {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("the '%v' block in pipeline '%v' "+
							"has an invalid step: %v", blockSet.name, pipeline.Name, err),
					},
				)
			}
		}
	}
	return errs
}

// Makes sure that the dependencies between the jobs in the pipeline form a
// valid graph: every reference resolves, no job depends on itself, and no
// chain of dependencies loops back around.
func checkDependencyGraph(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, job := range pipeline.Jobs {
		// duplicate names are reported by validateJobNames
		_ = g.AddVertex(job.Name)
	}

	for _, job := range pipeline.Jobs {
		for _, dep := range job.DependsOn {
			if dep == job.Name {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("job '%v' in pipeline '%v' "+
							"cannot depend on itself", job.Name, pipeline.Name),
					},
				)
				continue
			}
			if pipeline.FindJob(dep) == nil {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("job '%v' in pipeline '%v' "+
							"depends on undefined job '%v'",
							job.Name, pipeline.Name, dep),
					},
				)
				continue
			}
			err := g.AddEdge(dep, job.Name)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("dependencies of job '%v' in "+
							"pipeline '%v' form a cycle",
							job.Name, pipeline.Name),
					},
				)
			default:
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("could not record dependency of "+
							"job '%v' on '%v': %v", job.Name, dep, err),
					},
				)
			}
		}
	}
	return errs
}

// ensure that branch patterns and cron schedules in the trigger set parse
func validateTriggers(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	if pipeline.Triggers.Push != nil {
		for _, branch := range pipeline.Triggers.Push.Branches {
			if branch == "" {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("pipeline '%v' has an empty "+
							"branch pattern on its push trigger", pipeline.Name),
					},
				)
				continue
			}
			if _, err := path.Match(branch, ""); err != nil {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("pipeline '%v' has an invalid "+
							"branch pattern '%v': %v", pipeline.Name, branch, err),
					},
				)
			}
		}
	}
	for _, schedule := range pipeline.Triggers.Schedules {
		if _, err := cron.ParseStandard(schedule); err != nil {
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("pipeline '%v' has an invalid "+
						"schedule '%v': %v", pipeline.Name, schedule, err),
				},
			)
		}
	}
	if pipeline.Triggers.Push == nil && pipeline.Triggers.PullRequest == nil &&
		len(pipeline.Triggers.Schedules) == 0 {
		errs = append(errs,
			ValidationError{
				Message: fmt.Sprintf("pipeline '%v' does not declare any "+
					"triggers and will only run manually", pipeline.Name),
				Level: Warning,
			},
		)
	}
	return errs
}

// ensure that environment variable names can actually be exported
func validateEnvVars(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	checkEnv := func(owner string, env map[string]string) {
		for key := range env {
			if key == "" || strings.ContainsAny(key, "= \t") {
				errs = append(errs,
					ValidationError{
						Message: fmt.Sprintf("%v declares an invalid "+
							"environment variable name '%v'", owner, key),
					},
				)
			}
		}
	}
	checkEnv(fmt.Sprintf("pipeline '%v'", pipeline.Name), pipeline.Env)
	for _, job := range pipeline.Jobs {
		checkEnv(fmt.Sprintf("job '%v' in pipeline '%v'", job.Name, pipeline.Name), job.Env)
		for _, step := range job.Steps {
			checkEnv(fmt.Sprintf("step '%v' in job '%v'", step.GetDisplayName(), job.Name), step.Vars)
		}
	}
	return errs
}

// ensure that the program behind every step can be found on the local PATH
func checkStepBinaries(pipeline *model.Pipeline) []ValidationError {
	errs := []ValidationError{}
	errs = append(errs, lookupStepBinaries(pipeline, "", pipeline.Pre.List())...)
	for _, job := range pipeline.Jobs {
		errs = append(errs, lookupStepBinaries(pipeline, job.Name, job.Steps)...)
	}
	errs = append(errs, lookupStepBinaries(pipeline, "", pipeline.Post.List())...)
	return errs
}

func lookupStepBinaries(pipeline *model.Pipeline, jobName string, steps []model.StepConf) []ValidationError {
	errs := []ValidationError{}
	checked := map[string]bool{}
	for _, step := range steps {
		binary := stepBinary(step)
		if binary == "" || util.IsExpandable(binary) || checked[binary] {
			continue
		}
		checked[binary] = true
		if _, err := exec.LookPath(binary); err != nil {
			owner := fmt.Sprintf("pipeline '%v'", pipeline.Name)
			if jobName != "" {
				owner = fmt.Sprintf("job '%v' in pipeline '%v'", jobName, pipeline.Name)
			}
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("%v calls '%v' which is not "+
						"available in PATH", owner, binary),
				},
			)
		}
	}
	return errs
}

// stepBinary pulls the program a step will invoke out of its parameters.
// Any step whose program cannot be determined statically returns "".
func stepBinary(step model.StepConf) string {
	switch step.Command {
	case model.RunCommandName:
		if binary, ok := step.Params["binary"].(string); ok && binary != "" {
			return binary
		}
		if cmdString, ok := step.Params["command"].(string); ok && cmdString != "" {
			if args, err := shlex.Split(cmdString); err == nil && len(args) > 0 {
				return args[0]
			}
		}
	case "shell.exec":
		if shell, ok := step.Params["shell"].(string); ok && shell != "" {
			return shell
		}
		return "sh"
	case "git.checkout":
		return "git"
	}
	return ""
}

// warn about jobs that never check the repository out even though the
// pipeline is triggered by repository events
func checkJobsHaveCheckout(pipeline *model.Pipeline) []ValidationError {
	if pipeline.Triggers.Push == nil && pipeline.Triggers.PullRequest == nil {
		return nil
	}
	errs := []ValidationError{}
	for _, job := range pipeline.Jobs {
		hasCheckout := false
		for _, step := range job.Steps {
			if step.Command == "git.checkout" {
				hasCheckout = true
				break
			}
		}
		if !hasCheckout {
			errs = append(errs,
				ValidationError{
					Message: fmt.Sprintf("job '%v' in pipeline '%v' has no "+
						"git.checkout step, so the repository will not be "+
						"available to it", job.Name, pipeline.Name),
					Level: Warning,
				},
			)
		}
	}
	return errs
}
