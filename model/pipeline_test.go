package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineFinders(t *testing.T) {
	p := &Pipeline{
		Name: "example",
		Jobs: []Job{
			{Name: "build", Steps: []StepConf{{Command: "git.checkout"}}},
			{Name: "lint", DisplayName: "Lint & Format", Steps: []StepConf{{Command: RunCommandName}}},
		},
	}

	assert.Equal(t, []string{"build", "lint"}, p.JobNames())

	build := p.FindJob("build")
	require.NotNil(t, build)
	assert.Equal(t, "build", build.Name)
	assert.Equal(t, "build", build.GetDisplayName())
	assert.Equal(t, "Lint & Format", p.FindJob("lint").GetDisplayName())
	assert.Nil(t, p.FindJob("deploy"))

	assert.Equal(t, "example", p.GetDisplayName())
	p.DisplayName = "Example CI"
	assert.Equal(t, "Example CI", p.GetDisplayName())
}

func TestStepDisplayName(t *testing.T) {
	assert.Equal(t, "compile", StepConf{Name: "compile", Command: RunCommandName}.GetDisplayName())
	assert.Equal(t, "cargo build",
		StepConf{Command: RunCommandName, Params: map[string]interface{}{"command": "cargo build"}}.GetDisplayName())
	assert.Equal(t, "git.checkout", StepConf{Command: "git.checkout"}.GetDisplayName())
}

func TestStepLabel(t *testing.T) {
	j := &Job{Name: "build", Steps: []StepConf{
		{Command: "git.checkout"},
		{Command: RunCommandName, Params: map[string]interface{}{"command": "cargo build"}},
	}}

	assert.Equal(t, "'git.checkout' (step 1 of 2)", j.StepLabel(0))
	assert.Equal(t, "'cargo build' (step 2 of 2)", j.StepLabel(1))
	assert.Equal(t, "", j.StepLabel(2))
}

func TestCommandSetList(t *testing.T) {
	single := &CommandSet{SingleCommand: &StepConf{Command: "shell.exec"}}
	assert.Len(t, single.List(), 1)

	multi := &CommandSet{MultiCommand: []StepConf{{Command: "a"}, {Command: "b"}}}
	assert.Len(t, multi.List(), 2)

	assert.Empty(t, (&CommandSet{}).List())
}

func TestAllSteps(t *testing.T) {
	p := &Pipeline{
		Pre:  &CommandSet{SingleCommand: &StepConf{Command: "noop.announce"}},
		Post: &CommandSet{MultiCommand: []StepConf{{Command: "shell.exec"}}},
		Jobs: []Job{
			{Name: "a", Steps: []StepConf{{Command: "one"}, {Command: "two"}}},
			{Name: "b", Steps: []StepConf{{Command: "three"}}},
		},
	}

	steps := p.AllSteps()
	require.Len(t, steps, 5)
	assert.Equal(t, "noop.announce", steps[0].Command)
	assert.Equal(t, "three", steps[3].Command)
	assert.Equal(t, "shell.exec", steps[4].Command)
}

func TestGetExpansions(t *testing.T) {
	p := &Pipeline{
		Name:       "example",
		Expansions: map[string]string{"flags": "--verbose"},
		Jobs:       []Job{{Name: "build", RunsOn: "ubuntu-latest"}},
	}

	exp := p.GetExpansions(&p.Jobs[0])
	assert.Equal(t, "--verbose", exp.Get("flags"))
	assert.Equal(t, "example", exp.Get("pipeline_name"))
	assert.Equal(t, "build", exp.Get("job_name"))
	assert.Equal(t, "ubuntu-latest", exp.Get("runs_on"))
}
