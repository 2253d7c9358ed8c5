package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPipelineInto(t *testing.T) {
	t.Run("FullDefinition", func(t *testing.T) {
		pipelineYAML := `
name: freight
display_name: Freight CI
on:
  push:
    branches: [master]
  pull_request:
env:
  CARGO_TERM_COLOR: always
expansions:
  flags: "--verbose"
pre:
  - command: noop.announce
jobs:
- name: build
  runs_on: ubuntu-latest
  steps:
  - command: git.checkout
  - "cargo build --verbose"
  - run: cargo test --verbose
  - run: cargo build --verbose
    features: ["--features", "variadic_functions"]
- name: lint
  runs_on: ubuntu-latest
  steps:
  - run: cargo fmt --check
  - run: cargo clippy
    continue_on_err: true
`
		var p Pipeline
		require.NoError(t, LoadPipelineInto([]byte(pipelineYAML), "freight", &p))

		assert.Equal(t, "freight", p.Identifier)
		assert.Equal(t, "Freight CI", p.DisplayName)
		require.NotNil(t, p.Triggers.Push)
		assert.Equal(t, []string{"master"}, p.Triggers.Push.Branches)
		assert.NotNil(t, p.Triggers.PullRequest)
		assert.Equal(t, "always", p.Env["CARGO_TERM_COLOR"])
		assert.Equal(t, "--verbose", p.Expansions["flags"])
		require.NotNil(t, p.Pre)
		assert.Len(t, p.Pre.List(), 1)

		require.Len(t, p.Jobs, 2)
		build := p.FindJob("build")
		require.NotNil(t, build)
		assert.Equal(t, "ubuntu-latest", build.RunsOn)
		require.Len(t, build.Steps, 4)
		assert.Equal(t, "git.checkout", build.Steps[0].Command)
		assert.Equal(t, RunCommandName, build.Steps[1].Command)
		assert.Equal(t, "cargo build --verbose", build.Steps[1].Params["command"])
		assert.Equal(t, "cargo test --verbose", build.Steps[2].Params["command"])
		assert.Equal(t, []string{"--features", "variadic_functions"}, build.Steps[3].Features)

		lint := p.FindJob("lint")
		require.NotNil(t, lint)
		assert.True(t, lint.Steps[1].ContinueOnError)
	})

	t.Run("StepOrderIsPreserved", func(t *testing.T) {
		pipelineYAML := `
name: ordered
jobs:
- name: build
  steps:
  - "cmd one"
  - "cmd two"
  - "cmd three"
  - "cmd four"
`
		var p Pipeline
		require.NoError(t, LoadPipelineInto([]byte(pipelineYAML), "ordered", &p))
		steps := p.Jobs[0].Steps
		require.Len(t, steps, 4)
		for i, expected := range []string{"cmd one", "cmd two", "cmd three", "cmd four"} {
			assert.Equal(t, expected, steps[i].Params["command"])
		}
	})

	t.Run("MalformedYAMLReportsLoadError", func(t *testing.T) {
		var p Pipeline
		err := LoadPipelineInto([]byte("name: [unclosed"), "bad", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), LoadPipelineError)
	})

	t.Run("JobMissingNameIsAnError", func(t *testing.T) {
		pipelineYAML := `
jobs:
- runs_on: ubuntu-latest
  steps:
  - "cargo build"
`
		var p Pipeline
		err := LoadPipelineInto([]byte(pipelineYAML), "", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job missing name")
	})

	t.Run("JobWithoutStepsIsAnError", func(t *testing.T) {
		pipelineYAML := `
jobs:
- name: empty
`
		var p Pipeline
		err := LoadPipelineInto([]byte(pipelineYAML), "", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job 'empty' has no steps")
	})

	t.Run("DependsOnAcceptsSingleOrList", func(t *testing.T) {
		pipelineYAML := `
jobs:
- name: build
  steps: ["cargo build"]
- name: package
  depends_on: build
  steps: ["cargo package"]
- name: publish
  depends_on: [build, package, package]
  steps: ["cargo publish"]
`
		var p Pipeline
		require.NoError(t, LoadPipelineInto([]byte(pipelineYAML), "", &p))
		assert.Equal(t, []string{"build"}, p.FindJob("package").DependsOn)
		assert.Equal(t, []string{"build", "package"}, p.FindJob("publish").DependsOn)
	})
}

func TestTriggerParsing(t *testing.T) {
	load := func(t *testing.T, yml string) *Pipeline {
		var p Pipeline
		require.NoError(t, LoadPipelineInto([]byte(yml), "", &p))
		return &p
	}

	t.Run("KindNameList", func(t *testing.T) {
		p := load(t, "on: [push, pull_request]")
		assert.NotNil(t, p.Triggers.Push)
		assert.NotNil(t, p.Triggers.PullRequest)
	})

	t.Run("SingleKindName", func(t *testing.T) {
		p := load(t, "on: push")
		assert.NotNil(t, p.Triggers.Push)
		assert.Nil(t, p.Triggers.PullRequest)
	})

	t.Run("PushBranchShorthand", func(t *testing.T) {
		p := load(t, "on:\n  push: master")
		require.NotNil(t, p.Triggers.Push)
		assert.Equal(t, []string{"master"}, p.Triggers.Push.Branches)
	})

	t.Run("PushBranchList", func(t *testing.T) {
		p := load(t, "on:\n  push: [master, release-*]")
		require.NotNil(t, p.Triggers.Push)
		assert.Equal(t, []string{"master", "release-*"}, p.Triggers.Push.Branches)
	})

	t.Run("BareKindEnablesWithDefaults", func(t *testing.T) {
		p := load(t, "on:\n  push:\n  pull_request:\n")
		require.NotNil(t, p.Triggers.Push)
		assert.Empty(t, p.Triggers.Push.Branches)
		assert.NotNil(t, p.Triggers.PullRequest)
	})

	t.Run("FalseDisablesKind", func(t *testing.T) {
		p := load(t, "on:\n  pull_request: false")
		assert.Nil(t, p.Triggers.PullRequest)
	})

	t.Run("Schedules", func(t *testing.T) {
		p := load(t, "on:\n  schedule: \"0 4 * * *\"")
		assert.Equal(t, []string{"0 4 * * *"}, p.Triggers.Schedules)

		p = load(t, "on:\n  schedule: [\"0 4 * * *\", \"0 16 * * *\"]")
		assert.Len(t, p.Triggers.Schedules, 2)
	})

	t.Run("UnknownKindIsAnError", func(t *testing.T) {
		var p Pipeline
		err := LoadPipelineInto([]byte("on: [deploy]"), "", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown trigger 'deploy'")
	})
}

func TestStepParsing(t *testing.T) {
	load := func(t *testing.T, stepYAML string) StepConf {
		var p Pipeline
		pipelineYAML := "jobs:\n- name: j\n  steps:\n" + stepYAML
		require.NoError(t, LoadPipelineInto([]byte(pipelineYAML), "", &p))
		require.Len(t, p.Jobs[0].Steps, 1)
		return p.Jobs[0].Steps[0]
	}

	t.Run("BareString", func(t *testing.T) {
		step := load(t, "  - \"make lint\"")
		assert.Equal(t, RunCommandName, step.Command)
		assert.Equal(t, "make lint", step.Params["command"])
	})

	t.Run("RunShorthand", func(t *testing.T) {
		step := load(t, "  - run: make lint\n    name: lint\n    timeout_secs: 60")
		assert.Equal(t, RunCommandName, step.Command)
		assert.Equal(t, "make lint", step.Params["command"])
		assert.Equal(t, "lint", step.Name)
		assert.Equal(t, 60, step.TimeoutSecs)
	})

	t.Run("FullForm", func(t *testing.T) {
		step := load(t, "  - command: shell.exec\n    params:\n      script: |\n        set -e\n        make lint")
		assert.Equal(t, "shell.exec", step.Command)
		assert.Contains(t, step.Params["script"], "make lint")
	})

	t.Run("RunAndCommandConflict", func(t *testing.T) {
		var p Pipeline
		err := LoadPipelineInto([]byte("jobs:\n- name: j\n  steps:\n  - run: make\n    command: shell.exec"), "", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot set both 'run' and 'command'")
	})

	t.Run("MissingCommandIsAnError", func(t *testing.T) {
		var p Pipeline
		err := LoadPipelineInto([]byte("jobs:\n- name: j\n  steps:\n  - name: mystery"), "", &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step must name a command")
	})

	t.Run("EmptyCommandLineIsAnError", func(t *testing.T) {
		var p Pipeline
		err := LoadPipelineInto([]byte("jobs:\n- name: j\n  steps:\n  - \"\""), "", &p)
		require.Error(t, err)
	})
}
