package model

import (
	"bytes"

	"github.com/conveyor-ci/conveyor/util"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const LoadPipelineError = "load pipeline error(s)"

// This file contains the infrastructure for turning YAML pipeline
// configuration into a usable Pipeline struct. The YAML bytes are first
// unmarshalled into an intermediary parserPipeline. The parserPipeline's
// internal types define custom YAML unmarshal hooks, allowing users to
// offer a single definition where we expect a list, e.g.
//   `depends_on: "build"` instead of the more verbose `depends_on: ["build"]`
// or write a step as a bare command line. Doing this work in custom
// unmarshal hooks means malformed definitions fail through the YAML
// parser's own error path, which carries line number information that
// would be lost if we validated against already-parsed data.
//
// Once the intermediary pipeline is created, it is translated field by
// field into a Pipeline. Code outside of this file should never have to
// consider parser* types when handling pipeline code.

// parserPipeline serves as an intermediary struct for parsing pipeline
// configuration YAML.
type parserPipeline struct {
	Name        string            `yaml:"name,omitempty"`
	DisplayName string            `yaml:"display_name,omitempty"`
	On          *parserTriggers   `yaml:"on,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Expansions  map[string]string `yaml:"expansions,omitempty"`
	Pre         *CommandSet       `yaml:"pre,omitempty"`
	Post        *CommandSet       `yaml:"post,omitempty"`
	TimeoutSecs int               `yaml:"timeout_secs,omitempty"`
	Jobs        []parserJob       `yaml:"jobs,omitempty"`
}

// parserJob represents an intermediary state of job definitions.
type parserJob struct {
	Name        string            `yaml:"name,omitempty"`
	DisplayName string            `yaml:"display_name,omitempty"`
	RunsOn      string            `yaml:"runs_on,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	DependsOn   parserStringSlice `yaml:"depends_on,omitempty"`
	TimeoutSecs int               `yaml:"timeout_secs,omitempty"`
	Steps       []StepConf        `yaml:"steps,omitempty"`
}

// UnmarshalYAML reports a missing job name through the YAML error path
// so the user gets a line number with the complaint.
func (pj *parserJob) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// we define a new type so that we can grab the yaml struct tags without the
	// struct methods, preventing infinite recursion on the UnmarshalYAML() method.
	type copyType parserJob
	var jobCopy copyType
	if err := unmarshal(&jobCopy); err != nil {
		return err
	}
	if jobCopy.Name == "" {
		return errors.New("job missing name")
	}
	*pj = parserJob(jobCopy)
	return nil
}

// parserTriggers is the intermediary form of the `on:` block. The block
// may be a mapping of trigger kinds to their settings or a plain list
// of trigger kind names, and a kind whose settings are omitted is
// enabled with defaults.
type parserTriggers struct {
	Push        *parserPushTrigger        `yaml:"push,omitempty"`
	PullRequest *parserPullRequestTrigger `yaml:"pull_request,omitempty"`
	Schedule    parserStringSlice         `yaml:"schedule,omitempty"`
}

func (pt *parserTriggers) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// a kind name or a plain list of kind names enables each with defaults
	var names parserStringSlice
	if err := unmarshal(&names); err == nil {
		t := parserTriggers{}
		for _, name := range names {
			switch name {
			case "push":
				t.Push = &parserPushTrigger{}
			case "pull_request":
				t.PullRequest = &parserPullRequestTrigger{}
			default:
				return errors.Errorf("unknown trigger '%s'", name)
			}
		}
		*pt = t
		return nil
	}

	// track key presence separately from the structured form, since a
	// kind given with no settings (`pull_request:`) unmarshals to nil
	present := map[string]interface{}{}
	if err := unmarshal(&present); err != nil {
		return err
	}

	type copyType parserTriggers
	var tCopy copyType
	if err := unmarshal(&tCopy); err != nil {
		return err
	}
	t := parserTriggers(tCopy)
	for key, val := range present {
		if enabled, isBool := val.(bool); isBool && !enabled {
			switch key {
			case "push":
				t.Push = nil
			case "pull_request":
				t.PullRequest = nil
			}
			continue
		}
		switch key {
		case "push":
			if t.Push == nil {
				t.Push = &parserPushTrigger{}
			}
		case "pull_request":
			if t.PullRequest == nil {
				t.PullRequest = &parserPullRequestTrigger{}
			}
		case "schedule":
		default:
			return errors.Errorf("unknown trigger '%s'", key)
		}
	}
	*pt = t
	return nil
}

// parserPushTrigger accepts a branch name, a list of branch names, or
// the full form with a `branches` key.
type parserPushTrigger struct {
	Branches parserStringSlice `yaml:"branches,omitempty"`
}

func (pp *parserPushTrigger) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// first, attempt to unmarshal just a branch name
	var onlyBranch string
	if err := unmarshal(&onlyBranch); err == nil {
		if onlyBranch != "" {
			pp.Branches = []string{onlyBranch}
			return nil
		}
	}
	var branchList []string
	if err := unmarshal(&branchList); err == nil {
		pp.Branches = branchList
		return nil
	}
	type copyType parserPushTrigger
	var pCopy copyType
	if err := unmarshal(&pCopy); err != nil {
		return err
	}
	*pp = parserPushTrigger(pCopy)
	return nil
}

// parserPullRequestTrigger has no settings; presence of the key is what
// enables it.
type parserPullRequestTrigger struct{}

func (pr *parserPullRequestTrigger) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return nil
}

// parserStringSlice is YAML helper type that accepts both an array of strings
// or single string value during unmarshalling.
type parserStringSlice []string

// UnmarshalYAML allows the YAML parser to read both a single string or
// an array of them into a slice.
func (pss *parserStringSlice) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*pss = []string{single}
		return nil
	}
	var slice []string
	if err := unmarshal(&slice); err != nil {
		return err
	}
	*pss = slice
	return nil
}

// UnmarshalYAML reads a step from any of its accepted forms: a bare
// command line string, the `run:` shorthand, or the full form naming a
// registered command.
func (sc *StepConf) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// first, attempt to unmarshal just a command line
	var cmdLine string
	if err := unmarshal(&cmdLine); err == nil {
		if cmdLine == "" {
			return errors.New("step command line must not be empty")
		}
		*sc = StepConf{
			Command: RunCommandName,
			Params:  map[string]interface{}{"command": cmdLine},
		}
		return nil
	}
	type copyType StepConf
	var stepCopy copyType
	if err := unmarshal(&stepCopy); err != nil {
		return err
	}
	step := StepConf(stepCopy)
	if step.Run != "" {
		if step.Command != "" {
			return errors.New("step cannot set both 'run' and 'command'")
		}
		step.Command = RunCommandName
		if step.Params == nil {
			step.Params = map[string]interface{}{}
		}
		step.Params["command"] = step.Run
		step.Run = ""
	}
	if step.Command == "" {
		return errors.New("step must name a command")
	}
	*sc = step
	return nil
}

// LoadPipelineInto loads the raw data from the config file into pipeline
// and sets the pipeline's identifier field to identifier.
func LoadPipelineInto(data []byte, identifier string, pipeline *Pipeline) error {
	p, errs := pipelineFromYAML(data)
	if len(errs) > 0 {
		// create a human-readable error list
		buf := bytes.Buffer{}
		for _, e := range errs {
			if len(errs) > 1 {
				buf.WriteString("\n\t") //only newline if we have multiple errs
			}
			buf.WriteString(e.Error())
		}
		return errors.Errorf("%s: %s", LoadPipelineError, buf.String())
	}
	*pipeline = *p
	if identifier != "" {
		pipeline.Identifier = identifier
	}
	return nil
}

// pipelineFromYAML reads and evaluates pipeline YAML, returning a
// pipeline and the errors encountered during parsing or translation.
func pipelineFromYAML(yml []byte) (*Pipeline, []error) {
	intermediatePipeline, errs := createIntermediatePipeline(yml)
	if len(errs) > 0 {
		return nil, errs
	}
	return translatePipeline(intermediatePipeline)
}

// createIntermediatePipeline marshals the supplied YAML into our
// intermediate pipeline representation.
func createIntermediatePipeline(yml []byte) (*parserPipeline, []error) {
	p := &parserPipeline{}
	if err := yaml.Unmarshal(yml, p); err != nil {
		return nil, []error{err}
	}
	return p, nil
}

// translatePipeline converts our intermediate pipeline representation
// into the Pipeline type the rest of the system uses.
func translatePipeline(pp *parserPipeline) (*Pipeline, []error) {
	var errs []error

	pipeline := &Pipeline{
		Name:        pp.Name,
		DisplayName: pp.DisplayName,
		Env:         pp.Env,
		Expansions:  pp.Expansions,
		Pre:         pp.Pre,
		Post:        pp.Post,
		TimeoutSecs: pp.TimeoutSecs,
	}
	if pp.On != nil {
		pipeline.Triggers = translateTriggers(pp.On)
	}
	for i := range pp.Jobs {
		job, jobErrs := translateJob(&pp.Jobs[i])
		errs = append(errs, jobErrs...)
		pipeline.Jobs = append(pipeline.Jobs, job)
	}

	return pipeline, errs
}

func translateTriggers(pt *parserTriggers) TriggerSet {
	t := TriggerSet{Schedules: pt.Schedule}
	if pt.Push != nil {
		t.Push = &PushTrigger{Branches: pt.Push.Branches}
	}
	if pt.PullRequest != nil {
		t.PullRequest = &PullRequestTrigger{}
	}
	return t
}

func translateJob(pj *parserJob) (Job, []error) {
	var errs []error
	if len(pj.Steps) == 0 {
		errs = append(errs, errors.Errorf("job '%s' has no steps", pj.Name))
	}
	return Job{
		Name:        pj.Name,
		DisplayName: pj.DisplayName,
		RunsOn:      pj.RunsOn,
		Env:         pj.Env,
		DependsOn:   util.UniqueStrings(pj.DependsOn),
		TimeoutSecs: pj.TimeoutSecs,
		Steps:       pj.Steps,
	}, errs
}
