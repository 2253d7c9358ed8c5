package model

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/util"
)

// RunCommandName is the command that the "run" step shorthand and bare
// string steps resolve to during parsing.
const RunCommandName = "subprocess.exec"

// Pipeline is the fully translated form of a pipeline definition. Code
// outside the parser should only ever see this type and its members,
// never the parser* intermediaries.
type Pipeline struct {
	Identifier  string            `yaml:"identifier,omitempty" bson:"identifier"`
	Name        string            `yaml:"name,omitempty" bson:"name"`
	DisplayName string            `yaml:"display_name,omitempty" bson:"display_name"`
	Triggers    TriggerSet        `yaml:"on,omitempty" bson:"triggers"`
	Env         map[string]string `yaml:"env,omitempty" bson:"env"`
	Expansions  map[string]string `yaml:"expansions,omitempty" bson:"expansions"`
	Pre         *CommandSet       `yaml:"pre,omitempty" bson:"pre"`
	Post        *CommandSet       `yaml:"post,omitempty" bson:"post"`
	TimeoutSecs int               `yaml:"timeout_secs,omitempty" bson:"timeout_secs"`
	Jobs        []Job             `yaml:"jobs,omitempty" bson:"jobs"`
}

// TriggerSet holds the events that start a run of the pipeline. A nil
// member means that event kind never triggers this pipeline.
type TriggerSet struct {
	Push        *PushTrigger        `yaml:"push,omitempty" bson:"push,omitempty"`
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty" bson:"pull_request,omitempty"`
	Schedules   []string            `yaml:"schedule,omitempty" bson:"schedule,omitempty"`
}

// PushTrigger matches push events. An empty branch list matches pushes
// to any branch.
type PushTrigger struct {
	Branches []string `yaml:"branches,omitempty" bson:"branches,omitempty"`
}

// PullRequestTrigger matches pull request events for every action that
// carries a testable head revision (opened, reopened, synchronize).
type PullRequestTrigger struct{}

// Job is a named group of sequential steps bound to a runner. Jobs are
// independent of each other: the runner may execute any set of jobs
// whose dependencies are satisfied concurrently and in any order.
type Job struct {
	Name        string            `yaml:"name,omitempty" bson:"name"`
	DisplayName string            `yaml:"display_name,omitempty" bson:"display_name"`
	RunsOn      string            `yaml:"runs_on,omitempty" bson:"runs_on"`
	Env         map[string]string `yaml:"env,omitempty" bson:"env"`
	DependsOn   []string          `yaml:"depends_on,omitempty" bson:"depends_on"`
	TimeoutSecs int               `yaml:"timeout_secs,omitempty" bson:"timeout_secs"`
	Steps       []StepConf        `yaml:"steps,omitempty" bson:"steps"`
}

// StepConf configures a single step of a job. Steps run strictly in
// the order they are defined; the first failing step fails the job and
// skips the rest, unless the step is marked continue_on_err.
//
// Three YAML forms are accepted:
//
//	- "cargo build --verbose"            a bare command line
//	- run: cargo build --verbose         the same, with room for params
//	- command: subprocess.exec           the full form
//	  params: ...
//
// Feature strings are opaque to the runner; they are appended verbatim
// as extra arguments after the step's command line.
type StepConf struct {
	Name            string                 `yaml:"name,omitempty" bson:"name"`
	Command         string                 `yaml:"command,omitempty" bson:"command"`
	Run             string                 `yaml:"run,omitempty" bson:"-"`
	Params          map[string]interface{} `yaml:"params,omitempty" bson:"params"`
	Features        []string               `yaml:"features,omitempty" bson:"features"`
	Vars            map[string]string      `yaml:"vars,omitempty" bson:"vars"`
	TimeoutSecs     int                    `yaml:"timeout_secs,omitempty" bson:"timeout_secs"`
	ContinueOnError bool                   `yaml:"continue_on_err,omitempty" bson:"continue_on_err"`
}

// GetDisplayName returns the name to use for the step in logs and
// results.
func (sc StepConf) GetDisplayName() string {
	if sc.Name != "" {
		return sc.Name
	}
	if sc.Command == RunCommandName {
		if cmdLine, ok := sc.Params["command"].(string); ok && cmdLine != "" {
			return cmdLine
		}
	}
	return sc.Command
}

// CommandSet holds either a single step or a list of steps, so that
// blocks like pre and post can be written in either form.
type CommandSet struct {
	SingleCommand *StepConf
	MultiCommand  []StepConf
}

func (c *CommandSet) List() []StepConf {
	if c == nil {
		return []StepConf{}
	}
	if len(c.MultiCommand) > 0 {
		return c.MultiCommand
	}
	if c.SingleCommand != nil && c.SingleCommand.Command != "" {
		return []StepConf{*c.SingleCommand}
	}
	return []StepConf{}
}

func (c *CommandSet) MarshalYAML() (interface{}, error) {
	if c == nil {
		return nil, nil
	}
	return c.List(), nil
}

func (c *CommandSet) UnmarshalYAML(unmarshal func(interface{}) error) error {
	err1 := unmarshal(&(c.MultiCommand))
	err2 := unmarshal(&(c.SingleCommand))
	if err1 == nil || err2 == nil {
		return nil
	}
	return err1
}

// FindJob returns the job with the given name, or nil if no such job
// is defined.
func (p *Pipeline) FindJob(name string) *Job {
	for i := range p.Jobs {
		if p.Jobs[i].Name == name {
			return &p.Jobs[i]
		}
	}
	return nil
}

// JobNames returns the names of all defined jobs in definition order.
func (p *Pipeline) JobNames() []string {
	names := make([]string, 0, len(p.Jobs))
	for i := range p.Jobs {
		names = append(names, p.Jobs[i].Name)
	}
	return names
}

// GetDisplayName returns the pipeline's display name, falling back to
// its identifier name.
func (p *Pipeline) GetDisplayName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// AllSteps returns every step in the pipeline: the pre block, each
// job's steps, then the post block.
func (p *Pipeline) AllSteps() []StepConf {
	steps := []StepConf{}
	if p.Pre != nil {
		steps = append(steps, p.Pre.List()...)
	}
	for i := range p.Jobs {
		steps = append(steps, p.Jobs[i].Steps...)
	}
	if p.Post != nil {
		steps = append(steps, p.Post.List()...)
	}
	return steps
}

// GetExpansions builds the expansion set for a job run, layering the
// job's name and runner label over the pipeline's declared expansions.
func (p *Pipeline) GetExpansions(j *Job) *util.Expansions {
	exp := util.NewExpansions(p.Expansions)
	exp.Put("pipeline_name", p.Name)
	if j != nil {
		exp.Put("job_name", j.Name)
		exp.Put("runs_on", j.RunsOn)
	}
	return exp
}

// GetDisplayName returns the job's display name, falling back to its
// name.
func (j *Job) GetDisplayName() string {
	if j.DisplayName != "" {
		return j.DisplayName
	}
	return j.Name
}

// StepLabel identifies a step within its job for logs and results, in
// the form 'cargo build --verbose' (step 2 of 5).
func (j *Job) StepLabel(idx int) string {
	if idx < 0 || idx >= len(j.Steps) {
		return ""
	}
	return fmt.Sprintf("'%s' (step %d of %d)", j.Steps[idx].GetDisplayName(), idx+1, len(j.Steps))
}
