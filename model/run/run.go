package run

import (
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/google/uuid"
)

// Collection holds run records when a database-backed store is
// configured.
const Collection = "runs"

// Run records one execution of a pipeline: the event that caused it,
// the jobs it ran, and how they finished.
type Run struct {
	ID           string       `bson:"_id" json:"id"`
	PipelineName string       `bson:"pipeline_name" json:"pipeline_name"`
	DisplayName  string       `bson:"display_name,omitempty" json:"display_name,omitempty"`
	Event        event.Event  `bson:"event" json:"event"`
	Status       string       `bson:"status" json:"status"`
	StartedAt    time.Time    `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt   time.Time    `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	Jobs         []JobResult  `bson:"jobs,omitempty" json:"jobs,omitempty"`
}

// JobResult records the outcome of a single job within a run.
type JobResult struct {
	Name        string       `bson:"name" json:"name"`
	DisplayName string       `bson:"display_name,omitempty" json:"display_name,omitempty"`
	RunsOn      string       `bson:"runs_on,omitempty" json:"runs_on,omitempty"`
	Status      string       `bson:"status" json:"status"`
	FailingStep string       `bson:"failing_step,omitempty" json:"failing_step,omitempty"`
	StartedAt   time.Time    `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt  time.Time    `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	Steps       []StepResult `bson:"steps,omitempty" json:"steps,omitempty"`
}

// StepResult records the outcome of one step of a job. Steps that were
// skipped because an earlier step failed are recorded as aborted.
type StepResult struct {
	DisplayName string    `bson:"display_name" json:"display_name"`
	Status      string    `bson:"status" json:"status"`
	StartedAt   time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt  time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}

// NewRun creates a run record for a pipeline and event with one created
// job entry per defined job.
func NewRun(p *model.Pipeline, ev event.Event) *Run {
	r := &Run{
		ID:           uuid.New().String(),
		PipelineName: p.Name,
		DisplayName:  p.GetDisplayName(),
		Event:        ev,
		Status:       conveyor.StatusCreated,
	}
	for i := range p.Jobs {
		r.Jobs = append(r.Jobs, JobResult{
			Name:        p.Jobs[i].Name,
			DisplayName: p.Jobs[i].GetDisplayName(),
			RunsOn:      p.Jobs[i].RunsOn,
			Status:      conveyor.StatusCreated,
		})
	}
	return r
}

// MarkStarted sets the run in flight.
func (r *Run) MarkStarted() {
	r.Status = conveyor.StatusStarted
	r.StartedAt = time.Now()
}

// FindJob returns the job result with the given name, or nil.
func (r *Run) FindJob(name string) *JobResult {
	for i := range r.Jobs {
		if r.Jobs[i].Name == name {
			return &r.Jobs[i]
		}
	}
	return nil
}

// SetJobResult replaces the recorded result for the named job.
func (r *Run) SetJobResult(result JobResult) {
	for i := range r.Jobs {
		if r.Jobs[i].Name == result.Name {
			r.Jobs[i] = result
			return
		}
	}
	r.Jobs = append(r.Jobs, result)
}

// Finalize computes the run's terminal status from its jobs: failed if
// any job failed or was aborted, succeeded otherwise.
func (r *Run) Finalize() {
	r.FinishedAt = time.Now()
	r.Status = conveyor.StatusSucceeded
	for i := range r.Jobs {
		if r.Jobs[i].Status == conveyor.StatusFailed || r.Jobs[i].Status == conveyor.StatusAborted {
			r.Status = conveyor.StatusFailed
			return
		}
	}
}

// IsFinished reports whether the run reached a terminal status.
func (r *Run) IsFinished() bool {
	return conveyor.IsFinishedStatus(r.Status)
}

// Duration returns how long the run took, or the time elapsed so far
// for a run still in flight.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Duration returns how long the job took.
func (j *JobResult) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
