package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/pkg/errors"
)

const jobUnitName = "conveyor-job-exec"

func init() {
	registry.AddJobType(jobUnitName, func() amboy.Job { return makeJobUnit() })
}

// jobUnit executes one job of a pipeline on the local queue. Runs stay
// on the in-memory queue, so the runner reads the outcome back off the
// same object it enqueued once the unit completes.
type jobUnit struct {
	job.Base `bson:"job_base" json:"job_base" yaml:"job_base"`

	runner   *Runner
	pipeline *model.Pipeline
	jobConf  *model.Job
	event    event.Event
	runID    string

	mu     sync.Mutex
	result run.JobResult
}

func makeJobUnit() *jobUnit {
	return &jobUnit{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    jobUnitName,
				Version: 0,
			},
		},
	}
}

func newJobUnit(r *Runner, p *model.Pipeline, jobConf *model.Job, ev event.Event, runID string) *jobUnit {
	j := makeJobUnit()
	j.runner = r
	j.pipeline = p
	j.jobConf = jobConf
	j.event = ev
	j.runID = runID
	j.SetID(fmt.Sprintf("%s.%s.%s", jobUnitName, runID, jobConf.Name))

	return j
}

func (j *jobUnit) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.runner == nil || j.pipeline == nil || j.jobConf == nil {
		j.AddError(errors.New("job execution unit enqueued without a runner"))
		return
	}

	result := j.runner.executeJob(ctx, j.pipeline, j.jobConf, j.event, j.runID)

	j.mu.Lock()
	j.result = result
	j.mu.Unlock()
}

// Result returns the job's outcome. It is only meaningful after Run
// has finished; a zero value means the unit never ran.
func (j *jobUnit) Result() run.JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.result
}
