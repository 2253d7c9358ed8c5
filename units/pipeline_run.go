package units

import (
	"context"
	"fmt"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const pipelineRunJobName = "pipeline-run"

func init() {
	registry.AddJobType(pipelineRunJobName, func() amboy.Job { return makePipelineRunJob() })
}

// pipelineRunJob executes one pipeline for one event and reports the
// outcome to GitHub when the event carries a revision worth marking.
type pipelineRunJob struct {
	job.Base     `bson:"job_base" json:"job_base" yaml:"job_base"`
	PipelineName string `bson:"pipeline_name" json:"pipeline_name" yaml:"pipeline_name"`

	env      conveyor.Environment
	runner   *agent.Runner
	pipeline *model.Pipeline
	event    event.Event
}

func makePipelineRunJob() *pipelineRunJob {
	return &pipelineRunJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    pipelineRunJobName,
				Version: 0,
			},
		},
	}
}

// NewPipelineRunJob creates a job that runs every job of the pipeline
// for the given event. Each call produces a distinct job, so repeated
// deliveries for the same revision each get their own run.
func NewPipelineRunJob(env conveyor.Environment, runner *agent.Runner, pipeline *model.Pipeline, ev event.Event) amboy.Job {
	j := makePipelineRunJob()
	j.env = env
	j.runner = runner
	j.pipeline = pipeline
	j.event = ev
	j.PipelineName = pipeline.Name
	j.SetID(fmt.Sprintf("%s.%s.%s.%d", pipelineRunJobName, pipeline.Name, ev.Kind, job.GetNumber()))
	return j
}

func (j *pipelineRunJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.env == nil {
		j.env = conveyor.GetEnvironment()
	}
	if j.runner == nil || j.pipeline == nil {
		j.AddError(errors.New("pipeline run unit enqueued without a runner"))
		return
	}

	postStatuses := j.env.Settings().Github.CanPostStatuses() &&
		(j.event.Kind == conveyor.EventPush || j.event.Kind == conveyor.EventPullRequest)

	if postStatuses {
		pending := NewGithubStatusUpdateJobForEvent(j.env, j.PipelineName, j.event)
		grip.Error(message.WrapError(amboy.EnqueueUniqueJob(ctx, j.env.RunsQueue(), pending), message.Fields{
			"message":  "could not enqueue the pending github status",
			"pipeline": j.PipelineName,
			"event":    j.event.String(),
		}))
	}

	rec, err := j.runner.RunPipeline(ctx, j.pipeline, j.event)
	if err != nil {
		j.AddError(errors.Wrapf(err, "running pipeline '%s'", j.PipelineName))
	}
	if rec == nil {
		return
	}

	if postStatuses {
		final := NewGithubStatusUpdateJobForRun(j.env, rec)
		grip.Error(message.WrapError(amboy.EnqueueUniqueJob(ctx, j.env.RunsQueue(), final), message.Fields{
			"message":  "could not enqueue the final github status",
			"pipeline": j.PipelineName,
			"run_id":   rec.ID,
		}))
	}
}
