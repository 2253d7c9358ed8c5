package units

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	runCleanupJobName = "run-cleanup"

	// TSFormat is the timestamp format used in the IDs of periodic jobs.
	TSFormat = "2006-01-02.15-04-05"
)

func init() {
	registry.AddJobType(runCleanupJobName, func() amboy.Job { return makeRunCleanupJob() })
}

type runCleanupJob struct {
	job.Base `bson:"job_base" json:"job_base" yaml:"job_base"`

	env   conveyor.Environment
	store run.Store
}

func makeRunCleanupJob() *runCleanupJob {
	return &runCleanupJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    runCleanupJobName,
				Version: 0,
			},
		},
	}
}

// NewRunCleanupJob creates a job that deletes finished run records
// older than the retention window. Jobs created within the same period
// share an ID, so at most one of them runs.
func NewRunCleanupJob(env conveyor.Environment, store run.Store, ts time.Time) amboy.Job {
	j := makeRunCleanupJob()
	j.env = env
	j.store = store
	j.SetID(fmt.Sprintf("%s.%s", runCleanupJobName, ts.Format(TSFormat)))
	j.UpdateTimeInfo(amboy.JobTimeInfo{MaxTime: time.Minute})
	return j
}

func (j *runCleanupJob) Run(ctx context.Context) {
	defer j.MarkComplete()
	startAt := time.Now()

	if j.env == nil {
		j.env = conveyor.GetEnvironment()
	}
	if j.store == nil {
		j.AddError(errors.New("run cleanup unit enqueued without a store"))
		return
	}

	cutoff := time.Now().Add(-conveyor.RunHistoryTTL)
	removed, err := j.store.Prune(ctx, cutoff)
	j.AddError(errors.Wrap(err, "pruning finished runs"))

	grip.Info(message.Fields{
		"job_id":      j.ID(),
		"job_type":    j.Type().Name,
		"message":     "timing-info",
		"cutoff":      cutoff.Format(TSFormat),
		"num_removed": removed,
		"has_errors":  j.HasErrors(),
		"total":       time.Since(startAt).Seconds(),
	})
}
