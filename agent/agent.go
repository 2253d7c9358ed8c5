package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent/command"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/dustin/go-humanize"
	"github.com/mongodb/amboy"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// jobPollInterval controls how often the runner checks the queue
	// for finished job units.
	jobPollInterval = 50 * time.Millisecond

	defaultCallbackCmdTimeout = 15 * time.Minute
)

// Runner executes pipeline runs. Jobs whose dependencies have all
// succeeded are dispatched to the environment's local queue in waves;
// jobs whose dependencies failed are recorded as aborted without
// running. Results are written to the run store as each job finishes.
type Runner struct {
	env    conveyor.Environment
	store  run.Store
	opts   Options
	tracer trace.Tracer
}

// Options contains startup options for a Runner.
type Options struct {
	// WorkDir is the root under which per-job workspaces are created,
	// or the workspace itself when InPlace is set.
	WorkDir string
	// Jobs restricts the run to the named jobs. Empty means every job
	// in the pipeline.
	Jobs []string
	// Vars are extra expansions layered over the pipeline's own.
	Vars map[string]string
	// LogPrefix controls where job logs go, as GetSender interprets
	// it.
	LogPrefix string
	// InPlace runs jobs directly in WorkDir instead of a fresh
	// per-job directory, for local runs in an existing checkout.
	InPlace bool
}

// New creates a Runner backed by the environment's queue and the given
// run store.
func New(ctx context.Context, env conveyor.Environment, store run.Store, opts Options) (*Runner, error) {
	if env == nil {
		return nil, errors.New("cannot create a runner without an environment")
	}
	if store == nil {
		return nil, errors.New("cannot create a runner without a run store")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = env.Settings().WorkDir
	}

	r := &Runner{
		env:   env,
		store: store,
		opts:  opts,
	}
	if err := r.initOtel(ctx); err != nil {
		return nil, errors.Wrap(err, "initializing the tracer")
	}

	return r, nil
}

// RunPipeline executes the pipeline's jobs for the given event and
// returns the finished run record. The record is saved after every
// state change, so callers can expose progress while the run is live.
func (r *Runner) RunPipeline(ctx context.Context, pipeline *model.Pipeline, ev event.Event) (*run.Run, error) {
	jobs, err := r.selectJobs(pipeline)
	if err != nil {
		return nil, err
	}

	rec := run.NewRun(pipeline, ev)
	if len(jobs) < len(pipeline.Jobs) {
		results := make([]run.JobResult, 0, len(jobs))
		for _, jobConf := range jobs {
			if res := rec.FindJob(jobConf.Name); res != nil {
				results = append(results, *res)
			}
		}
		rec.Jobs = results
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("conveyor.pipeline", pipeline.Name),
		attribute.String("conveyor.run_id", rec.ID),
		attribute.String("conveyor.event", ev.Kind),
	))
	defer span.End()

	rec.MarkStarted()
	if err := r.store.Put(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "saving the run record")
	}

	r.logRunStart(ctx, pipeline, rec, ev)

	finished := map[string]string{}
	pending := jobs
	for len(pending) > 0 {
		if ctx.Err() != nil {
			for _, jobConf := range pending {
				r.recordAborted(ctx, rec, jobConf, "")
				finished[jobConf.Name] = conveyor.StatusAborted
			}
			break
		}

		ready := []*model.Job{}
		waiting := []*model.Job{}

		for _, jobConf := range pending {
			failedDep := ""
			satisfied := true
			for _, dep := range jobConf.DependsOn {
				if rec.FindJob(dep) == nil {
					// jobs excluded from this run never block the
					// jobs that depend on them
					continue
				}
				status, done := finished[dep]
				if !done {
					satisfied = false
					continue
				}
				if status != conveyor.StatusSucceeded {
					failedDep = dep
					break
				}
			}

			if failedDep != "" {
				r.recordAborted(ctx, rec, jobConf, failedDep)
				finished[jobConf.Name] = conveyor.StatusAborted
				continue
			}
			if satisfied {
				ready = append(ready, jobConf)
			} else {
				waiting = append(waiting, jobConf)
			}
		}

		if len(ready) == 0 && len(waiting) > 0 {
			// Validation rejects dependency cycles; abort the rest
			// instead of spinning if an unvalidated pipeline gets here.
			for _, jobConf := range waiting {
				r.recordAborted(ctx, rec, jobConf, "")
				finished[jobConf.Name] = conveyor.StatusAborted
			}
			waiting = nil
		}

		if len(ready) > 0 {
			r.runWave(ctx, pipeline, rec, ready, ev, finished)
		}
		pending = waiting
	}

	rec.Finalize()
	if err := r.store.Put(ctx, rec); err != nil {
		return rec, errors.Wrap(err, "saving the finished run record")
	}

	if rec.Status != conveyor.StatusSucceeded {
		span.SetStatus(codes.Error, "run failed")
	}
	grip.Info(message.Fields{
		"message":  "pipeline run finished",
		"run_id":   rec.ID,
		"pipeline": pipeline.Name,
		"status":   rec.Status,
		"duration": rec.Duration().String(),
	})

	return rec, nil
}

// selectJobs resolves the runner's job filter against the pipeline,
// erroring on names that do not exist.
func (r *Runner) selectJobs(pipeline *model.Pipeline) ([]*model.Job, error) {
	if len(r.opts.Jobs) == 0 {
		jobs := make([]*model.Job, 0, len(pipeline.Jobs))
		for i := range pipeline.Jobs {
			jobs = append(jobs, &pipeline.Jobs[i])
		}
		return jobs, nil
	}

	jobs := []*model.Job{}
	seen := map[string]bool{}
	for _, name := range r.opts.Jobs {
		if seen[name] {
			continue
		}
		seen[name] = true

		jobConf := pipeline.FindJob(name)
		if jobConf == nil {
			return nil, errors.Errorf("pipeline '%s' has no job named '%s'", pipeline.Name, name)
		}
		jobs = append(jobs, jobConf)
	}
	return jobs, nil
}

// runWave enqueues one wave of ready jobs and waits for all of them to
// finish, recording each result as it lands.
func (r *Runner) runWave(ctx context.Context, pipeline *model.Pipeline, rec *run.Run, wave []*model.Job, ev event.Event, finished map[string]string) {
	queue := r.env.LocalQueue()

	units := make([]*jobUnit, 0, len(wave))
	for _, jobConf := range wave {
		unit := newJobUnit(r, pipeline, jobConf, ev, rec.ID)
		if err := amboy.EnqueueUniqueJob(ctx, queue, unit); err != nil {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "problem enqueueing job",
				"run_id":  rec.ID,
				"job":     jobConf.Name,
			}))
			r.recordAborted(ctx, rec, jobConf, "")
			finished[jobConf.Name] = conveyor.StatusAborted
			continue
		}
		units = append(units, unit)
	}

	for _, unit := range units {
		amboy.WaitJobInterval(ctx, unit, queue, jobPollInterval)

		result := unit.Result()
		if result.Name == "" {
			// the unit never got to run
			result = run.JobResult{
				Name:        unit.jobConf.Name,
				DisplayName: unit.jobConf.GetDisplayName(),
				RunsOn:      unit.jobConf.RunsOn,
				Status:      conveyor.StatusAborted,
			}
		}

		finished[result.Name] = result.Status
		rec.SetJobResult(result)
		grip.Error(message.WrapError(r.store.Put(ctx, rec), message.Fields{
			"message": "problem saving run record",
			"run_id":  rec.ID,
			"job":     result.Name,
		}))
	}
}

func (r *Runner) recordAborted(ctx context.Context, rec *run.Run, jobConf *model.Job, failedDep string) {
	rec.SetJobResult(run.JobResult{
		Name:        jobConf.Name,
		DisplayName: jobConf.GetDisplayName(),
		RunsOn:      jobConf.RunsOn,
		Status:      conveyor.StatusAborted,
	})

	msg := message.Fields{
		"message": "job aborted",
		"run_id":  rec.ID,
		"job":     jobConf.Name,
	}
	if failedDep != "" {
		msg["failed_dependency"] = failedDep
	}
	grip.Info(msg)

	grip.Error(message.WrapError(r.store.Put(ctx, rec), message.Fields{
		"message": "problem saving run record",
		"run_id":  rec.ID,
		"job":     jobConf.Name,
	}))
}

func (r *Runner) logRunStart(ctx context.Context, pipeline *model.Pipeline, rec *run.Run, ev event.Event) {
	msg := message.Fields{
		"message":  "starting pipeline run",
		"run_id":   rec.ID,
		"pipeline": pipeline.Name,
		"event":    ev.String(),
		"jobs":     len(rec.Jobs),
	}

	if cpus, err := cpu.CountsWithContext(ctx, true); err == nil {
		msg["cpus"] = cpus
	}
	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		msg["memory_total"] = humanize.Bytes(memStats.Total)
		msg["memory_available"] = humanize.Bytes(memStats.Available)
	}

	grip.Info(msg)
}

// executeJob runs one job's blocks end to end and returns its result.
// Setup failures fail the job with the failing phase recorded in place
// of a step name.
func (r *Runner) executeJob(ctx context.Context, pipeline *model.Pipeline, jobConf *model.Job, ev event.Event, runID string) run.JobResult {
	result := run.JobResult{
		Name:        jobConf.Name,
		DisplayName: jobConf.GetDisplayName(),
		RunsOn:      jobConf.RunsOn,
		Status:      conveyor.StatusStarted,
		StartedAt:   time.Now(),
	}
	finish := func(status, failingStep string) run.JobResult {
		result.Status = status
		result.FailingStep = failingStep
		result.FinishedAt = time.Now()
		return result
	}

	timeout := conveyor.DefaultJobTimeout
	if pipeline.TimeoutSecs > 0 {
		timeout = time.Duration(pipeline.TimeoutSecs) * time.Second
	}
	if jobConf.TimeoutSecs > 0 {
		timeout = time.Duration(jobConf.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("conveyor.run_id", runID),
		attribute.String("conveyor.job", jobConf.Name),
	))
	defer span.End()

	workDir := r.opts.WorkDir
	if !r.opts.InPlace {
		workDir = filepath.Join(r.opts.WorkDir, runID, jobConf.Name)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		grip.Error(errors.Wrapf(err, "creating workspace for job '%s'", jobConf.Name))
		span.SetStatus(codes.Error, "workspace setup failed")
		return finish(conveyor.StatusFailed, "workspace setup")
	}

	sender, err := GetSender(ctx, r.opts.LogPrefix)
	if err != nil {
		grip.Error(errors.Wrapf(err, "configuring the log sender for job '%s'", jobConf.Name))
		span.SetStatus(codes.Error, "logger setup failed")
		return finish(conveyor.StatusFailed, "logger setup")
	}
	// Defers are LIFO. Completed processes are cleared from the shared
	// manager before the job's log sender flushes and closes.
	defer func() {
		grip.Error(message.WrapError(sender.Close(), message.Fields{
			"message": "problem closing the job log sender",
			"run_id":  runID,
			"job":     jobConf.Name,
		}))
	}()
	defer r.env.JasperManager().Clear(ctx)

	logger, err := NewLoggerProducer(fmt.Sprintf("%s.%s", runID, jobConf.Name), sender)
	if err != nil {
		grip.Error(errors.Wrapf(err, "configuring the logger for job '%s'", jobConf.Name))
		span.SetStatus(codes.Error, "logger setup failed")
		return finish(conveyor.StatusFailed, "logger setup")
	}

	logger.Task().Infof("Job logger initialized (agent version: %s).", conveyor.ClientVersion)
	logger.Execution().Info("Execution logger initialized.")
	logger.System().Info("System logger initialized.")

	logger.Task().Infof("Starting job '%v' in run '%v'.", jobConf.Name, runID)
	logger.Execution().Infof("Using working directory '%s'.", workDir)

	expansions := pipeline.GetExpansions(jobConf)
	expansions.Update(r.opts.Vars)
	expansions.Put("run_id", runID)
	expansions.Put("workdir", workDir)
	expansions.Put("branch", ev.Branch)
	expansions.Put("revision", ev.Revision)
	expansions.Put("repo", ev.Repo)

	env := map[string]string{}
	for k, v := range pipeline.Env {
		env[k] = v
	}
	for k, v := range jobConf.Env {
		env[k] = v
	}

	jobCtx := &command.JobContext{
		RunID:      runID,
		Pipeline:   pipeline,
		Job:        jobConf,
		Event:      ev,
		WorkDir:    workDir,
		Env:        env,
		Expansions: expansions,
	}

	r.runPreBlock(ctx, logger, jobCtx, pipeline)

	stepResults, failingStep, stepsErr := r.runSteps(ctx, logger, jobCtx, jobConf)
	result.Steps = stepResults

	r.runPostBlock(logger, jobCtx, pipeline)

	if stepsErr != nil {
		logger.Task().Info("Job completed - FAILURE.")
		span.SetStatus(codes.Error, "job failed")
		return finish(conveyor.StatusFailed, failingStep)
	}

	logger.Task().Info("Job completed - SUCCESS.")
	return finish(conveyor.StatusSucceeded, "")
}

func (r *Runner) runPreBlock(ctx context.Context, logger command.LoggerProducer, jobCtx *command.JobContext, pipeline *model.Pipeline) {
	if pipeline.Pre == nil {
		return
	}

	logger.Execution().Info("Running pre-job commands.")
	ctx, cancel := context.WithTimeout(ctx, defaultCallbackCmdTimeout)
	defer cancel()
	if err := r.runCommandBlock(ctx, logger, jobCtx, pipeline.Pre.List(), command.PreBlock); err != nil {
		logger.Execution().Errorf("Running pre-job commands failed: %v", err)
	}
	logger.Execution().Info("Finished running pre-job commands.")
}

// runPostBlock runs the post block on its own clock, so cleanup still
// happens when the job's main steps timed out or were canceled.
func (r *Runner) runPostBlock(logger command.LoggerProducer, jobCtx *command.JobContext, pipeline *model.Pipeline) {
	if pipeline.Post == nil {
		return
	}

	logger.Task().Info("Running post-job commands.")
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallbackCmdTimeout)
	defer cancel()
	if err := r.runCommandBlock(ctx, logger, jobCtx, pipeline.Post.List(), command.PostBlock); err != nil {
		logger.Execution().Errorf("Error running post-job command: %v", err)
	} else {
		logger.Task().Infof("Finished running post-job commands in %v.", time.Since(start).String())
	}
}

// runSteps executes the job's main steps in order, failing fast on the
// first error unless the step sets continue_on_err. Steps skipped after
// a failure are recorded as aborted.
func (r *Runner) runSteps(ctx context.Context, logger command.LoggerProducer, jobCtx *command.JobContext, jobConf *model.Job) ([]run.StepResult, string, error) {
	results := make([]run.StepResult, 0, len(jobConf.Steps))

	var failingStep string
	var firstErr error

	for i := range jobConf.Steps {
		stepConf := jobConf.Steps[i]

		if firstErr != nil {
			results = append(results, run.StepResult{
				DisplayName: stepConf.GetDisplayName(),
				Status:      conveyor.StatusAborted,
			})
			continue
		}

		if err := ctx.Err(); err != nil {
			firstErr = errors.Wrap(err, "job canceled")
			failingStep = stepConf.GetDisplayName()
			results = append(results, run.StepResult{
				DisplayName: stepConf.GetDisplayName(),
				Status:      conveyor.StatusAborted,
			})
			continue
		}

		stepRes := run.StepResult{
			DisplayName: stepConf.GetDisplayName(),
			StartedAt:   time.Now(),
		}
		err := r.runStep(ctx, logger, jobCtx, stepConf, command.BlockInfo{
			Block:     command.MainBlock,
			CmdNum:    i + 1,
			TotalCmds: len(jobConf.Steps),
		})
		stepRes.FinishedAt = time.Now()

		if err != nil {
			stepRes.Status = conveyor.StatusFailed
			if stepConf.ContinueOnError {
				logger.Task().Infof("Continuing job despite error in %s.", jobConf.StepLabel(i))
			} else {
				failingStep = stepConf.GetDisplayName()
				firstErr = err
			}
		} else {
			stepRes.Status = conveyor.StatusSucceeded
		}
		results = append(results, stepRes)
	}

	return results, failingStep, firstErr
}

func (r *Runner) runCommandBlock(ctx context.Context, logger command.LoggerProducer, jobCtx *command.JobContext, steps []model.StepConf, block command.BlockType) error {
	for i := range steps {
		info := command.BlockInfo{
			Block:     block,
			CmdNum:    i + 1,
			TotalCmds: len(steps),
		}
		if err := r.runStep(ctx, logger, jobCtx, steps[i], info); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, logger command.LoggerProducer, jobCtx *command.JobContext, conf model.StepConf, block command.BlockInfo) error {
	cmd, err := command.Render(conf, block)
	if err != nil {
		return errors.Wrap(err, "rendering the command")
	}
	cmd.SetJasperManager(r.env.JasperManager())

	timeout := conveyor.DefaultStepTimeout
	if conf.TimeoutSecs > 0 {
		timeout = time.Duration(conf.TimeoutSecs) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := r.tracer.Start(stepCtx, cmd.Name(), trace.WithAttributes(
		attribute.String("conveyor.step", cmd.FullDisplayName()),
	))
	defer span.End()

	logger.Task().Infof("Running command %s.", cmd.FullDisplayName())
	start := time.Now()

	if err := cmd.Execute(stepCtx, logger, jobCtx); err != nil {
		logger.Task().Errorf("Command %s failed: %v.", cmd.FullDisplayName(), err)
		span.SetStatus(codes.Error, "command failed")
		return errors.Wrapf(err, "command %s failed", cmd.FullDisplayName())
	}

	logger.Task().Infof("Finished command %s in %s.", cmd.FullDisplayName(), time.Since(start).String())
	return nil
}
