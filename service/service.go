package service

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/conveyor-ci/conveyor/trigger"
	"github.com/conveyor-ci/conveyor/units"
	"github.com/conveyor-ci/conveyor/validator"
	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/amboy"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
)

const (
	// runCleanupInterval is how often the cleanup unit is scheduled.
	// The unit's ID collapses enqueues within the same hour, so
	// pruning effectively runs hourly.
	runCleanupInterval = 15 * time.Minute

	serverShutdownTimeout = 10 * time.Second
)

// Service hosts the webhook intake, the run API, and the scheduler, and
// executes matched pipelines on the environment's local queue.
type Service struct {
	env       conveyor.Environment
	store     run.Store
	runner    *agent.Runner
	pipelines []model.Pipeline
}

// New constructs a service from validated settings, parsing and
// checking every configured pipeline definition. A definition that
// fails validation prevents startup rather than being skipped, so a
// bad deploy is noticed immediately.
func New(ctx context.Context, env conveyor.Environment, store run.Store) (*Service, error) {
	if env == nil {
		return nil, errors.New("cannot create a service without an environment")
	}
	if store == nil {
		return nil, errors.New("cannot create a service without a run store")
	}

	settings := env.Settings()
	if err := os.MkdirAll(settings.WorkDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating the working directory '%s'", settings.WorkDir)
	}

	runner, err := agent.New(ctx, env, store, agent.Options{
		WorkDir:   settings.WorkDir,
		LogPrefix: filepath.Join(settings.WorkDir, "job"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "constructing the pipeline runner")
	}

	s := &Service{
		env:    env,
		store:  store,
		runner: runner,
	}
	if err := s.loadPipelines(); err != nil {
		return nil, errors.Wrap(err, "loading pipeline definitions")
	}

	return s, nil
}

func (s *Service) loadPipelines() error {
	settings := s.env.Settings()
	catcher := grip.NewBasicCatcher()

	for _, ref := range settings.Pipelines {
		identifier := ref.Name
		if identifier == "" {
			identifier = strings.TrimSuffix(filepath.Base(ref.File), filepath.Ext(ref.File))
		}

		data, err := os.ReadFile(ref.File)
		if err != nil {
			catcher.Wrapf(err, "reading pipeline file '%s'", ref.File)
			continue
		}

		p := model.Pipeline{}
		if err := model.LoadPipelineInto(data, identifier, &p); err != nil {
			catcher.Wrapf(err, "parsing pipeline file '%s'", ref.File)
			continue
		}
		if p.Name == "" {
			p.Name = identifier
		}

		issues := validator.CheckPipelineSyntax(&p)
		issues = append(issues, validator.CheckRunnerLabels(&p, settings.Runner.Labels)...)
		for _, issue := range issues {
			if issue.Level == validator.Error {
				catcher.Errorf("pipeline '%s': %s", p.Name, issue.Message)
				continue
			}
			grip.Warning(message.Fields{
				"message":  issue.Message,
				"pipeline": p.Name,
				"file":     ref.File,
			})
		}

		s.pipelines = append(s.pipelines, p)
	}

	if catcher.HasErrors() {
		return catcher.Resolve()
	}

	grip.InfoWhen(len(s.pipelines) == 0, "no pipelines are configured; the service will only answer API requests")
	return nil
}

// DispatchEvent enqueues a run for every pipeline whose triggers match
// the event, returning the names of the pipelines that matched.
func (s *Service) DispatchEvent(ctx context.Context, ev event.Event) []string {
	matched := []string{}
	for i := range s.pipelines {
		p := &s.pipelines[i]
		if !trigger.Matches(p, ev) {
			continue
		}
		matched = append(matched, p.Name)
		s.dispatch(ctx, p, ev)
	}
	return matched
}

func (s *Service) dispatch(ctx context.Context, p *model.Pipeline, ev event.Event) {
	j := units.NewPipelineRunJob(s.env, s.runner, p, ev)
	grip.Error(message.WrapError(amboy.EnqueueUniqueJob(ctx, s.env.RunsQueue(), j), message.Fields{
		"message":  "could not enqueue pipeline run",
		"pipeline": p.Name,
		"event":    ev.String(),
	}))
}

// buildScheduler registers a cron entry for every schedule trigger. The
// returned scheduler has not been started.
func (s *Service) buildScheduler(ctx context.Context) *cron.Cron {
	c := cron.New()
	for i := range s.pipelines {
		p := &s.pipelines[i]
		for _, spec := range p.Triggers.Schedules {
			sched, err := cron.ParseStandard(spec)
			if err != nil {
				grip.Error(message.WrapError(err, message.Fields{
					"message":  "skipping unparseable schedule",
					"pipeline": p.Name,
					"schedule": spec,
				}))
				continue
			}

			pipeline := p
			entry := spec
			c.Schedule(sched, cron.FuncJob(func() {
				s.dispatch(ctx, pipeline, event.NewCron(pipeline.Name, entry))
			}))
			grip.Info(message.Fields{
				"message":  "registered schedule",
				"pipeline": p.Name,
				"schedule": spec,
			})
		}
	}
	return c
}

// Start runs the HTTP server, the cron scheduler, and the periodic
// cleanup loop until the context is canceled, then shuts all three
// down and returns the first error encountered.
func (s *Service) Start(ctx context.Context) error {
	router, err := s.GetRouter()
	if err != nil {
		return errors.Wrap(err, "resolving the route table")
	}
	srv := GetServer(s.env.Settings().Bind, router)

	scheduler := s.buildScheduler(ctx)
	scheduler.Start()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving the API")
		}
		return nil
	})
	eg.Go(func() error {
		ticker := time.NewTicker(runCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				j := units.NewRunCleanupJob(s.env, s.store, utility.RoundPartOfHour(0))
				grip.Error(message.WrapError(amboy.EnqueueUniqueJob(ctx, s.env.RunsQueue(), j), message.Fields{
					"message": "could not enqueue run cleanup",
				}))
			}
		}
	})
	eg.Go(func() error {
		<-ctx.Done()
		scheduler.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return errors.Wrap(srv.Shutdown(sctx), "shutting down the API server")
	})

	return eg.Wait()
}

// GetServer produces an HTTP server instance for a handler.
func GetServer(addr string, n http.Handler) *http.Server {
	grip.Notice(message.Fields{
		"action":  "starting service",
		"service": addr,
		"build":   conveyor.BuildRevision,
		"process": grip.Name(),
	})

	return &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      time.Minute,
	}
}

// GetRouter assembles the service's route table.
func (s *Service) GetRouter() (http.Handler, error) {
	app := gimlet.NewApp()

	app.AddRoute("/hooks/github").Version(1).Post().RouteHandler(makeGithubHooksRoute(s, []byte(s.env.Settings().Github.WebhookSecret)))
	app.AddRoute("/runs").Version(1).Get().Handler(s.listRuns)
	app.AddRoute("/runs/{run_id}").Version(1).Get().Handler(s.getRun)
	app.AddRoute("/status").Version(1).Get().Handler(s.serviceStatus)

	return app.Handler()
}
