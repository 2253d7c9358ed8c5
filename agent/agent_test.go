package agent

import (
	"context"
	"testing"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/mock"
	"github.com/conveyor-ci/conveyor/model"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RunnerSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	env    *mock.Environment
	store  run.Store
	runner *Runner
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.env = &mock.Environment{}
	s.Require().NoError(s.env.Configure(s.ctx))
	s.store = run.NewMemoryStore()

	var err error
	s.runner, err = New(s.ctx, s.env, s.store, Options{
		WorkDir:   s.T().TempDir(),
		LogPrefix: conveyor.LocalLoggingOverride,
	})
	s.Require().NoError(err)
}

func (s *RunnerSuite) TearDownTest() {
	s.cancel()
}

func (s *RunnerSuite) makePipeline() *model.Pipeline {
	return &model.Pipeline{
		Name: "demo",
		Jobs: []model.Job{
			{
				Name: "build",
				Steps: []model.StepConf{
					{Command: "noop.announce", Params: map[string]interface{}{"message": "building"}},
					{Command: "noop.announce", Params: map[string]interface{}{"message": "testing"}},
				},
			},
			{
				Name:      "lint",
				DependsOn: []string{"build"},
				Steps: []model.StepConf{
					{Command: "noop.announce", Params: map[string]interface{}{"message": "linting"}},
				},
			},
		},
	}
}

func (s *RunnerSuite) TestRunSucceeds() {
	rec, err := s.runner.RunPipeline(s.ctx, s.makePipeline(), event.NewManual("tester"))
	s.Require().NoError(err)
	s.Equal(conveyor.StatusSucceeded, rec.Status)
	s.Require().Len(rec.Jobs, 2)

	build := rec.FindJob("build")
	s.Require().NotNil(build)
	s.Equal(conveyor.StatusSucceeded, build.Status)
	s.Len(build.Steps, 2)

	lint := rec.FindJob("lint")
	s.Require().NotNil(lint)
	s.Equal(conveyor.StatusSucceeded, lint.Status)

	saved, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(conveyor.StatusSucceeded, saved.Status)
}

func (s *RunnerSuite) TestFailedDependencyAbortsDependents() {
	pipeline := s.makePipeline()
	pipeline.Jobs[0].Steps = []model.StepConf{
		{Command: "bogus.step"},
	}

	rec, err := s.runner.RunPipeline(s.ctx, pipeline, event.NewManual("tester"))
	s.Require().NoError(err)
	s.Equal(conveyor.StatusFailed, rec.Status)

	build := rec.FindJob("build")
	s.Require().NotNil(build)
	s.Equal(conveyor.StatusFailed, build.Status)
	s.Equal("bogus.step", build.FailingStep)

	lint := rec.FindJob("lint")
	s.Require().NotNil(lint)
	s.Equal(conveyor.StatusAborted, lint.Status)
	s.Empty(lint.Steps)
}

func (s *RunnerSuite) TestFailFastRecordsSkippedSteps() {
	pipeline := s.makePipeline()
	pipeline.Jobs[0].Steps = []model.StepConf{
		{Command: "noop.announce"},
		{Command: "bogus.step"},
		{Command: "noop.announce"},
	}

	rec, err := s.runner.RunPipeline(s.ctx, pipeline, event.NewManual("tester"))
	s.Require().NoError(err)

	build := rec.FindJob("build")
	s.Require().NotNil(build)
	s.Equal(conveyor.StatusFailed, build.Status)
	s.Require().Len(build.Steps, 3)
	s.Equal(conveyor.StatusSucceeded, build.Steps[0].Status)
	s.Equal(conveyor.StatusFailed, build.Steps[1].Status)
	s.Equal(conveyor.StatusAborted, build.Steps[2].Status)
}

func (s *RunnerSuite) TestContinueOnErrorKeepsJobAlive() {
	pipeline := s.makePipeline()
	pipeline.Jobs[0].Steps = []model.StepConf{
		{Command: "bogus.step", ContinueOnError: true},
		{Command: "noop.announce"},
	}

	rec, err := s.runner.RunPipeline(s.ctx, pipeline, event.NewManual("tester"))
	s.Require().NoError(err)

	build := rec.FindJob("build")
	s.Require().NotNil(build)
	s.Equal(conveyor.StatusSucceeded, build.Status)
	s.Require().Len(build.Steps, 2)
	s.Equal(conveyor.StatusFailed, build.Steps[0].Status)
	s.Equal(conveyor.StatusSucceeded, build.Steps[1].Status)
}

func (s *RunnerSuite) TestJobFilterSkipsDependencyOutsideTheRun() {
	runner, err := New(s.ctx, s.env, s.store, Options{
		WorkDir:   s.T().TempDir(),
		Jobs:      []string{"lint"},
		LogPrefix: conveyor.LocalLoggingOverride,
	})
	s.Require().NoError(err)

	rec, err := runner.RunPipeline(s.ctx, s.makePipeline(), event.NewManual("tester"))
	s.Require().NoError(err)
	s.Equal(conveyor.StatusSucceeded, rec.Status)
	s.Require().Len(rec.Jobs, 1)
	s.Equal("lint", rec.Jobs[0].Name)
}

func (s *RunnerSuite) TestUnknownJobNameErrors() {
	runner, err := New(s.ctx, s.env, s.store, Options{
		WorkDir:   s.T().TempDir(),
		Jobs:      []string{"deploy"},
		LogPrefix: conveyor.LocalLoggingOverride,
	})
	s.Require().NoError(err)

	_, err = runner.RunPipeline(s.ctx, s.makePipeline(), event.NewManual("tester"))
	s.Require().Error(err)
	s.Contains(err.Error(), "no job named 'deploy'")
}

func (s *RunnerSuite) TestPreBlockFailureDoesNotFailTheJob() {
	pipeline := s.makePipeline()
	pipeline.Pre = &model.CommandSet{
		SingleCommand: &model.StepConf{Command: "bogus.step"},
	}

	rec, err := s.runner.RunPipeline(s.ctx, pipeline, event.NewManual("tester"))
	s.Require().NoError(err)
	s.Equal(conveyor.StatusSucceeded, rec.Status)
}

func (s *RunnerSuite) TestPostBlockRunsAfterFailure() {
	pipeline := s.makePipeline()
	pipeline.Jobs = pipeline.Jobs[:1]
	pipeline.Jobs[0].Steps = []model.StepConf{{Command: "bogus.step"}}
	pipeline.Post = &model.CommandSet{
		SingleCommand: &model.StepConf{Command: "noop.announce", Params: map[string]interface{}{"message": "cleanup"}},
	}

	rec, err := s.runner.RunPipeline(s.ctx, pipeline, event.NewManual("tester"))
	s.Require().NoError(err)
	s.Equal(conveyor.StatusFailed, rec.Status)
}

func TestSelectJobs(t *testing.T) {
	pipeline := &model.Pipeline{
		Name: "demo",
		Jobs: []model.Job{{Name: "build"}, {Name: "lint"}},
	}

	t.Run("EmptyFilterSelectsEverything", func(t *testing.T) {
		r := &Runner{}
		jobs, err := r.selectJobs(pipeline)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})

	t.Run("FilterDeduplicates", func(t *testing.T) {
		r := &Runner{opts: Options{Jobs: []string{"build", "build"}}}
		jobs, err := r.selectJobs(pipeline)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})

	t.Run("UnknownNameErrors", func(t *testing.T) {
		r := &Runner{opts: Options{Jobs: []string{"deploy"}}}
		_, err := r.selectJobs(pipeline)
		assert.Error(t, err)
	})
}
