package mock

import (
	"context"
	"sync"

	"github.com/conveyor-ci/conveyor"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// this is just a hack to ensure that compile breaks clearly if the
// mock implementation diverges from the interface
var _ conveyor.Environment = &Environment{}

// Environment is an in-memory implementation of conveyor.Environment for
// tests. Configure must be called before use.
type Environment struct {
	Local            amboy.Queue
	Runs             amboy.Queue
	JPM              jasper.Manager
	ConveyorSettings *conveyor.Settings

	mu      sync.Mutex
	closers map[string]func(context.Context) error
}

func (e *Environment) Configure(ctx context.Context) error {
	e.ConveyorSettings = &conveyor.Settings{}
	if err := e.ConveyorSettings.Validate(); err != nil {
		return errors.Wrap(err, "problem validating mock settings")
	}
	e.closers = map[string]func(context.Context) error{}

	jpm, err := jasper.NewSynchronizedManager(false)
	if err != nil {
		return errors.Wrap(err, "problem constructing jasper manager")
	}
	e.JPM = jpm

	e.Local = queue.NewLocalLimitedSize(2, 128)
	if err := e.Local.Start(ctx); err != nil {
		return errors.Wrap(err, "problem starting mock queue")
	}

	e.Runs = queue.NewLocalLimitedSize(2, 128)
	if err := e.Runs.Start(ctx); err != nil {
		return errors.Wrap(err, "problem starting mock runs queue")
	}

	return nil
}

func (e *Environment) Settings() *conveyor.Settings { return e.ConveyorSettings }
func (e *Environment) LocalQueue() amboy.Queue      { return e.Local }
func (e *Environment) RunsQueue() amboy.Queue       { return e.Runs }
func (e *Environment) JasperManager() jasper.Manager {
	return e.JPM
}
func (e *Environment) Client() *mongo.Client { return nil }
func (e *Environment) DB() *mongo.Database   { return nil }

func (e *Environment) RegisterCloser(name string, closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closers[name] = closer
}

func (e *Environment) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, closer := range e.closers {
		if closer == nil {
			continue
		}
		if err := closer(ctx); err != nil {
			return err
		}
	}
	if e.JPM != nil {
		return e.JPM.Close(ctx)
	}
	return nil
}
