package conveyor

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/pool"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	globalEnv     Environment
	globalEnvLock *sync.RWMutex
)

func init() { globalEnvLock = &sync.RWMutex{} }

// GetEnvironment returns the global application level environment. This
// implementation is thread safe, but must be configured before use.
//
// In general you should call this operation once per process execution
// and pass the Environment interface through your application like a
// context, although inside the implementation of amboy jobs it is
// necessary to access the global environment. There is a mock
// implementation for use in testing.
func GetEnvironment() Environment {
	globalEnvLock.RLock()
	defer globalEnvLock.RUnlock()

	return globalEnv
}

func SetEnvironment(env Environment) {
	globalEnvLock.Lock()
	defer globalEnvLock.Unlock()

	globalEnv = env
}

// Environment provides application-level services: settings, the work
// queue, the process manager, and the optional database handle.
type Environment interface {
	// Returns the settings object. The settings object is not
	// necessarily safe for concurrent access.
	Settings() *Settings

	// Client and DB expose the run-history database. Both return nil
	// when the installation runs without a database.
	Client() *mongo.Client
	DB() *mongo.Database

	// LocalQueue is the bounded in-memory queue CI jobs are scheduled
	// on. It is not durable, and results are not available between
	// process restarts.
	LocalQueue() amboy.Queue

	// RunsQueue schedules whole pipeline runs and other background
	// operations. Jobs on this queue block while the CI jobs they
	// spawned work through LocalQueue, so the two pools must stay
	// separate.
	RunsQueue() amboy.Queue

	// Jasper is a process manager for running external
	// commands. Every process has a manager service.
	JasperManager() jasper.Manager

	// RegisterCloser adds a function object to an internal
	// tracker to be called by the Close method before process
	// termination. The name is used in reporting and must be unique
	// or a new closer could overwrite an existing closer.
	RegisterCloser(string, func(context.Context) error)
	// Close calls all registered closers in the environment.
	Close(context.Context) error
}

// NewEnvironment constructs an Environment instance from validated
// settings, connecting to the database when one is configured and
// starting the worker queue.
//
// When NewEnvironment returns without an error you can assume the local
// queue has been started and, if a database was configured, that the
// connection was established.
func NewEnvironment(ctx context.Context, settings *Settings) (Environment, error) {
	if settings == nil {
		return nil, errors.New("cannot construct an environment without settings")
	}

	e := &envState{
		settings: settings,
		closers:  map[string]func(context.Context) error{},
	}

	catcher := grip.NewBasicCatcher()
	catcher.Add(e.initDB(ctx))
	catcher.Add(e.initJasper())
	catcher.Add(e.createLocalQueue(ctx))
	catcher.Add(e.createRunsQueue(ctx))

	if catcher.HasErrors() {
		return nil, errors.WithStack(catcher.Resolve())
	}

	if err := e.localQueue.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "problem starting local queue")
	}
	if err := e.runsQueue.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "problem starting runs queue")
	}

	return e, nil
}

type envState struct {
	settings      *Settings
	localQueue    amboy.Queue
	runsQueue     amboy.Queue
	jasperManager jasper.Manager
	client        *mongo.Client
	mu            sync.RWMutex
	closers       map[string]func(context.Context) error
}

func (e *envState) initDB(ctx context.Context) error {
	if !e.settings.HasDatabase() {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(e.settings.Database.URL))
	if err != nil {
		return errors.Wrap(err, "problem connecting to the database")
	}
	e.client = client

	e.closers["database-client"] = func(ctx context.Context) error {
		return errors.Wrap(client.Disconnect(ctx), "problem disconnecting from the database")
	}

	return nil
}

func (e *envState) initJasper() error {
	jpm, err := jasper.NewSynchronizedManager(false)
	if err != nil {
		return errors.WithStack(err)
	}

	e.jasperManager = jpm

	e.closers["jasper-manager"] = func(ctx context.Context) error {
		return errors.WithStack(jpm.Close(ctx))
	}

	return nil
}

// duration of time in between calls to queue.Stats() within the
// amboy.Wait* functions, and the total shutdown allowance.
const (
	queueWaitInterval = 10 * time.Millisecond
	queueWaitTimeout  = 10 * time.Second
)

func (e *envState) createLocalQueue(ctx context.Context) error {
	// configure the local-only (memory-backed) queue.
	e.localQueue = queue.NewLocalLimitedSize(e.settings.Workers, MaxQueueSize)
	if err := e.localQueue.SetRunner(pool.NewAbortablePool(e.settings.Workers, e.localQueue)); err != nil {
		return errors.Wrap(err, "problem configuring worker pool for local queue")
	}

	e.closers["background-local-queue"] = func(ctx context.Context) error {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, queueWaitTimeout)
		defer cancel()
		if !amboy.WaitInterval(ctx, e.localQueue, queueWaitInterval) {
			grip.Critical(message.Fields{
				"message": "pending jobs failed to finish",
				"queue":   "local",
				"status":  e.localQueue.Stats(ctx),
			})
			return errors.New("failed to stop with running jobs")
		}
		e.localQueue.Runner().Close(ctx)
		return nil
	}

	return nil
}

func (e *envState) createRunsQueue(ctx context.Context) error {
	e.runsQueue = queue.NewLocalLimitedSize(e.settings.Workers, MaxQueueSize)
	if err := e.runsQueue.SetRunner(pool.NewAbortablePool(e.settings.Workers, e.runsQueue)); err != nil {
		return errors.Wrap(err, "problem configuring worker pool for runs queue")
	}

	e.closers["background-runs-queue"] = func(ctx context.Context) error {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, queueWaitTimeout)
		defer cancel()
		if !amboy.WaitInterval(ctx, e.runsQueue, queueWaitInterval) {
			grip.Critical(message.Fields{
				"message": "pending jobs failed to finish",
				"queue":   "runs",
				"status":  e.runsQueue.Stats(ctx),
			})
			return errors.New("failed to stop with running jobs")
		}
		e.runsQueue.Runner().Close(ctx)
		return nil
	}

	return nil
}

func (e *envState) Settings() *Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settings
}

func (e *envState) LocalQueue() amboy.Queue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.localQueue
}

func (e *envState) RunsQueue() amboy.Queue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.runsQueue
}

func (e *envState) JasperManager() jasper.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.jasperManager
}

func (e *envState) Client() *mongo.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client
}

func (e *envState) DB() *mongo.Database {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.client == nil {
		return nil
	}

	return e.client.Database(e.settings.Database.DB)
}

func (e *envState) RegisterCloser(name string, closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.closers[name]; ok {
		grip.Warningf("duplicate closer '%s' registered", name)
	}

	e.closers[name] = closer
}

func (e *envState) Close(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()

	e.mu.RLock()
	defer e.mu.RUnlock()

	grip.Info(message.Fields{
		"message":     "closing environment",
		"num_closers": len(e.closers),
	})

	for name, closer := range e.closers {
		if closer == nil {
			continue
		}

		startAt := time.Now()
		catcher.Add(closer(ctx))
		grip.Info(message.Fields{
			"message":  "called closer",
			"closer":   name,
			"duration": time.Since(startAt),
		})
	}

	return catcher.Resolve()
}
