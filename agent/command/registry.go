package command

import (
	"fmt"
	"sync"

	"github.com/conveyor-ci/conveyor/model"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// CommandFactory is a function that returns a new, unconfigured
// instance of a command.
type CommandFactory func() Command

var cmdRegistry *commandRegistry

func init() {
	cmdRegistry = newCommandRegistry()

	cmds := map[string]CommandFactory{
		"subprocess.exec": subprocessExecFactory,
		"shell.exec":      shellExecFactory,
		"git.checkout":    gitCheckoutFactory,
		"noop.announce":   noopAnnounceFactory,
	}

	for name, factory := range cmds {
		grip.EmergencyPanic(cmdRegistry.registerCommand(name, factory))
	}
}

// RegisteredCommandNames returns the names of all registered commands.
func RegisteredCommandNames() []string { return cmdRegistry.registeredCommandNames() }

// GetCommandFactory returns the factory for a registered command name.
func GetCommandFactory(name string) (CommandFactory, bool) {
	return cmdRegistry.getCommandFactory(name)
}

// IsRegistered reports whether name refers to a registered command.
func IsRegistered(name string) bool {
	_, ok := cmdRegistry.getCommandFactory(name)
	return ok
}

// Render resolves a step's configuration into an executable command:
// it looks up the factory, parses the step's params, and assigns the
// command its full display name.
func Render(conf model.StepConf, block BlockInfo) (Command, error) {
	return cmdRegistry.renderCommand(conf, block)
}

type commandRegistry struct {
	mu   *sync.RWMutex
	cmds map[string]CommandFactory
}

func newCommandRegistry() *commandRegistry {
	return &commandRegistry{
		cmds: map[string]CommandFactory{},
		mu:   &sync.RWMutex{},
	}
}

func (r *commandRegistry) registerCommand(name string, factory CommandFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return errors.New("cannot register a command for the empty string")
	}

	if _, ok := r.cmds[name]; ok {
		return errors.Errorf("command '%s' is already registered", name)
	}

	if factory == nil {
		return errors.Errorf("cannot register a nil factory for command '%s'", name)
	}

	r.cmds[name] = factory
	return nil
}

func (r *commandRegistry) getCommandFactory(name string) (CommandFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.cmds[name]
	return factory, ok
}

func (r *commandRegistry) registeredCommandNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []string{}
	for name := range r.cmds {
		out = append(out, name)
	}
	return out
}

func (r *commandRegistry) renderCommand(conf model.StepConf, block BlockInfo) (Command, error) {
	factory, ok := r.getCommandFactory(conf.Command)
	if !ok {
		return nil, errors.Errorf("command '%s' is not registered", conf.Command)
	}

	cmd := factory()
	params := conf.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := cmd.ParseParams(params); err != nil {
		return nil, errors.Wrapf(err, "parsing parameters for command '%s'", conf.Command)
	}

	if appender, ok := cmd.(featureArgsCommand); ok {
		appender.setFeatureArgs(conf.Features)
	} else if len(conf.Features) > 0 {
		return nil, errors.Errorf("command '%s' does not accept feature arguments", conf.Command)
	}

	cmd.SetFullDisplayName(GetFullDisplayName(conf, block))
	return cmd, nil
}

// featureArgsCommand is implemented by commands that can append a
// step's opaque feature strings to their invocation.
type featureArgsCommand interface {
	setFeatureArgs([]string)
}

// GetFullDisplayName builds the display name for a command in a block,
// e.g. "'cargo build --verbose' (step 2 of 5) in block 'pre'".
func GetFullDisplayName(conf model.StepConf, block BlockInfo) string {
	name := fmt.Sprintf("'%s'", conf.GetDisplayName())
	if block.TotalCmds > 0 {
		name = fmt.Sprintf("%s (step %d of %d)", name, block.CmdNum, block.TotalCmds)
	}
	if block.Block != MainBlock {
		name = fmt.Sprintf("%s in block '%s'", name, block.Block)
	}
	return name
}
