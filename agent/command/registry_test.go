package command

import (
	"testing"

	"github.com/conveyor-ci/conveyor/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRegistry(t *testing.T) {
	assert := assert.New(t)

	r := newCommandRegistry()
	assert.NotNil(r.cmds)
	assert.NotNil(r.mu)

	assert.Error(r.registerCommand("", nil))
	assert.Error(r.registerCommand("foo", nil))
	assert.NoError(r.registerCommand("cmd.factory", subprocessExecFactory))
	assert.Error(r.registerCommand("cmd.factory", subprocessExecFactory))

	factory, ok := r.getCommandFactory("cmd.factory")
	assert.True(ok)
	assert.NotNil(factory)

	factory, ok = r.getCommandFactory("cmd.mystery")
	assert.False(ok)
	assert.Nil(factory)
}

func TestGlobalCommandRegistryNamesAreComplete(t *testing.T) {
	names := RegisteredCommandNames()
	for _, name := range []string{"subprocess.exec", "shell.exec", "git.checkout", "noop.announce"} {
		assert.Contains(t, names, name)
		assert.True(t, IsRegistered(name))
	}
	assert.False(t, IsRegistered("docker.build"))
}

func TestRenderCommand(t *testing.T) {
	t.Run("UnregisteredCommand", func(t *testing.T) {
		_, err := Render(model.StepConf{Command: "cmd.mystery"}, BlockInfo{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("InvalidParams", func(t *testing.T) {
		_, err := Render(model.StepConf{Command: "subprocess.exec"}, BlockInfo{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing parameters")
	})

	t.Run("RendersWithDisplayName", func(t *testing.T) {
		conf := model.StepConf{
			Command: "subprocess.exec",
			Params:  map[string]interface{}{"command": "cargo build --verbose"},
		}
		cmd, err := Render(conf, BlockInfo{Block: MainBlock, CmdNum: 2, TotalCmds: 5})
		require.NoError(t, err)
		assert.Equal(t, "'cargo build --verbose' (step 2 of 5)", cmd.FullDisplayName())
	})

	t.Run("RendersBlockName", func(t *testing.T) {
		conf := model.StepConf{Command: "noop.announce"}
		cmd, err := Render(conf, BlockInfo{Block: PreBlock, CmdNum: 1, TotalCmds: 1})
		require.NoError(t, err)
		assert.Equal(t, "'noop.announce' (step 1 of 1) in block 'pre'", cmd.FullDisplayName())
	})

	t.Run("FeatureArgsGoToExecCommands", func(t *testing.T) {
		conf := model.StepConf{
			Command:  "subprocess.exec",
			Params:   map[string]interface{}{"command": "cargo build"},
			Features: []string{"--features", "variadic_functions"},
		}
		cmd, err := Render(conf, BlockInfo{})
		require.NoError(t, err)

		exec, ok := cmd.(*subprocessExec)
		require.True(t, ok)
		assert.Equal(t, []string{"--features", "variadic_functions"}, exec.features)
	})

	t.Run("FeatureArgsRejectedElsewhere", func(t *testing.T) {
		conf := model.StepConf{
			Command:  "noop.announce",
			Features: []string{"--features", "variadic_functions"},
		}
		_, err := Render(conf, BlockInfo{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not accept feature arguments")
	})
}
