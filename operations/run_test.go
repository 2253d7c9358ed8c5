package operations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/conveyor-ci/conveyor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"profile=release", "flags=-D warnings", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"profile": "release",
		"flags":   "-D warnings",
		"empty":   "",
	}, vars)

	vars, err = parseVars(nil)
	require.NoError(t, err)
	assert.Empty(t, vars)

	_, err = parseVars([]string{"no-separator"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=value"})
	assert.Error(t, err)
}

func TestLocalSettingsDefaults(t *testing.T) {
	settings, err := localSettings("")
	require.NoError(t, err)
	assert.Equal(t, conveyor.DefaultBindAddress, settings.Bind)
	assert.True(t, settings.Workers >= 2)
	assert.False(t, settings.HasDatabase())
}

func TestLocalSettingsDisableTheDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.yml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: mongodb://localhost:27017\nworkers: 4\n"), 0644))

	settings, err := localSettings(path)
	require.NoError(t, err)
	assert.False(t, settings.HasDatabase())
	assert.Equal(t, 4, settings.Workers)
}

func TestLocalUserIsNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, localUser())
}
