package conveyor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettingsYAML = `
bind: ":9090"
workers: 8
github:
  token: ghtoken
  webhook_secret: sesame
pipelines:
  - name: demo
    file: /etc/conveyor/pipelines/demo.yml
database:
  url: mongodb://localhost:27017
`

// Checks that a settings file can be parsed and validated into a
// settings object with the database name and status context defaulted.
func TestInitSettings(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "conveyor.yml")
	require.NoError(t, os.WriteFile(path, []byte(testSettingsYAML), 0644))

	settings, err := NewSettings(path)
	require.NoError(t, err)
	assert.Equal(":9090", settings.Bind)
	assert.Equal(8, settings.Workers)
	assert.Equal("ghtoken", settings.Github.Token)
	assert.Equal(path, settings.ConfigFile)
	require.Len(t, settings.Pipelines, 1)
	assert.Equal("demo", settings.Pipelines[0].Name)

	require.NoError(t, settings.Validate())
	assert.Equal(DefaultDatabaseName, settings.Database.DB)
	assert.Equal(AppName, settings.Github.StatusContext)
	assert.True(settings.HasDatabase())
	assert.True(settings.Github.CanPostStatuses())
}

// Checks that trying to parse a nonexistent or malformed file returns a
// non-nil error.
func TestBadInit(t *testing.T) {
	assert := assert.New(t)

	settings, err := NewSettings(filepath.Join(t.TempDir(), "nonexistent.yml"))
	assert.Error(err)
	assert.Nil(settings)

	path := filepath.Join(t.TempDir(), "broken.yml")
	require.NoError(t, os.WriteFile(path, []byte("bind: [}"), 0644))
	settings, err = NewSettings(path)
	assert.Error(err)
	assert.Nil(settings)
}

func TestValidateFillsDefaults(t *testing.T) {
	assert := assert.New(t)

	settings := &Settings{}
	require.NoError(t, settings.Validate())

	assert.Equal(DefaultBindAddress, settings.Bind)
	assert.True(settings.Workers >= minWorkers)
	assert.Equal(filepath.Join(os.TempDir(), AppName), settings.WorkDir)
	assert.Equal(AppName, settings.Github.StatusContext)
	assert.False(settings.HasDatabase())
	assert.False(settings.Github.CanPostStatuses())
}

func TestValidateRejectsPipelinesWithoutFiles(t *testing.T) {
	settings := &Settings{Pipelines: []PipelineRef{{Name: "demo"}}}
	assert.Error(t, settings.Validate())
}

func TestTracerConfigValidation(t *testing.T) {
	assert := assert.New(t)

	c := TracerConfig{Enabled: true}
	assert.Error(c.ValidateAndDefault())

	c.CollectorEndpoint = "localhost:4317"
	assert.NoError(c.ValidateAndDefault())

	assert.NoError((&TracerConfig{}).ValidateAndDefault())
}
