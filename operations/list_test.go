package operations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listTestPipeline = `
on:
  push:
    branches: [master]
jobs:
  - name: build
    steps:
      - cargo build --verbose
      - cargo test --verbose
  - name: lint
    depends_on: [build]
    steps:
      - cargo fmt --check
`

func TestLoadLocalPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release-checks.yml")
	require.NoError(t, os.WriteFile(path, []byte(listTestPipeline), 0644))

	pipeline, err := loadLocalPipeline(path)
	require.NoError(t, err)

	assert.Equal(t, "release-checks", pipeline.Name)
	assert.Equal(t, "release-checks", pipeline.Identifier)
	require.Len(t, pipeline.Jobs, 2)
	assert.Equal(t, "build", pipeline.Jobs[0].Name)
	assert.Len(t, pipeline.Jobs[0].Steps, 2)
	assert.Equal(t, []string{"build"}, pipeline.Jobs[1].DependsOn)
}

func TestListModesAcceptAPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release-checks.yml")
	require.NoError(t, os.WriteFile(path, []byte(listTestPipeline), 0644))

	assert.NoError(t, listJobs(path))
	assert.NoError(t, listTriggers(path))
}

func TestListTriggersWithAManualOnlyPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.yml")
	def := `
jobs:
  - name: build
    steps:
      - cargo build
`
	require.NoError(t, os.WriteFile(path, []byte(def), 0644))

	assert.NoError(t, listTriggers(path))
}

func TestLoadLocalPipelineWithAMissingFile(t *testing.T) {
	_, err := loadLocalPipeline(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading pipeline definition")
}

func TestLoadLocalPipelineWithBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: [}"), 0644))

	_, err := loadLocalPipeline(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading pipeline definition")
}
