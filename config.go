package conveyor

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBindAddress  = ":8080"
	DefaultDatabaseName = "conveyor"

	minWorkers = 2
)

// Settings holds the process-wide configuration for both the local runner
// and the service. It is read once at startup from a YAML file and then
// treated as read-only.
type Settings struct {
	Bind      string        `yaml:"bind" json:"bind"`
	Workers   int           `yaml:"workers" json:"workers"`
	WorkDir   string        `yaml:"workdir" json:"workdir"`
	LogLevel  string        `yaml:"log_level" json:"log_level"`
	Pipelines []PipelineRef `yaml:"pipelines" json:"pipelines"`
	Github    GithubConfig  `yaml:"github" json:"github"`
	Database  DBSettings    `yaml:"database" json:"database"`
	Runner    RunnerConfig  `yaml:"runner" json:"runner"`
	Tracer    TracerConfig  `yaml:"tracer" json:"tracer"`

	// ConfigFile is the path the settings were loaded from, when they
	// were loaded from a file at all.
	ConfigFile string `yaml:"-" json:"-"`
}

// PipelineRef names a pipeline definition file the service watches.
type PipelineRef struct {
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

// GithubConfig carries the credentials for webhook intake and commit
// status posting. Every field is optional; missing pieces disable the
// corresponding integration.
type GithubConfig struct {
	Token         string `yaml:"token" json:"token"`
	WebhookSecret string `yaml:"webhook_secret" json:"webhook_secret"`
	StatusContext string `yaml:"status_context" json:"status_context"`
}

func (g *GithubConfig) CanPostStatuses() bool { return g.Token != "" }

type DBSettings struct {
	URL string `yaml:"url" json:"url"`
	DB  string `yaml:"db" json:"db"`
}

// RunnerConfig describes the execution host. Labels are matched against
// each job's runs_on field.
type RunnerConfig struct {
	Labels []string `yaml:"labels" json:"labels"`
}

// TracerConfig configures the OpenTelemetry tracer provider. If not enabled traces will not be sent.
type TracerConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	CollectorEndpoint string `yaml:"collector_endpoint" json:"collector_endpoint"`
}

// ValidateAndDefault validates the tracer configuration.
func (c *TracerConfig) ValidateAndDefault() error {
	if c.Enabled && c.CollectorEndpoint == "" {
		return errors.New("tracer can't be enabled without a collector endpoint")
	}
	return nil
}

// NewSettings builds in-memory settings from a configuration file.
func NewSettings(filename string) (*Settings, error) {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file '%s'", filename)
	}
	settings := &Settings{}
	if err = yaml.Unmarshal(configData, settings); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file '%s'", filename)
	}
	settings.ConfigFile = filename
	return settings, nil
}

// Validate checks the settings for coherence and fills in defaults for
// everything the file left unset.
func (s *Settings) Validate() error {
	catcher := grip.NewBasicCatcher()

	if s.Bind == "" {
		s.Bind = DefaultBindAddress
	}
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}
	if s.Workers < minWorkers {
		s.Workers = minWorkers
	}
	if s.WorkDir == "" {
		s.WorkDir = filepath.Join(os.TempDir(), AppName)
	}
	if s.Github.StatusContext == "" {
		s.Github.StatusContext = AppName
	}
	if s.Database.URL != "" && s.Database.DB == "" {
		s.Database.DB = DefaultDatabaseName
	}

	for i, ref := range s.Pipelines {
		if ref.File == "" {
			catcher.Errorf("pipeline reference %d does not name a file", i)
		}
	}

	catcher.Add(s.Tracer.ValidateAndDefault())

	return catcher.Resolve()
}

func (s *Settings) HasDatabase() bool { return s.Database.URL != "" }
