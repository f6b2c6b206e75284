package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvHost      = "LANGFUSE_HOST"
	EnvPublicKey = "LANGFUSE_PUBLIC_KEY"
	EnvSecretKey = "LANGFUSE_SECRET_KEY"

	DefaultHost      = "https://cloud.langfuse.com"
	DefaultTraceName = "agentse.app.summarization"
	MaxPageLimit     = 100
)

type Config struct {
	Langfuse  Langfuse           `yaml:"langfuse"`
	Trace     Trace              `yaml:"trace"`
	Datasets  map[string]Dataset `yaml:"datasets" validate:"required,min=1,dive"`
	Metrics   Metrics            `yaml:"metrics"`
	Eval      Eval               `yaml:"eval"`
	Secrets   Secrets            `yaml:"secrets"`
	Results   Results            `yaml:"results"`
	Telemetry Telemetry          `yaml:"telemetry"`
}

type Langfuse struct {
	Host      string `yaml:"host" validate:"required,url"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	IgnoreEnv bool   `yaml:"ignore_env"`
}

type Trace struct {
	Name string   `yaml:"name" validate:"required"`
	Tags []string `yaml:"tags"`
}

type Dataset struct {
	DatasetName string `yaml:"dataset_name" validate:"required"`
	// Export overrides eval.export_csv_<split> for this split.
	Export string `yaml:"export"`
}

type Metrics struct {
	// Strict rejects unknown metric kinds instead of skipping them.
	Strict       bool          `yaml:"strict"`
	Compute      []MetricBlock `yaml:"compute" validate:"dive"`
	ScoreConfigs []ScoreConfig `yaml:"score_configs" validate:"dive"`
}

// MetricBlock selects a scoring function and its kind-specific options.
type MetricBlock struct {
	Kind   string         `yaml:"kind" validate:"required"`
	Params map[string]any `yaml:"params"`
}

type ScoreConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	DataType    string   `yaml:"data_type" validate:"omitempty,oneof=NUMERIC BOOLEAN CATEGORICAL"`
	MinValue    *float64 `yaml:"min_value"`
	MaxValue    *float64 `yaml:"max_value"`
	Description string   `yaml:"description"`
}

type Eval struct {
	ExportCSVTrain       string  `yaml:"export_csv_train"`
	ExportCSVTest        string  `yaml:"export_csv_test"`
	ExportFormat         string  `yaml:"export_format" validate:"omitempty,oneof=csv xlsx json"`
	PageSleepSec         float64 `yaml:"page_sleep_sec" validate:"gte=0"`
	PageLimit            int     `yaml:"page_limit" validate:"gte=0,lte=100"`
	Workers              int     `yaml:"workers" validate:"gte=0"`
	MaxRetries           int     `yaml:"max_retries" validate:"gte=0"`
	RetryAfterDefaultSec float64 `yaml:"retry_after_default_sec" validate:"gte=0"`
	RequestTimeoutSec    float64 `yaml:"request_timeout_sec" validate:"gte=0"`
	DryRun               bool    `yaml:"dry_run"`

	pageSleepSet  bool
	maxRetriesSet bool
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Telemetry struct {
	LogLevel        string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	TraceStdout     bool   `yaml:"trace_stdout"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// ErrMissingKeys is returned when no public/secret key pair could be found.
var ErrMissingKeys = errors.New("langfuse keys missing")

type loadOptions struct {
	requireKeys bool
}

// LoadOption tunes Load.
type LoadOption func(*loadOptions)

// WithoutCredentials skips the key check, for commands that never talk to
// the trace store.
func WithoutCredentials() LoadOption {
	return func(o *loadOptions) { o.requireKeys = false }
}

// Load reads a YAML (or JSON) config, fills credentials from the secrets env
// file and the environment, applies defaults and validates the result.
func Load(path string, opts ...LoadOption) (*Config, error) {
	lo := loadOptions{requireKeys: true}
	for _, o := range opts {
		o(&lo)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Secrets.EnvFile != "" {
		envFile := cfg.Secrets.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(filepath.Dir(path), envFile)
		}
		secrets, err := ParseEnvFile(envFile)
		if err != nil {
			return nil, fmt.Errorf("reading secrets env file: %w", err)
		}
		cfg.applySecrets(secrets)
	}
	if !cfg.Langfuse.IgnoreEnv {
		cfg.applyEnv(os.LookupEnv)
	}
	if err := validate(cfg, lo.requireKeys); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document and applies defaults. It does not consult
// the environment and does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// Zero is a meaningful page sleep and retry count, so remember whether
	// the keys were present at all before defaulting.
	var present struct {
		Eval map[string]any `yaml:"eval"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, err
	}
	_, cfg.Eval.pageSleepSet = present.Eval["page_sleep_sec"]
	_, cfg.Eval.maxRetriesSet = present.Eval["max_retries"]
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Langfuse.Host == "" {
		cfg.Langfuse.Host = DefaultHost
	}
	cfg.Langfuse.Host = strings.TrimRight(cfg.Langfuse.Host, "/")
	if cfg.Trace.Name == "" {
		cfg.Trace.Name = DefaultTraceName
	}
	if !cfg.Eval.pageSleepSet {
		cfg.Eval.PageSleepSec = 0.4
	}
	if !cfg.Eval.maxRetriesSet {
		cfg.Eval.MaxRetries = 1
	}
	if cfg.Eval.PageLimit == 0 {
		cfg.Eval.PageLimit = MaxPageLimit
	}
	if cfg.Eval.Workers == 0 {
		cfg.Eval.Workers = 1
	}
	if cfg.Eval.RetryAfterDefaultSec == 0 {
		cfg.Eval.RetryAfterDefaultSec = 2
	}
	if cfg.Eval.RequestTimeoutSec == 0 {
		cfg.Eval.RequestTimeoutSec = 60
	}
	if cfg.Telemetry.LogLevel == "" {
		cfg.Telemetry.LogLevel = "info"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Langfuse.Host = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvPublicKey); ok && v != "" {
		c.Langfuse.PublicKey = v
	}
	if v, ok := lookup(EnvSecretKey); ok && v != "" {
		c.Langfuse.SecretKey = v
	}
}

// applySecrets only fills keys the config file left empty.
func (c *Config) applySecrets(secrets map[string]string) {
	if c.Langfuse.PublicKey == "" {
		c.Langfuse.PublicKey = secrets[EnvPublicKey]
	}
	if c.Langfuse.SecretKey == "" {
		c.Langfuse.SecretKey = secrets[EnvSecretKey]
	}
	if v := secrets[EnvHost]; v != "" && c.Langfuse.Host == DefaultHost {
		c.Langfuse.Host = strings.TrimRight(v, "/")
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg *Config, requireKeys bool) error {
	if err := structValidator.Struct(cfg); err != nil {
		return err
	}
	if requireKeys && (cfg.Langfuse.PublicKey == "" || cfg.Langfuse.SecretKey == "") {
		return fmt.Errorf("%w: set them in the config, the secrets env file, or %s/%s", ErrMissingKeys, EnvPublicKey, EnvSecretKey)
	}
	for i, b := range cfg.Metrics.Compute {
		if strings.TrimSpace(b.Kind) == "" {
			return fmt.Errorf("metric block %d: kind is required", i)
		}
	}
	return nil
}

// Split returns the dataset settings for a split.
func (c *Config) Split(name string) (Dataset, error) {
	ds, ok := c.Datasets[name]
	if !ok {
		return Dataset{}, fmt.Errorf("split %q not configured (have %s)", name, strings.Join(c.SplitNames(), ", "))
	}
	return ds, nil
}

// SplitNames lists configured splits, train and test first.
func (c *Config) SplitNames() []string {
	var names []string
	for _, known := range []string{"train", "test"} {
		if _, ok := c.Datasets[known]; ok {
			names = append(names, known)
		}
	}
	var rest []string
	for name := range c.Datasets {
		if name != "train" && name != "test" {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// ExportPath resolves where the report for a split is written.
func (c *Config) ExportPath(split string) string {
	if ds, ok := c.Datasets[split]; ok && ds.Export != "" {
		return ds.Export
	}
	switch split {
	case "train":
		if c.Eval.ExportCSVTrain != "" {
			return c.Eval.ExportCSVTrain
		}
	case "test":
		if c.Eval.ExportCSVTest != "" {
			return c.Eval.ExportCSVTest
		}
	}
	return fmt.Sprintf("%s_eval.csv", split)
}

func (e Eval) PageDelay() time.Duration {
	return seconds(e.PageSleepSec)
}

func (e Eval) RetryAfterDefault() time.Duration {
	return seconds(e.RetryAfterDefaultSec)
}

func (e Eval) RequestTimeout() time.Duration {
	return seconds(e.RequestTimeoutSec)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
