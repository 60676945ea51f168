// Package config loads meetgraph settings from defaults, an optional YAML
// file and MEETGRAPH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/dshills/meetgraph/graph"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "MEETGRAPH_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Config is the complete runtime configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	LLM     LLMConfig     `yaml:"llm"`
	STT     STTConfig     `yaml:"stt"`
	Tools   []ToolConfig  `yaml:"tools"`
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// MinutesDir receives one JSON file per completed meeting.
	MinutesDir string `yaml:"minutes_dir"`
}

// StoreConfig selects the checkpoint backend. DSN is a file path for
// sqlite, a directory for badger and a connection string for mysql and
// postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LLMConfig selects the language model.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	// JSONMode asks providers that support it for a JSON-only reply.
	JSONMode bool `yaml:"json_mode"`
}

// STTConfig configures the speech-to-text service.
type STTConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Language    string `yaml:"language"`
	MinSpeakers int    `yaml:"min_speakers"`
	MaxSpeakers int    `yaml:"max_speakers"`
}

// ToolConfig registers a webhook that carries out action items for the
// named tool.
type ToolConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	MaxSteps     int           `yaml:"max_steps"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// Policies overrides retry policy classes (stt, llm, mcp, default).
	Policies graph.Policies `yaml:"policies"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig enables OpenTelemetry spans for engine events.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: DriverSQLite, DSN: "meetgraph.db"},
		LLM:   LLMConfig{Provider: ProviderAnthropic},
		STT: STTConfig{
			Language:    "ko-KR",
			MinSpeakers: 1,
			MaxSpeakers: 6,
		},
		Engine: EngineConfig{
			MaxSteps:     graph.DefaultMaxSteps,
			StageTimeout: 10 * time.Minute,
			Policies:     graph.DefaultPolicies(),
		},
		Log:        LogConfig{Level: "info", Format: "text"},
		MinutesDir: "minutes",
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// path is not empty, then environment variables. The result is validated.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		policies := file.Engine.Policies
		file.Engine.Policies = nil
		if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merge config: %w", err)
		}
		if err := mergePolicies(cfg.Engine.Policies, policies); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider, lookup)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergePolicies overlays each class in file onto the matching class in dst
// field by field, so a file may change only max_retries of a class.
func mergePolicies(dst, file graph.Policies) error {
	for class, p := range file {
		merged := dst.For(class)
		if err := mergo.Merge(&merged, p, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge policy %q: %w", class, err)
		}
		dst[class] = merged
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORE_DRIVER": &cfg.Store.Driver,
		"STORE_DSN":    &cfg.Store.DSN,
		"LLM_PROVIDER": &cfg.LLM.Provider,
		"LLM_MODEL":    &cfg.LLM.Model,
		"LLM_API_KEY":  &cfg.LLM.APIKey,
		"LLM_BASE_URL": &cfg.LLM.BaseURL,
		"STT_URL":      &cfg.STT.URL,
		"STT_API_KEY":  &cfg.STT.APIKey,
		"STT_LANGUAGE": &cfg.STT.Language,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_FORMAT":   &cfg.Log.Format,
		"METRICS_ADDR": &cfg.Metrics.Addr,
		"MINUTES_DIR":  &cfg.MinutesDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	var errs []error
	if v, ok := lookup(EnvPrefix + "LLM_JSON_MODE"); ok {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("LLM_JSON_MODE", err))
		cfg.LLM.JSONMode = b
	}
	if v, ok := lookup(EnvPrefix + "TRACING"); ok {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("TRACING", err))
		cfg.Tracing.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "MAX_STEPS"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("MAX_STEPS", err))
		cfg.Engine.MaxSteps = n
	}
	if v, ok := lookup(EnvPrefix + "STAGE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		errs = append(errs, envErr("STAGE_TIMEOUT", err))
		cfg.Engine.StageTimeout = d
	}

	// MEETGRAPH_RETRY_<CLASS>_{MAX_RETRIES,INITIAL_DELAY,MAX_DELAY}
	for _, class := range []string{graph.PolicySTT, graph.PolicyLLM, graph.PolicyMCP, graph.PolicyDefault} {
		prefix := "RETRY_" + strings.ToUpper(class) + "_"
		p := cfg.Engine.Policies.For(class)
		changed := false
		if v, ok := lookup(EnvPrefix + prefix + "MAX_RETRIES"); ok {
			n, err := strconv.Atoi(v)
			errs = append(errs, envErr(prefix+"MAX_RETRIES", err))
			p.MaxRetries, changed = n, true
		}
		if v, ok := lookup(EnvPrefix + prefix + "INITIAL_DELAY"); ok {
			d, err := time.ParseDuration(v)
			errs = append(errs, envErr(prefix+"INITIAL_DELAY", err))
			p.InitialDelay, changed = d, true
		}
		if v, ok := lookup(EnvPrefix + prefix + "MAX_DELAY"); ok {
			d, err := time.ParseDuration(v)
			errs = append(errs, envErr(prefix+"MAX_DELAY", err))
			p.MaxDelay, changed = d, true
		}
		if changed {
			if cfg.Engine.Policies == nil {
				cfg.Engine.Policies = graph.Policies{}
			}
			cfg.Engine.Policies[class] = p
		}
	}
	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
}

// providerKey reads the API key variable each provider's SDK documents.
func providerKey(provider string, lookup func(string) (string, bool)) string {
	var name string
	switch provider {
	case ProviderAnthropic:
		name = "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		name = "OPENAI_API_KEY"
	case ProviderGoogle:
		name = "GOOGLE_API_KEY"
	default:
		return ""
	}
	v, _ := lookup(name)
	return v
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverMySQL, DriverPostgres, DriverBadger:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	if c.STT.MinSpeakers < 1 || c.STT.MaxSpeakers < c.STT.MinSpeakers {
		errs = append(errs, fmt.Errorf("stt speaker range %d-%d is invalid", c.STT.MinSpeakers, c.STT.MaxSpeakers))
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		if t.Name == "" || t.URL == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name and url are required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name))
		}
		seen[t.Name] = true
	}

	if c.Engine.MaxSteps <= 0 {
		errs = append(errs, errors.New("engine.max_steps must be positive"))
	}
	if c.Engine.StageTimeout < 0 {
		errs = append(errs, errors.New("engine.stage_timeout must not be negative"))
	}
	if err := c.Engine.Policies.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine.policies: %w", err))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
