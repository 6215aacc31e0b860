// Package config loads the service configuration: compiled defaults, an
// optional YAML file, then environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in LLM.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config is the full service configuration.
type Config struct {
	Port           int    `yaml:"port"`
	WebhookSecret  string `yaml:"webhook_secret"`
	AppID          string `yaml:"app_id"`
	AppPrivateKey  string `yaml:"app_private_key"`
	HostingToken   string `yaml:"hosting_token"`
	HostingAPIBase string `yaml:"hosting_api_base"`

	LLM         LLMConfig         `yaml:"llm"`
	Redis       RedisConfig       `yaml:"redis"`
	Limits      LimitsConfig      `yaml:"limits"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Faults      FaultsConfig      `yaml:"faults"`
	Server      ServerConfig      `yaml:"server"`
}

// LLMConfig selects and bounds the judgment model.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// RedisConfig enables the shared store for multi-instance deployments.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// LimitsConfig bounds diff size and concurrency.
type LimitsConfig struct {
	MaxFiles        int `yaml:"max_files"`
	MaxChanges      int `yaml:"max_changes"`
	PipelinePermits int `yaml:"pipeline_permits"`
	LLMPermits      int `yaml:"llm_permits"`
}

// IdempotencyConfig bounds the duplicate-delivery guard.
type IdempotencyConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// FaultsConfig carries the chaos trigger plan.
type FaultsConfig struct {
	Enabled  bool              `yaml:"enabled"`
	PlanFile string            `yaml:"plan_file"`
	Triggers map[string]string `yaml:"triggers"`
}

// ServerConfig bounds the HTTP listener.
type ServerConfig struct {
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	MaxConns      int           `yaml:"max_conns"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		HostingAPIBase: "https://api.github.com",
		LLM: LLMConfig{
			Provider:   ProviderAnthropic,
			Model:      "claude-sonnet-4-5",
			MaxTokens:  2000,
			Timeout:    30 * time.Second,
			MaxRetries: 1,
		},
		Limits: LimitsConfig{
			MaxFiles:        50,
			MaxChanges:      5000,
			PipelinePermits: 10,
			LLMPermits:      3,
		},
		Idempotency: IdempotencyConfig{
			TTLSeconds: 3600,
			MaxEntries: 1000,
		},
		Faults: FaultsConfig{
			Triggers: map[string]string{},
		},
		Server: ServerConfig{
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  30 * time.Second,
			ShutdownGrace: 20 * time.Second,
			MaxConns:      256,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path when
// path is non-empty, and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overlays the environment onto cfg. lookup is injectable for tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REVIEWGATE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REVIEWGATE_PORT: %w", err)
		}
		c.Port = port
	}
	setString(lookup, "WEBHOOK_SECRET", &c.WebhookSecret)
	setString(lookup, "APP_ID", &c.AppID)
	setString(lookup, "APP_PRIVATE_KEY", &c.AppPrivateKey)
	setString(lookup, "HOSTING_TOKEN", &c.HostingToken)
	setString(lookup, "HOSTING_API_BASE", &c.HostingAPIBase)
	setString(lookup, "LLM_PROVIDER", &c.LLM.Provider)
	setString(lookup, "LLM_MODEL", &c.LLM.Model)

	// The provider key wins over a generic yaml api_key.
	switch c.LLM.Provider {
	case ProviderGemini:
		setString(lookup, "GEMINI_API_KEY", &c.LLM.APIKey)
	default:
		setString(lookup, "ANTHROPIC_API_KEY", &c.LLM.APIKey)
	}

	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}

	if v, ok := lookup("FAULTS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: FAULTS_ENABLED: %w", err)
		}
		c.Faults.Enabled = enabled
	}
	for _, pair := range os.Environ() {
		name, value, found := strings.Cut(pair, "=")
		if !found || !strings.HasPrefix(name, "FAULT_") {
			continue
		}
		code := strings.TrimPrefix(name, "FAULT_")
		if code == "" || value == "" {
			continue
		}
		if c.Faults.Triggers == nil {
			c.Faults.Triggers = map[string]string{}
		}
		c.Faults.Triggers[code] = value
	}
	return nil
}

func setString(lookup func(string) (string, bool), name string, dst *string) {
	if v, ok := lookup(name); ok && v != "" {
		*dst = v
	}
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook_secret is required"))
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis enabled without a url"))
	}
	if c.Limits.PipelinePermits <= 0 || c.Limits.LLMPermits <= 0 {
		errs = append(errs, errors.New("permit counts must be positive"))
	}
	if c.Limits.LLMPermits > c.Limits.PipelinePermits {
		errs = append(errs, errors.New("llm permits cannot exceed pipeline permits"))
	}
	if c.Idempotency.TTLSeconds <= 0 || c.Idempotency.MaxEntries <= 0 {
		errs = append(errs, errors.New("idempotency bounds must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IdempotencyTTL returns the guard TTL as a duration.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Idempotency.TTLSeconds) * time.Second
}

// LoadFaultPlan reads a standalone trigger plan: a YAML map of fault code to
// trigger string. The fault watcher re-reads it on every file change.
func LoadFaultPlan(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read fault plan %s: %w", path, err)
	}
	triggers := map[string]string{}
	if err := yaml.Unmarshal(data, &triggers); err != nil {
		return nil, fmt.Errorf("config: parse fault plan %s: %w", path, err)
	}
	return triggers, nil
}
