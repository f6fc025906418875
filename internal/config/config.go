// Package config defines the gembridge configuration file format and
// its loading rules.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bridge.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	// LoggingToFile mirrors logs to a rotated file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file,omitempty" json:"logging-to-file,omitempty"`

	// LogDir is the directory for rotated log files. Default: "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// APIKeys are the inbound keys accepted on x-goog-api-key or ?key=.
	// Empty list disables inbound authentication.
	APIKeys []string `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// OpenAI configures the upstream chat-completions backend.
	OpenAI OpenAIConfig `yaml:"openai" json:"openai"`

	// Models configures Gemini-to-OpenAI model name mapping.
	Models ModelsConfig `yaml:"models" json:"models"`

	// Audit configures request/response audit persistence.
	Audit AuditConfig `yaml:"audit,omitempty" json:"audit,omitempty"`
}

// OpenAIConfig holds upstream backend settings.
type OpenAIConfig struct {
	// APIKey is the bearer token for the upstream API.
	APIKey string `yaml:"api-key" json:"api-key"`

	// BaseURL is the upstream API root. Default: https://api.openai.com/v1
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// TimeoutSeconds bounds non-streaming upstream calls. Default: 600.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// ModelsConfig holds the model name mapping table.
type ModelsConfig struct {
	// Default is the upstream model used when a Gemini model has no mapping.
	Default string `yaml:"default" json:"default"`

	// Mapping maps Gemini model names to upstream model names.
	Mapping map[string]string `yaml:"mapping,omitempty" json:"mapping,omitempty"`
}

// AuditConfig holds audit persistence settings.
type AuditConfig struct {
	// DSN selects the backend (sqlite://path or postgres://...). Empty
	// disables persistence; audit entries go to the debug log only.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// BatchSize is the number of entries batched per write. Default: 100.
	BatchSize int `yaml:"batch-size,omitempty" json:"batch-size,omitempty"`

	// FlushInterval is how often pending entries are flushed. Default: 5s.
	FlushInterval string `yaml:"flush-interval,omitempty" json:"flush-interval,omitempty"`

	// RetentionDays is how long entries are kept. Default: 30.
	RetentionDays int `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`
}

const (
	DefaultPort          = 8317
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultTimeout       = 600
	DefaultModel         = "gpt-4o"

	// DefaultGeminiModel substitutes for a request that omits the model
	// field entirely, before mapping is applied.
	DefaultGeminiModel = "gemini-1.5-pro"
)

// NewDefaultConfig returns a config with all defaults applied and an
// empty mapping table.
func NewDefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,
		OpenAI: OpenAIConfig{
			BaseURL:        DefaultOpenAIBaseURL,
			TimeoutSeconds: DefaultTimeout,
		},
		Models: ModelsConfig{Default: DefaultModel},
	}
}

// LoadConfig reads and validates the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but a missing file yields a
// default config instead of an error.
func LoadConfigOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewDefaultConfig(), nil
	}
	return LoadConfig(path)
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	cfg.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.OpenAI.BaseURL), "/")
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.OpenAI.TimeoutSeconds <= 0 {
		cfg.OpenAI.TimeoutSeconds = DefaultTimeout
	}
	if cfg.Models.Default == "" {
		cfg.Models.Default = DefaultModel
	}
	keys := cfg.APIKeys[:0]
	for _, k := range cfg.APIKeys {
		if trimmed := strings.TrimSpace(k); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	cfg.APIKeys = keys
}

// Validate checks that the config is usable for serving.
func (cfg *Config) Validate() error {
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("config error: openai.api-key is required")
	}
	if cfg.Models.Default == "" {
		return fmt.Errorf("config error: models.default is required")
	}
	return nil
}

// GenerateDefaultConfigYAML returns a commented starter config.
func GenerateDefaultConfigYAML() []byte {
	return []byte(`port: 8317
# api-keys:
#   - your-inbound-key
openai:
  api-key: ""
  base-url: https://api.openai.com/v1
models:
  default: gpt-4o
  mapping:
    gemini-1.5-pro: gpt-4o
    gemini-1.5-flash: gpt-4o-mini
# audit:
#   dsn: sqlite://~/.gembridge/audit.db
`)
}
