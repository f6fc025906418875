// Package bootstrap provides application initialization for gembridge
// CLI commands.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/gembridge/gembridge/internal/config"
	log "github.com/gembridge/gembridge/internal/logging"
)

// Result contains the result of bootstrapping the application.
type Result struct {
	Config         *config.Config
	ConfigFilePath string
}

// Bootstrap loads environment, configuration file, and env overrides.
// It should be called before any command that needs config access.
func Bootstrap(configPath string) (*Result, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warnf("failed to load .env file")
		}
	}

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(wd, "config.yaml")
	}

	if !explicit {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			autoInitConfig(configPath)
		}
	}

	cfg, err := config.LoadConfigOptional(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	return &Result{
		Config:         cfg,
		ConfigFilePath: configPath,
	}, nil
}

// ApplyEnvOverrides applies environment variable overrides for cloud
// deployment, where a config file may not exist at all.
func ApplyEnvOverrides(cfg *config.Config) {
	if port, ok := lookupEnvInt("GEMBRIDGE_PORT"); ok {
		cfg.Port = port
		log.Infof("Port overridden by env: %d", port)
	}

	if debug, ok := lookupEnvBool("GEMBRIDGE_DEBUG"); ok {
		cfg.Debug = debug
		log.Infof("Debug overridden by env: %v", debug)
	}

	if keys, ok := os.LookupEnv("GEMBRIDGE_API_KEYS"); ok {
		cfg.APIKeys = nil
		for _, k := range strings.Split(keys, ",") {
			if trimmed := strings.TrimSpace(k); trimmed != "" {
				cfg.APIKeys = append(cfg.APIKeys, trimmed)
			}
		}
		log.Infof("API keys overridden by env: %d keys", len(cfg.APIKeys))
	}

	if key, ok := os.LookupEnv("GEMBRIDGE_OPENAI_API_KEY"); ok {
		cfg.OpenAI.APIKey = key
		log.Infof("Upstream API key overridden by env")
	}

	if baseURL, ok := os.LookupEnv("GEMBRIDGE_OPENAI_BASE_URL"); ok {
		cfg.OpenAI.BaseURL = strings.TrimRight(baseURL, "/")
		log.Infof("Upstream base URL overridden by env: %s", cfg.OpenAI.BaseURL)
	}

	if model, ok := os.LookupEnv("GEMBRIDGE_DEFAULT_MODEL"); ok {
		cfg.Models.Default = model
		log.Infof("Default model overridden by env: %s", model)
	}

	if dsn, ok := os.LookupEnv("GEMBRIDGE_AUDIT_DSN"); ok {
		cfg.Audit.DSN = dsn
		log.Infof("Audit DSN overridden by env")
	}

	if days, ok := lookupEnvInt("GEMBRIDGE_AUDIT_RETENTION_DAYS"); ok {
		cfg.Audit.RetentionDays = days
		log.Infof("Audit retention days overridden by env: %d", days)
	}

	if loggingToFile, ok := lookupEnvBool("GEMBRIDGE_LOGGING_TO_FILE"); ok {
		cfg.LoggingToFile = loggingToFile
		log.Infof("Logging to file overridden by env: %v", loggingToFile)
	}
}

func lookupEnvInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warnf("Ignoring %s: %q is not an integer", name, v)
		return 0, false
	}
	return n, true
}

func lookupEnvBool(name string) (bool, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Warnf("Ignoring %s: %q is not a boolean", name, v)
		return false, false
	}
	return b, true
}

// autoInitConfig silently creates a starter config on first run.
func autoInitConfig(configPath string) {
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return
	}
	fmt.Printf("First run: created config at %s\n", configPath)
}
