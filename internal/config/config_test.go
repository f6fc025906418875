package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
openai:
  api-key: sk-test
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.OpenAI.BaseURL != DefaultOpenAIBaseURL {
		t.Errorf("expected default base URL, got %q", cfg.OpenAI.BaseURL)
	}
	if cfg.OpenAI.TimeoutSeconds != DefaultTimeout {
		t.Errorf("expected default timeout, got %d", cfg.OpenAI.TimeoutSeconds)
	}
	if cfg.Models.Default != DefaultModel {
		t.Errorf("expected default model, got %q", cfg.Models.Default)
	}
}

func TestLoadConfig_TrimsBaseURLAndKeys(t *testing.T) {
	path := writeConfig(t, `
api-keys:
  - "  key-one  "
  - ""
openai:
  api-key: sk-test
  base-url: "https://example.com/v1/"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.OpenAI.BaseURL != "https://example.com/v1" {
		t.Errorf("trailing slash must be trimmed, got %q", cfg.OpenAI.BaseURL)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "key-one" {
		t.Errorf("keys must be trimmed and blanks removed, got %v", cfg.APIKeys)
	}
}

func TestLoadConfigOptional_MissingFile(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected default config, got port %d", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("missing upstream key must fail validation")
	}
	cfg.OpenAI.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete config must validate, got %v", err)
	}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		wantBackend string
		wantPath    string
		wantURL     string
		wantNil     bool
		wantErr     bool
	}{
		{name: "empty", dsn: "", wantNil: true},
		{name: "whitespace only", dsn: "   ", wantNil: true},
		{name: "sqlite", dsn: "sqlite://data/audit.db", wantBackend: "sqlite", wantPath: "data/audit.db"},
		{name: "sqlite no path", dsn: "sqlite://", wantErr: true},
		{name: "postgres", dsn: "postgres://u:p@localhost/audit", wantBackend: "postgres", wantURL: "postgres://u:p@localhost/audit"},
		{name: "postgresql alias", dsn: "postgresql://localhost/audit", wantBackend: "postgres", wantURL: "postgresql://localhost/audit"},
		{name: "unknown scheme", dsn: "mysql://localhost/audit", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDSN failed: %v", err)
			}
			if tt.wantNil {
				if parsed != nil {
					t.Fatalf("expected nil, got %+v", parsed)
				}
				return
			}
			if parsed.Backend != tt.wantBackend {
				t.Errorf("backend = %q, want %q", parsed.Backend, tt.wantBackend)
			}
			if parsed.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", parsed.Path, tt.wantPath)
			}
			if parsed.URL != tt.wantURL {
				t.Errorf("url = %q, want %q", parsed.URL, tt.wantURL)
			}
		})
	}
}
