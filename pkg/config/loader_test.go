package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/accord/pkg/config/provider"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	return path
}

func TestLoader_File_Load(t *testing.T) {
	configYAML := `
version: "1"
name: "test-deployment"
engine:
  max_center_rounds: 3
  default_k_star: 2
agents:
  - agent_id: logistics
    display_name: Logistics Desk
    scenes: [supply]
  - agent_id: finance
`
	path := writeConfigFile(t, configYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "test-deployment" {
		t.Errorf("expected name 'test-deployment', got %q", cfg.Name)
	}
	if cfg.Engine.MaxCenterRounds != 3 {
		t.Errorf("expected max_center_rounds 3, got %d", cfg.Engine.MaxCenterRounds)
	}
	if cfg.Engine.DefaultKStar != 2 {
		t.Errorf("expected default_k_star 2, got %d", cfg.Engine.DefaultKStar)
	}
	// Unset keys still get defaults
	if cfg.Engine.OfferTimeoutSeconds != 30 {
		t.Errorf("expected defaulted offer_timeout_seconds 30, got %d", cfg.Engine.OfferTimeoutSeconds)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	if cfg.Agents[1].DisplayName != "finance" {
		t.Errorf("expected display_name defaulted to agent_id, got %q", cfg.Agents[1].DisplayName)
	}
}

func TestLoader_File_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/file.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoader_File_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "agents:\n  - invalid: [unclosed\n")

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseBytes_UnknownFieldRejected(t *testing.T) {
	_, err := ParseBytes([]byte(`
engine:
  max_center_round: 3
`))
	if err == nil {
		t.Fatal("expected error for unknown key (typo)")
	}
}

func TestParseBytes_ValidationErrorIsConfigError(t *testing.T) {
	_, err := ParseBytes([]byte(`
engine:
  max_center_rounds: -2
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !IsConfigError(err) {
		t.Errorf("expected a ConfigError, got %T: %v", err, err)
	}
}

func TestParseBytes_EnvExpansion(t *testing.T) {
	t.Setenv("ACCORD_TEST_NAME", "from-env")
	t.Setenv("ACCORD_TEST_ROUNDS", "7")

	cfg, err := ParseBytes([]byte(`
name: ${ACCORD_TEST_NAME}
engine:
  max_center_rounds: ${ACCORD_TEST_ROUNDS}
  offer_timeout_seconds: ${ACCORD_TEST_MISSING:-45}
`))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if cfg.Name != "from-env" {
		t.Errorf("expected name from env, got %q", cfg.Name)
	}
	if cfg.Engine.MaxCenterRounds != 7 {
		t.Errorf("expected rounds 7 from env, got %d", cfg.Engine.MaxCenterRounds)
	}
	if cfg.Engine.OfferTimeoutSeconds != 45 {
		t.Errorf("expected default 45 for missing env var, got %d", cfg.Engine.OfferTimeoutSeconds)
	}
}

func TestParseBytes_JSONFallback(t *testing.T) {
	cfg, err := ParseBytes([]byte(`{"name": "json-config", "engine": {"default_k_star": 4}}`))
	if err != nil {
		t.Fatalf("failed to parse JSON config: %v", err)
	}
	if cfg.Name != "json-config" {
		t.Errorf("expected name 'json-config', got %q", cfg.Name)
	}
	if cfg.Engine.DefaultKStar != 4 {
		t.Errorf("expected default_k_star 4, got %d", cfg.Engine.DefaultKStar)
	}
}

func TestProvider_ParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    provider.Type
		wantErr bool
	}{
		{"file", provider.TypeFile, false},
		{"", provider.TypeFile, false},
		{"consul", provider.TypeConsul, false},
		{"etcd", provider.TypeEtcd, false},
		{"zookeeper", provider.TypeZookeeper, false},
		{"zk", provider.TypeZookeeper, false},
		{"redis", "", true},
	}

	for _, tt := range tests {
		got, err := provider.ParseType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("ACCORD_EXPAND_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${ACCORD_EXPAND_A}", "alpha"},
		{"$ACCORD_EXPAND_A", "alpha"},
		{"prefix-${ACCORD_EXPAND_A}-suffix", "prefix-alpha-suffix"},
		{"${ACCORD_EXPAND_MISSING:-fallback}", "fallback"},
		{"${ACCORD_EXPAND_MISSING}", ""},
	}

	for _, tt := range tests {
		if got := expandEnvString(tt.in); got != tt.want {
			t.Errorf("expandEnvString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
