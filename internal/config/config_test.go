// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

llm:
  base_url: "http://localhost:8000/v1"
  api_key: "sk-test"
  responder_model: "gpt-4o-mini"
  classifier_model: "gpt-4o-mini"
  embeddings_model: "text-embedding-3-small"
  timeout: "45s"

retrieval:
  persist_path: "/var/lib/chatizia/vectors"

escalation:
  window_size: 5
  negative_threshold: 3

events:
  reconcile_interval: "20s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.LLM.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want 45s", cfg.LLM.Timeout)
	}
	if cfg.Retrieval.PersistPath != "/var/lib/chatizia/vectors" {
		t.Errorf("Retrieval.PersistPath = %q", cfg.Retrieval.PersistPath)
	}
	if cfg.Escalation.WindowSize != 5 || cfg.Escalation.NegativeThreshold != 3 {
		t.Errorf("Escalation = %+v", cfg.Escalation)
	}
	if cfg.Events.ReconcileInterval != 20*time.Second {
		t.Errorf("ReconcileInterval = %v, want 20s", cfg.Events.ReconcileInterval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("default HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.LLM.ResponderModel != "gpt-4o-mini" {
		t.Errorf("default ResponderModel = %q", cfg.LLM.ResponderModel)
	}
	if cfg.LLM.ClassifierModel != cfg.LLM.ResponderModel {
		t.Errorf("ClassifierModel should default to ResponderModel, got %q", cfg.LLM.ClassifierModel)
	}
	if cfg.LLM.EmbeddingsModel != "text-embedding-3-small" {
		t.Errorf("default EmbeddingsModel = %q", cfg.LLM.EmbeddingsModel)
	}
	if cfg.Escalation.WindowSize != 5 || cfg.Escalation.NegativeThreshold != 3 {
		t.Errorf("default Escalation = %+v", cfg.Escalation)
	}
	if cfg.Events.ReconcileInterval != 15*time.Second {
		t.Errorf("default ReconcileInterval = %v", cfg.Events.ReconcileInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CHATIZIA_TEST_API_KEY", "sk-from-env")

	configPath := writeConfig(t, `
database:
  path: "./test.db"

llm:
  api_key: "${CHATIZIA_TEST_API_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.APIKey, "sk-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

llm:
  api_key: "${CHATIZIA_DEFINITELY_UNSET_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for missing database.path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

events:
  reconcile_interval: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "reconcile_interval") {
		t.Errorf("error = %v, want mention of reconcile_interval", err)
	}
}

func TestLoad_ThresholdExceedsWindow(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

escalation:
  window_size: 3
  negative_threshold: 4
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error when threshold exceeds window size")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not: valid")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
