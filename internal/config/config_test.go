package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultProvider verifies lmstudio is the default
func TestDefaultProvider(t *testing.T) {
	cfg := DefaultConfig()
	expected := "lmstudio"

	if cfg.DefaultProvider != expected {
		t.Errorf("Default provider = %q, want %q", cfg.DefaultProvider, expected)
	}

	t.Logf("✅ Default provider is %s", cfg.DefaultProvider)
}

// TestDefaultMemory verifies the memory log path and recall metric
func TestDefaultMemory(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Memory.Path != "rag_histories.json" {
		t.Errorf("Memory path = %q, want rag_histories.json", cfg.Memory.Path)
	}
	if cfg.Memory.Metric != "l2" {
		t.Errorf("Memory metric = %q, want l2", cfg.Memory.Metric)
	}
	if cfg.Memory.TopK != 3 {
		t.Errorf("Memory top_k = %d, want 3", cfg.Memory.TopK)
	}
	if cfg.History.MaxTurns != 6 {
		t.Errorf("History max_turns = %d, want 6", cfg.History.MaxTurns)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("DANZAR_TEST_KEY", "sk-secret")
	data := `
default_provider: claude
providers:
  claude:
    type: anthropic
    api_key: $DANZAR_TEST_KEY
    model: claude-sonnet-4-5
memory:
  metric: cosine
  top_k: 5
research:
  round_pause: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := cfg.ProviderFor("")
	if !ok {
		t.Fatal("default provider missing")
	}
	if p.APIKey != "sk-secret" {
		t.Errorf("api_key = %q, want expanded env value", p.APIKey)
	}
	if cfg.Memory.Metric != "cosine" || cfg.Memory.TopK != 5 {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.Research.RoundPause != 2*time.Second {
		t.Errorf("round_pause = %v, want 2s", cfg.Research.RoundPause)
	}
}

func TestValidateRejectsAnthropicWithoutKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["claude"] = ProviderConfig{Type: "anthropic"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for anthropic provider without api_key")
	}
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("error = %v, want ErrMissingCredential", err)
	}
}

func TestValidateRejectsUnknownMetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.Metric = "manhattan"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestValidateFillsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.TopK = 0
	cfg.History.MaxTurns = 0
	cfg.Memory.Metric = ""

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.TopK != 3 || cfg.History.MaxTurns != 6 || cfg.Memory.Metric != "l2" {
		t.Errorf("zero values not defaulted: %+v %+v", cfg.Memory, cfg.History)
	}
}
