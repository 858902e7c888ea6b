package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Verification.InContextAttempts != 3 {
		t.Errorf("InContextAttempts = %d, want 3", cfg.Verification.InContextAttempts)
	}
	if !cfg.Verification.Isolation.Enabled {
		t.Error("isolation should be enabled by default")
	}
	if cfg.Verification.Isolation.MaxBudgetUSD != 1.00 {
		t.Errorf("MaxBudgetUSD = %f, want 1.00", cfg.Verification.Isolation.MaxBudgetUSD)
	}
	if cfg.Spawner.Binary != "claude" {
		t.Errorf("Binary = %q, want claude", cfg.Spawner.Binary)
	}
	if cfg.SpawnTimeout() != 300*time.Second {
		t.Errorf("SpawnTimeout = %s, want 5m", cfg.SpawnTimeout())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope", "config.json"))
	if cfg.Verification.InContextAttempts != 3 {
		t.Errorf("missing file should yield defaults, got %+v", cfg.Verification)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"verification": {"inContextAttempts": 5}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Verification.InContextAttempts != 5 {
		t.Errorf("InContextAttempts = %d, want 5", cfg.Verification.InContextAttempts)
	}
	// Fields absent from the file keep their defaults.
	if !cfg.Verification.Isolation.Enabled {
		t.Error("absent isolation section should keep enabled=true default")
	}
	if cfg.Spawner.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.Spawner.MaxRetries)
	}
}

func TestLoadDisableIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"verification": {"isolation": {"enabled": false}}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Verification.Isolation.Enabled {
		t.Error("explicit enabled=false should stick")
	}
}

func TestLoadMalformedReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Verification.InContextAttempts != 3 || cfg.Spawner.Binary != "claude" {
		t.Errorf("malformed config should yield defaults, got %+v", cfg)
	}
}

func TestLoadNormalizesBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"verification": {"inContextAttempts": -1, "isolation": {"timeout": 0}}, "spawner": {"binary": ""}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Verification.InContextAttempts != 0 {
		t.Errorf("negative attempts should clamp to 0, got %d", cfg.Verification.InContextAttempts)
	}
	if cfg.Verification.Isolation.TimeoutSeconds != 300 {
		t.Errorf("zero timeout should reset to 300, got %d", cfg.Verification.Isolation.TimeoutSeconds)
	}
	if cfg.Spawner.Binary != "claude" {
		t.Errorf("empty binary should reset to claude, got %q", cfg.Spawner.Binary)
	}
}
