// Package config loads the shared plugin configuration from server/config.json.
// Missing files and missing fields fall back to defaults; a broken config file
// never prevents a hook from running.
package config

import (
	"encoding/json"
	"os"
	"time"

	"ralphloop/internal/logging"
)

// IsolationConfig controls context-isolated escalation spawns.
type IsolationConfig struct {
	Enabled        bool    `json:"enabled"`
	MaxBudgetUSD   float64 `json:"maxBudget"`
	TimeoutSeconds int     `json:"timeout"`
	PermissionMode string  `json:"permissionMode"`
}

// VerificationConfig controls the verification loop.
type VerificationConfig struct {
	// InContextAttempts is the number of in-context retries before the
	// controller escalates to an isolated spawn.
	InContextAttempts int             `json:"inContextAttempts"`
	Isolation         IsolationConfig `json:"isolation"`
}

// SpawnerConfig configures the agent CLI spawner.
type SpawnerConfig struct {
	Binary        string `json:"binary"`
	MaxRetries    int    `json:"maxRetries"`
	BaseDelayMS   int    `json:"baseDelayMs"`
	MaxDelayMS    int    `json:"maxDelayMs"`
	FailThreshold int    `json:"failureThreshold"`
	RecoveryS     int    `json:"recoverySeconds"`
	MaxConcurrent int    `json:"maxConcurrent"`
	HalfOpenCalls int    `json:"halfOpenMaxCalls"`
}

// LoggingConfig mirrors the logging section; consumed by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// HooksConfig holds hook presentation options.
type HooksConfig struct {
	ExpandedOutput bool `json:"expandedOutput"`
}

// Config is the full plugin configuration.
type Config struct {
	Verification VerificationConfig `json:"verification"`
	Spawner      SpawnerConfig      `json:"spawner"`
	Logging      LoggingConfig      `json:"logging"`
	Hooks        HooksConfig        `json:"hooks"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Verification: VerificationConfig{
			InContextAttempts: 3,
			Isolation: IsolationConfig{
				Enabled:        true,
				MaxBudgetUSD:   1.00,
				TimeoutSeconds: 300,
				PermissionMode: "delegate",
			},
		},
		Spawner: SpawnerConfig{
			Binary:        "claude",
			MaxRetries:    3,
			BaseDelayMS:   1000,
			MaxDelayMS:    30000,
			FailThreshold: 5,
			RecoveryS:     60,
			MaxConcurrent: 3,
			HalfOpenCalls: 1,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from path, layering it over defaults. Any read or parse
// error yields the defaults.
func Load(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	// Unmarshal into the defaults so absent fields keep their values.
	if err := json.Unmarshal(data, &cfg); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config parse failed, using defaults: %v", err)
		return Default()
	}

	if cfg.Verification.InContextAttempts < 0 {
		cfg.Verification.InContextAttempts = 0
	}
	if cfg.Verification.Isolation.TimeoutSeconds <= 0 {
		cfg.Verification.Isolation.TimeoutSeconds = 300
	}
	if cfg.Spawner.Binary == "" {
		cfg.Spawner.Binary = "claude"
	}

	return cfg
}

// SpawnTimeout returns the isolation spawn timeout as a duration.
func (c Config) SpawnTimeout() time.Duration {
	return time.Duration(c.Verification.Isolation.TimeoutSeconds) * time.Second
}
