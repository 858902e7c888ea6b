// Package workspace resolves the plugin's runtime directories.
//
// Resolution order mirrors how the host invokes the hooks: an explicit
// RALPH_WORKSPACE override, then the plugin root the host exports
// (CLAUDE_PLUGIN_ROOT), then the current working directory as a
// development fallback.
package workspace

import (
	"os"
	"path/filepath"
)

const (
	// EnvWorkspace overrides all other resolution.
	EnvWorkspace = "RALPH_WORKSPACE"
	// EnvPluginRoot is exported by the host agent runtime.
	EnvPluginRoot = "CLAUDE_PLUGIN_ROOT"
	// EnvSpawned marks a process as a spawned (isolated) instance.
	// A spawned instance never escalates again.
	EnvSpawned = "RALPH_SPAWNED"
	// EnvSessionID carries the active session id to sibling hooks.
	EnvSessionID = "RALPH_SESSION_ID"
)

// Root returns the plugin root directory.
func Root() string {
	if ws := os.Getenv(EnvWorkspace); ws != "" {
		return ws
	}
	if root := os.Getenv(EnvPluginRoot); root != "" {
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// RuntimeStateDir returns the directory holding loop state across invocations.
func RuntimeStateDir() string {
	return filepath.Join(Root(), "runtime-state")
}

// SessionsDir returns the directory holding session ledgers.
func SessionsDir() string {
	return filepath.Join(RuntimeStateDir(), "ralph-sessions")
}

// TasksDir returns the directory holding task/result documents.
func TasksDir() string {
	return filepath.Join(RuntimeStateDir(), "ralph-tasks")
}

// VerifyStatePath returns the well-known path of the verification state file
// written by the upstream orchestrator.
func VerifyStatePath() string {
	return filepath.Join(RuntimeStateDir(), "verify-active.json")
}

// ConfigPath returns the path of the shared plugin config.
func ConfigPath() string {
	return filepath.Join(Root(), "server", "config.json")
}

// ArchivePath returns the path of the verification archive database.
func ArchivePath() string {
	return filepath.Join(RuntimeStateDir(), "ralph-archive.db")
}

// IsSpawned reports whether this process is itself a spawned instance.
func IsSpawned() bool {
	return os.Getenv(EnvSpawned) != ""
}
