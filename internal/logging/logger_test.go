package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, "server")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDebugModeOffWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"logging": {"debug_mode": false}}`)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Close()

	Loop("should not appear")

	if _, err := os.Stat(filepath.Join(root, "runtime-state", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory created with debug mode off")
	}
}

func TestDebugModeOnWritesCategoryFiles(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"logging": {"debug_mode": true, "level": "debug"}}`)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Close()

	Loop("loop message %d", 42)
	Breaker("breaker message")

	data, err := os.ReadFile(filepath.Join(root, "runtime-state", "logs", "loop.log"))
	if err != nil {
		t.Fatalf("loop.log: %v", err)
	}
	if !strings.Contains(string(data), "loop message 42") {
		t.Errorf("loop.log = %q", data)
	}
	if !strings.Contains(string(data), "[INFO]") {
		t.Errorf("missing level tag: %q", data)
	}

	if _, err := os.Stat(filepath.Join(root, "runtime-state", "logs", "breaker.log")); err != nil {
		t.Errorf("breaker.log not written: %v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"logging": {"debug_mode": true, "categories": {"spawn": false}}}`)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Close()

	Spawn("filtered out")
	Loop("kept")

	if data, err := os.ReadFile(filepath.Join(root, "runtime-state", "logs", "spawn.log")); err == nil && strings.Contains(string(data), "filtered out") {
		t.Error("disabled category still logged")
	}
	data, err := os.ReadFile(filepath.Join(root, "runtime-state", "logs", "loop.log"))
	if err != nil || !strings.Contains(string(data), "kept") {
		t.Errorf("enabled category missing: %v %q", err, data)
	}
}

func TestLevelFilter(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"logging": {"debug_mode": true, "level": "warn"}}`)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Close()

	LoopDebug("debug dropped")
	Loop("info dropped")
	Get(CategoryLoop).Warn("warn kept")

	data, _ := os.ReadFile(filepath.Join(root, "runtime-state", "logs", "loop.log"))
	if strings.Contains(string(data), "dropped") {
		t.Errorf("below-level messages written: %q", data)
	}
	if !strings.Contains(string(data), "warn kept") {
		t.Errorf("warn message missing: %q", data)
	}
}

func TestInitializeRequiresRoot(t *testing.T) {
	if err := Initialize(""); err == nil {
		t.Error("empty root should error")
	}
}
