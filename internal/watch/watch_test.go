package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectUntil(t *testing.T, w *Watcher, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("event channel closed before a matching event")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestWatcherSeesVerifyState(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(dir, "verify-active.json")
	if err := os.WriteFile(path, []byte(`{"config":{"command":"true"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	ev := collectUntil(t, w, func(ev Event) bool { return ev.Kind == "verify-state" })
	if ev.Op != "created" && ev.Op != "modified" {
		t.Errorf("Op = %q", ev.Op)
	}
}

func TestWatcherClassifiesTaskDocs(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "ralph-tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		t.Fatal(err)
	}

	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(tasksDir, "task-abc123.md"), []byte("---\nid: task-abc123\n---\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := collectUntil(t, w, func(ev Event) bool { return ev.Kind == "task" })
	if filepath.Base(ev.Path) != "task-abc123.md" {
		t.Errorf("Path = %q", ev.Path)
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	// Channel closes after Run returns.
	select {
	case _, ok := <-w.Events():
		if ok {
			// A buffered event is fine; drain until close.
			for range w.Events() {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}
}
