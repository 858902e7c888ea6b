// Package watch observes the runtime-state directory and reports loop
// activity as it happens. Used by the `ralph watch` command for live
// debugging of a session.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"ralphloop/internal/logging"
)

// Event is one observed state change, already classified.
type Event struct {
	Path string
	Op   string // created, modified, removed
	Kind string // verify-state, session, task, result, other
}

// Watcher streams Events for a runtime-state directory.
type Watcher struct {
	dir    string
	fsw    *fsnotify.Watcher
	events chan Event
}

// New starts watching dir and its session/task subdirectories.
func New(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to create runtime-state dir: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	// Subdirectories may not exist yet; watch them opportunistically and
	// pick up late creations via events on the parent.
	for _, sub := range []string{"ralph-sessions", "ralph-tasks"} {
		_ = fsw.Add(filepath.Join(dir, sub))
	}

	return &Watcher{
		dir:    dir,
		fsw:    fsw,
		events: make(chan Event, 64),
	}, nil
}

// Events returns the stream of classified events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run pumps events until the context is done. Always call Run exactly once;
// it closes the event channel on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(ev.Name)
					continue
				}
			}
			if e, ok := classify(ev); ok {
				select {
				case w.events <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.Loop("watch error: %v", err)
		}
	}
}

func classify(ev fsnotify.Event) (Event, bool) {
	var op string
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = "created"
	case ev.Op.Has(fsnotify.Write):
		op = "modified"
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		op = "removed"
	default:
		return Event{}, false
	}

	base := filepath.Base(ev.Name)
	kind := "other"
	switch {
	case base == "verify-active.json":
		kind = "verify-state"
	case strings.Contains(ev.Name, "ralph-sessions"):
		kind = "session"
	case strings.HasPrefix(base, "task-"):
		kind = "task"
	case strings.HasPrefix(base, "result-"):
		kind = "result"
	}

	return Event{Path: ev.Name, Op: op, Kind: kind}, true
}
