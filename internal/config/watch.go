package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/pesgel/gateway/internal/logger"
)

// GraphEvent is published when a file under the watched instruction-graph
// directory is created or written.
type GraphEvent struct {
	Path string
}

// WatchInstructionGraphs watches dir for created or modified files and
// sends a GraphEvent for each. It returns at once; a background goroutine
// watches until ctx is canceled, at which point the watcher is closed and
// the returned channel closed. Grounded on the teacher's fsnotify-driven
// config reload.
func WatchInstructionGraphs(ctx context.Context, dir string) (<-chan GraphEvent, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	out := make(chan GraphEvent, 16)

	go func() {
		defer w.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case out <- GraphEvent{Path: ev.Name}:
				case <-ctx.Done():
					return
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("instruction graph watcher error", "error", err)
			}
		}
	}()

	return out, nil
}
