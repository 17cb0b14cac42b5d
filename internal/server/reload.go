package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader hot-reloads the policy when its file changes on disk. The parent
// directory is watched rather than the file itself so editors that replace
// the file by rename (vim, sed -i) keep triggering reloads.
type Reloader struct {
	watcher    *fsnotify.Watcher
	server     *Server
	policyName string
}

// NewReloader watches the directory containing policyPath. Returns nil (no
// reloader, no error) when policyPath is empty or does not exist yet: a
// server running on built-in defaults has nothing to watch.
func NewReloader(server *Server, policyPath string) (*Reloader, error) {
	if policyPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(policyPath); err != nil {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(policyPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", policyPath, err)
	}

	return &Reloader{
		watcher:    watcher,
		server:     server,
		policyName: filepath.Base(policyPath),
	}, nil
}

// Run blocks until ctx is cancelled, reloading the policy on each change.
// Reloads are debounced 500ms so a burst of writes produces one reload, and
// a reload that fails to parse keeps the previous policy in force.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != r.policyName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.server.ReloadPolicy(); err != nil {
						fmt.Fprintf(os.Stderr, "policy reload failed, previous policy kept: %v\n", err)
					} else {
						fmt.Fprintf(os.Stderr, "policy reloaded: %s\n", r.server.pipeline.PolicyHash())
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "policy watcher error: %v\n", err)
		}
	}
}
