package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 200 * time.Millisecond

// Watcher reloads an Engine whenever its policy file changes on disk.
type Watcher struct {
	engine *Engine
	path   string
	logger *slog.Logger
}

// LoadFile builds an engine from the rego file at path.
func LoadFile(ctx context.Context, path string) (*Engine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// NewWatcher creates a watcher for path that reloads engine.
func NewWatcher(engine *Engine, path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{engine: engine, path: path, logger: logger.With("policy_file", path)}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsW.Close()

	if err := fsW.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fsW.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
			} else {
				timer.Reset(debounceInterval)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-fsW.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	content, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("failed to read policy file", "error", err)
		return
	}
	if err := w.engine.Reload(ctx, string(content)); err != nil {
		w.logger.Error("policy reload rejected, keeping previous policy", "error", err)
		return
	}
	w.logger.Info("policy reloaded")
}
