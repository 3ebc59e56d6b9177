package gekkofx

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gekko3d/gekkofx/gpurt/rt/core"
)

// ConfigWatcher re-reads a config file whenever it changes on disk and
// publishes the parsed result. Only the latest update is kept; a reader that
// falls behind skips intermediate versions.
type ConfigWatcher struct {
	path   string
	logger core.Logger

	fs      *fsnotify.Watcher
	updates chan Config
	errors  chan error
}

func NewConfigWatcher(path string, logger core.Logger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file instead of writing it, so watch the directory.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &ConfigWatcher{
		path:    abs,
		logger:  core.OrNop(logger),
		fs:      fsWatch,
		updates: make(chan Config, 1),
		errors:  make(chan error, 1),
	}, nil
}

func (w *ConfigWatcher) Updates() <-chan Config { return w.updates }
func (w *ConfigWatcher) Errors() <-chan error   { return w.errors }

// Run delivers updates until ctx is done, then closes the watcher and both channels.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	defer func() {
		w.fs.Close()
		close(w.updates)
		close(w.errors)
	}()
	for {
		select {
		case e, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != w.path || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(w.path)
			if err != nil {
				// A half-written file fails to parse; the next write event retries.
				w.logger.Warnf("config: reload %s: %v", w.path, err)
				w.publishError(err)
				continue
			}
			w.logger.Infof("config: reloaded %s", w.path)
			w.publish(cfg)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("config: watch %s: %v", w.path, err)
			w.publishError(err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *ConfigWatcher) publish(cfg Config) {
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
}

func (w *ConfigWatcher) publishError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
