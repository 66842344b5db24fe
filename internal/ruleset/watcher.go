package ruleset

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wardenhq/llm-warden/internal/logger"
	"go.uber.org/zap"
)

// Watcher reloads the registry when ruleset files change on disk.
// A failed reload keeps the previous snapshots active.
type Watcher struct {
	dir      string
	loader   *Loader
	registry *Registry
	logger   *logger.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher over the given ruleset directory
func NewWatcher(dir string, loader *Loader, registry *Registry, log *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		loader:   loader,
		registry: registry,
		logger:   log,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Rapid bursts of events
// (editors write in several steps) are coalesced with a short debounce.
func (w *Watcher) Start() {
	go func() {
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				w.Reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Ruleset watcher error", zap.Error(err))
			case <-w.done:
				return
			}
		}
	}()
}

// Reload loads the directory and swaps the registry snapshots. On failure
// the previous snapshots remain active and the error is returned.
func (w *Watcher) Reload() error {
	sets, issues, err := w.loader.LoadDir(w.dir)
	for _, issue := range issues {
		w.logger.Warn("Rule dropped during reload", zap.String("rule_id", issue.RuleID), zap.Error(issue.Err))
	}
	if err != nil {
		w.logger.Error("Ruleset reload failed, keeping previous snapshots", zap.Error(err))
		return err
	}
	w.registry.ActivateAll(sets)
	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
