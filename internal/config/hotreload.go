package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the newly loaded config together with the JSON
// field names that actually changed.
type ChangeHandler func(cfg *Config, changed []string)

// Watcher watches the config file and reloads it on change. Long-running
// commands use it to tell the user which settings were edited mid-session.
// Writes are debounced (300ms) and no-op edits are swallowed.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	debounce time.Duration
	stopChan chan struct{}
	mu       sync.Mutex
	last     *Config
}

// NewWatcher creates a watcher with the file's current content as baseline.
func NewWatcher(configPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	baseline, err := Load(configPath)
	if err != nil {
		baseline = Default()
	}

	return &Watcher{
		path:     configPath,
		watcher:  w,
		debounce: 300 * time.Millisecond,
		last:     baseline,
	}, nil
}

// OnChange registers a handler to be called when config changes.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching the config file for changes.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(cw.path); err != nil {
		return err
	}

	cw.stopChan = make(chan struct{})
	go cw.watchLoop()

	slog.Debug("config watcher started", "path", cw.path)
	return nil
}

// Stop halts the file watcher.
func (cw *Watcher) Stop() {
	if cw.stopChan != nil {
		close(cw.stopChan)
	}
	cw.watcher.Close()
}

func (cw *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Debounce: reset timer on each change
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, func() {
				cw.reload()
			})

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	cw.mu.Lock()
	changed := cw.last.Diff(cfg)
	if len(changed) == 0 {
		cw.mu.Unlock()
		return
	}
	cw.last = cfg
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg, changed)
	}
}

// Diff lists the JSON field names whose values differ between c and next.
// Values are never included so a token edit stays out of logs and notices.
func (c *Config) Diff(next *Config) []string {
	var changed []string
	if c.APIURL != next.APIURL {
		changed = append(changed, "apiUrl")
	}
	if c.SocketURL != next.SocketURL {
		changed = append(changed, "socketUrl")
	}
	if c.Token != next.Token {
		changed = append(changed, "token")
	}
	if c.UserID != next.UserID {
		changed = append(changed, "userId")
	}
	if c.LogLevel != next.LogLevel {
		changed = append(changed, "logLevel")
	}
	if c.PairTimeout != next.PairTimeout {
		changed = append(changed, "pairTimeout")
	}
	return changed
}
