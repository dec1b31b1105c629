package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is used when the config directory cannot be watched.
	DefaultPollInterval = 1 * time.Second
	// DefaultDebounce coalesces the burst of events an editor save produces.
	DefaultDebounce = 100 * time.Millisecond
)

// WatchMode names the mechanism a Watcher uses.
type WatchMode string

const (
	ModeNotify WatchMode = "fsnotify"
	ModePoll   WatchMode = "poll"
)

// fileStamp is what we compare to decide whether the file changed.
type fileStamp struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statFile(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, modTime: info.ModTime(), size: info.Size()}
}

func (a fileStamp) equal(b fileStamp) bool {
	return a.exists == b.exists && a.size == b.size && a.modTime.Equal(b.modTime)
}

// Watcher signals when a single file is created, modified or removed.
// It never reads the file; consumers drain Changes() and reload themselves.
type Watcher struct {
	path         string
	pollInterval time.Duration
	debounce     time.Duration
	logger       *zap.Logger

	changes chan struct{}

	mu      sync.Mutex
	running bool
	mode    WatchMode
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	// last is owned by the watch goroutine once started.
	last fileStamp
}

// NewWatcher creates a watcher for path. It does nothing until Start.
func NewWatcher(path string, logger *zap.Logger) *Watcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Watcher{
		path:         filepath.Clean(path),
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		logger:       logger,
		changes:      make(chan struct{}, 1),
	}
}

// WithPollInterval overrides the polling fallback interval (for tests).
func (w *Watcher) WithPollInterval(d time.Duration) *Watcher {
	w.pollInterval = d
	return w
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

// Changes delivers at most one pending change signal.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Mode reports which mechanism the running watcher uses.
func (w *Watcher) Mode() WatchMode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Trigger queues a change signal without touching the file (e.g. on SIGHUP).
func (w *Watcher) Trigger() {
	w.notify()
}

// Start begins watching. It is non-blocking; the watch runs in a goroutine
// until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	w.last = statFile(w.path)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory so delete/recreate and rename-over saves are seen.
		if err = fsw.Add(filepath.Dir(w.path)); err != nil {
			fsw.Close()
		}
	}

	if err != nil {
		w.logger.Warn("cannot watch config directory, falling back to polling",
			zap.String("path", w.path),
			zap.Duration("interval", w.pollInterval),
			zap.Error(err))
		w.mode = ModePoll
		go w.poll(ctx)
	} else {
		w.fsw = fsw
		w.mode = ModeNotify
		go w.watch(ctx)
	}

	w.running = true
	w.logger.Info("watching config file",
		zap.String("path", w.path),
		zap.String("mode", string(w.mode)))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("error closing config watcher", zap.Error(err))
		}
		w.fsw = nil
	}
}

// watch handles fsnotify events for the config directory.
func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name == filepath.Dir(w.path) && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// The kernel drops the watch with the directory.
				w.logger.Warn("config directory removed, falling back to polling",
					zap.String("dir", name),
					zap.Duration("interval", w.pollInterval))
				w.mu.Lock()
				w.mode = ModePoll
				w.mu.Unlock()
				w.checkAndNotify()
				w.pollLoop(ctx)
				return
			}
			if name != w.path {
				continue
			}
			w.logger.Debug("config event", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			debounceC = timer.C

		case <-debounceC:
			debounceC = nil
			w.checkAndNotify()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// poll is the fallback when the directory cannot be watched.
func (w *Watcher) poll(ctx context.Context) {
	defer close(w.doneCh)
	w.pollLoop(ctx)
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAndNotify()
		}
	}
}

func (w *Watcher) checkAndNotify() {
	current := statFile(w.path)
	if current.equal(w.last) {
		return
	}
	w.last = current
	w.logger.Debug("config file changed",
		zap.String("path", w.path),
		zap.Bool("exists", current.exists))
	w.notify()
}

// notify never blocks; a signal already pending covers this one.
func (w *Watcher) notify() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
