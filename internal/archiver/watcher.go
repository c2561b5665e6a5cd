package archiver

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

// BinaryWatcher invalidates a BinaryCache when the resolved archiver is
// replaced or removed, so the next task resolves it again.
type BinaryWatcher struct {
	mu       sync.Mutex
	cache    *BinaryCache
	watcher  *fsnotify.Watcher
	binary   string
	dir      string
	onChange []func(path string)
	logger   *logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewBinaryWatcher(cache *BinaryCache, logger *logging.Logger) *BinaryWatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &BinaryWatcher{
		cache:  cache,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	cache.OnResolved(w.Watch)
	return w
}

func (w *BinaryWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create binary watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	pending := w.binary
	w.binary = ""
	w.mu.Unlock()

	if pending == "" {
		if snapshot, ok := w.cache.Snapshot(); ok {
			pending = snapshot.Path
		}
	}
	if pending != "" {
		w.Watch(pending)
	}

	go w.watchLoop()
	return nil
}

func (w *BinaryWatcher) Stop() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// OnChange registers fn to run after the cache was invalidated.
func (w *BinaryWatcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Watch switches the watch to the directory holding binaryPath. Bare names
// resolved from PATH are watched once LookPath has made them absolute.
func (w *BinaryWatcher) Watch(binaryPath string) {
	abs, err := filepath.Abs(binaryPath)
	if err != nil {
		w.logger.Warn("cannot watch archiver binary", zap.String("path", binaryPath), zap.Error(err))
		return
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.binary = abs
	if w.watcher == nil || dir == w.dir {
		return
	}
	if w.dir != "" {
		_ = w.watcher.Remove(w.dir)
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch archiver directory", zap.String("dir", dir), zap.Error(err))
		w.dir = ""
		return
	}
	w.dir = dir
	w.logger.Debug("watching archiver binary", zap.String("path", abs))
}

func (w *BinaryWatcher) watchLoop() {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("binary watcher error", zap.Error(err))
		}
	}
}

func (w *BinaryWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	binary := w.binary
	hooks := append([]func(string){}, w.onChange...)
	w.mu.Unlock()

	if binary == "" || filepath.Clean(event.Name) != binary {
		return
	}

	w.logger.Info("archiver binary changed, invalidating cache",
		zap.String("path", binary),
		zap.String("event", event.Op.String()),
	)
	w.cache.Invalidate()

	for _, hook := range hooks {
		hook(binary)
	}
}
