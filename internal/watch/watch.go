// Package watch observes a drop folder and uploads new media files as they
// settle. A file is considered settled once no write event has touched it
// for the configured delay, which avoids uploading half-copied files.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettleDelay is used when options leave SettleDelay zero.
const defaultSettleDelay = 2 * time.Second

// mediaExtensions lists the file types the pipeline can process.
// Everything else in the drop folder is ignored.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// UploadFunc is called with the path of each settled file.
type UploadFunc func(ctx context.Context, path string) error

// Watcher debounces filesystem events from a drop directory into upload
// calls.
type Watcher struct {
	dir         string
	settleDelay time.Duration
	upload      UploadFunc
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for dir.
func New(dir string, settleDelay time.Duration, upload UploadFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if settleDelay <= 0 {
		settleDelay = defaultSettleDelay
	}

	return &Watcher{
		dir:         dir,
		settleDelay: settleDelay,
		upload:      upload,
		logger:      logger,
		pending:     make(map[string]*time.Timer),
	}
}

// Run watches the drop directory until ctx is canceled. Create and write
// events reset the file's settle timer; when it fires, the file is
// uploaded.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching drop folder",
		slog.String("dir", w.dir),
		slog.Duration("settle_delay", w.settleDelay),
	)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(ctx, event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// touch resets the settle timer for a path.
func (w *Watcher) touch(ctx context.Context, path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if !mediaExtensions[ext] {
		w.logger.Debug("ignoring non-media file", slog.String("path", path))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}

	w.pending[path] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		w.logger.Info("file settled, uploading", slog.String("path", path))

		if err := w.upload(ctx, path); err != nil {
			w.logger.Warn("drop folder upload failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	})
}

// cancelPending stops all outstanding settle timers.
func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}
