// Package watcher uploads media files dropped into a local folder.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyzr/minutes/common/logger"
)

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".flv":  "video/x-flv",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// Handler processes one settled file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors a directory and hands new media files to a Handler with
// bounded concurrency.
type Watcher struct {
	dir       string
	handler   Handler
	log       *logger.Logger
	fs        *fsnotify.Watcher
	settle    time.Duration
	semaphore chan struct{}
	wg        sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a watcher on dir.
func New(dir string, handler Handler, log *logger.Logger, maxConcurrent int, settle time.Duration) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Watcher{
		dir:       dir,
		handler:   handler,
		log:       log.WithStage("dropwatch"),
		fs:        fs,
		settle:    settle,
		semaphore: make(chan struct{}, maxConcurrent),
		inflight:  map[string]bool{},
	}, nil
}

// IsMediaFile reports whether path has a supported audio or video extension.
func IsMediaFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := mediaTypes[strings.ToLower(filepath.Ext(base))]
	return ok
}

// ContentType returns the MIME type for a media file, or "" when unknown.
func ContentType(path string) string {
	return mediaTypes[strings.ToLower(filepath.Ext(path))]
}

// Start processes files already in the directory, then new ones until ctx is
// cancelled. In-flight uploads are awaited before returning.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info("watching folder", "dir", w.dir, "max_concurrent", cap(w.semaphore))

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.dispatch(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.log.Info("folder watcher stopped")
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) {
				w.dispatch(ctx, event.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	if !IsMediaFile(path) {
		w.log.Debug("ignoring non-media file", "path", path)
		return
	}

	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = true
	w.mu.Unlock()

	select {
	case w.semaphore <- struct{}{}:
	case <-ctx.Done():
		w.release(path)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.semaphore }()
		defer w.release(path)

		if err := waitStable(ctx, path, w.settle); err != nil {
			w.log.Warn("file did not settle", "path", path, "error", err)
			return
		}
		if err := w.handler(ctx, path); err != nil {
			w.log.Warn("upload failed", "path", path, "error", err)
		}
	}()
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

// waitStable returns once the file size stops changing between two checks.
func waitStable(ctx context.Context, path string, delay time.Duration) error {
	if delay <= 0 {
		_, err := os.Stat(path)
		return err
	}
	last := int64(-1)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == last {
			return nil
		}
		last = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
