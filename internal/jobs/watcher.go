package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// IntakeFunc turns the contents of a dropped file into a job. It returns
// nil to ignore the file.
type IntakeFunc func(path string, data []byte) (*Job, error)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Extensions accepted, with the leading dot. Empty means .txt and .md.
	Extensions []string

	// Settle is how long a file must stay unchanged before it is read.
	// Zero means 500ms.
	Settle time.Duration

	// OnQueued is called after a job is created.
	OnQueued func(job *Job)
}

// Watcher queues a job for every text file written into a directory.
type Watcher struct {
	dir    string
	store  Store
	intake IntakeFunc
	opts   WatcherOptions
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]time.Time
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, store Store, intake IntakeFunc, opts WatcherOptions) *Watcher {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".txt", ".md"}
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	return &Watcher{
		dir:     dir,
		store:   store,
		intake:  intake,
		opts:    opts,
		logger:  log.WithPrefix("watch"),
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]time.Time),
	}
}

// Run watches until ctx is done. Files already present are not queued.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for text files", "dir", w.dir, "extensions", w.opts.Extensions)

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range w.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// schedule restarts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.accepts(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := w.enqueue(path); err != nil {
			w.logger.Warn("failed to queue file", "path", path, "err", err)
		}
	})
}

func (w *Watcher) enqueue(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if st.IsDir() {
		return nil
	}

	w.mu.Lock()
	if last, ok := w.seen[path]; ok && last.Equal(st.ModTime()) {
		w.mu.Unlock()
		return nil
	}
	w.seen[path] = st.ModTime()
	w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	job, err := w.intake(path, data)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	if job.Source == "" {
		job.Source = path
	}
	if err := w.store.Create(job); err != nil {
		return err
	}

	w.logger.Info("queued file", "path", path, "id", shortID(job.ID))
	if w.opts.OnQueued != nil {
		w.opts.OnQueued(job)
	}
	return nil
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
