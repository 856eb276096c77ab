package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/barekit/ragchat/pkg/document"
)

// DefaultSettle is how long a file must stay unchanged before it is ingested.
const DefaultSettle = 500 * time.Millisecond

// Result reports the outcome of one watched file.
type Result struct {
	Path     string
	Document *document.Document
	Err      error
}

// DocumentID returns the id of the document ingested from path. It is stable
// for a path, so a rewritten file replaces its earlier version.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

// Watcher ingests files created or written in a directory.
type Watcher struct {
	svc    *Service
	dir    string
	md     Metadata
	settle time.Duration
	onDone func(Result)

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettle sets the quiet period after the last write to a file.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithResultHandler is called after every ingestion attempt.
func WithResultHandler(fn func(Result)) WatcherOption {
	return func(w *Watcher) {
		w.onDone = fn
	}
}

// NewWatcher creates a Watcher for dir. Every file is ingested with md.
func NewWatcher(svc *Service, dir string, md Metadata, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		svc:    svc,
		dir:    dir,
		md:     md,
		settle: DefaultSettle,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. Pending ingestions finish before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.Info("watching directory", "dir", w.dir)

	defer w.wg.Wait()
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.svc.Accepts(ev.Name) {
				slog.Debug("ignoring file", "path", ev.Name)
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch error", "dir", w.dir, "error", err)
		}
	}
}

// schedule restarts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.timers[path] = t
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	res := Result{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
	} else {
		up := Upload{Filename: filepath.Base(path), Data: data, ID: DocumentID(path)}
		res.Document, res.Err = w.svc.ProcessUpload(ctx, up, w.md)
	}

	if res.Err != nil {
		slog.Error("watched file not ingested", "path", path, "error", res.Err)
	}
	if w.onDone != nil {
		w.onDone(res)
	}
}
