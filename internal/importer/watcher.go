package importer

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/twinrag/pkg/types"
)

// DefaultDebounce is how long a file must stay quiet before it is imported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher imports a directory once, then re-imports files as they are created
// or written. Deleted files are left alone; removing a source is an owner
// action.
type Watcher struct {
	imp      *Importer
	twinID   string
	dir      string
	debounce time.Duration
	onImport func(path string, src *types.Source, err error)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithImportCallback is called after every file the watcher imports.
func WithImportCallback(fn func(path string, src *types.Source, err error)) WatcherOption {
	return func(w *Watcher) { w.onImport = fn }
}

// NewWatcher creates a watcher that imports dir into twinID.
func NewWatcher(imp *Importer, twinID, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		imp:      imp,
		twinID:   twinID,
		dir:      dir,
		debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the initial import and begins watching. Call Stop to clean up.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.imp.ImportDir(ctx, w.twinID, w.dir); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.addTree(fw, w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	log.Printf("import: watching %s for twin %s", w.dir, w.twinID)
	return nil
}

// Stop closes the watcher and waits for in-flight imports.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done

	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: import: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(evt.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if evt.Has(fsnotify.Create) && !hidden(info.Name()) {
			if err := w.addTree(w.watcher, evt.Name); err != nil {
				log.Printf("WARNING: import: watch %s: %v", evt.Name, err)
			}
		}
		return
	}
	if Supported(evt.Name) {
		w.schedule(ctx, evt.Name)
	}
}

// schedule imports path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		src, err := w.imp.ImportFile(ctx, w.twinID, w.dir, path)
		if err != nil {
			log.Printf("WARNING: import: %s: %v", path, err)
		}
		if w.onImport != nil {
			w.onImport(path, src, err)
		}
	})
	w.pending[path] = t
}

// addTree watches root and every non-hidden directory below it; fsnotify is
// not recursive.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
