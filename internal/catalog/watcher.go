package catalog

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
)

// Watcher reloads the catalog index when the source file changes. Events are
// debounced because editors emit several writes per save.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	ont      *ontology.Catalog
	provider *Provider
	path     string
	fresh    float64
	debounce time.Duration
	lastLoad time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher for the given catalog file.
func NewWatcher(ont *ontology.Catalog, provider *Provider, path string, freshnessHours float64) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		ont:      ont,
		provider: provider,
		path:     path,
		fresh:    freshnessHours,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watch loop runs in a goroutine.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = w.watcher.Close()
		return err
	}
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	log := logging.Get(logging.CategoryCatalog)
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.mu.Lock()
			tooSoon := time.Since(w.lastLoad) < w.debounce
			if !tooSoon {
				w.lastLoad = time.Now()
			}
			w.mu.Unlock()
			if tooSoon {
				continue
			}

			idx, err := LoadFile(w.ont, w.path, w.fresh)
			if err != nil {
				log.Warn("catalog reload failed: %v", err)
				continue
			}
			w.provider.Replace(idx)
			log.Info("catalog reloaded: %d rows", idx.Summary.TotalRows)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("catalog watcher error: %v", err)
		}
	}
}

// Stop ends the watch loop and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}
