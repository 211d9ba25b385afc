package registry

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"KeyShift/logger"
	"KeyShift/model"

	"github.com/fsnotify/fsnotify"
)

// Watcher drops registry entries whose backing file is removed or renamed
// out from under the service, e.g. by an operator clearing the cache dir.
type Watcher struct {
	registry *Registry
	dir      string
	ext      string
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher watches dir for files named {trackId}{ext}.
func NewWatcher(r *Registry, dir, ext string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		registry: r,
		dir:      dir,
		ext:      ext,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start consumes filesystem events in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("cache dir watcher error", logger.ErrorField(err))
			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	id, ok := w.trackIDFor(event.Name)
	if !ok {
		return
	}
	w.registry.Forget(id)
}

func (w *Watcher) trackIDFor(path string) (model.TrackID, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, w.ext) {
		return "", false
	}
	id := model.TrackID(strings.TrimSuffix(base, w.ext))
	return id, id.Valid()
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}
