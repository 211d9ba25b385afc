package registry

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"KeyShift/logger"
	"KeyShift/model"
)

// Clock abstracts time.Now so eviction timing can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// EvictHook is called, outside the registry lock, for every evicted entry.
type EvictHook func(entry model.TrackEntry)

// Registry is the in-memory map of prepared tracks. It owns the backing file
// of every entry it holds: a file is removed when its entry is evicted.
type Registry struct {
	mu      sync.RWMutex
	tracks  map[model.TrackID]model.TrackEntry
	retired map[model.TrackID]struct{} // ids that were issued and later removed
	last    time.Time                  // CreatedAt of the most recent insertion
	clock   Clock
	hooks   []EvictHook
}

// New creates an empty registry. A nil clock means the system clock.
func New(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		tracks:  make(map[model.TrackID]model.TrackEntry),
		retired: make(map[model.TrackID]struct{}),
		clock:   clock,
	}
}

// OnEvict registers a hook fired after an entry has been evicted or forgotten.
func (r *Registry) OnEvict(hook EvictHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// NewID allocates an id that has never been handed out by this registry, so
// the pipeline can derive the download path before the entry exists.
func (r *Registry) NewID() model.TrackID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for {
		id := model.NewTrackID()
		if _, live := r.tracks[id]; live {
			continue
		}
		if _, dead := r.retired[id]; dead {
			continue
		}
		return id
	}
}

// Register inserts entry and returns its id. If entry.ID is empty a fresh id is
// allocated. CreatedAt is stamped from the registry clock and never goes
// backwards relative to the previous insertion.
func (r *Registry) Register(entry model.TrackEntry) model.TrackID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = r.freshIDLocked()
	}

	now := r.clock.Now()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	entry.CreatedAt = now

	r.tracks[entry.ID] = entry

	logger.Info("track registered",
		logger.String("trackId", entry.ID.String()),
		logger.Float64("duration", entry.Duration),
		logger.Bool("hasKey", entry.Key != nil),
		logger.Int("cached", len(r.tracks)))

	return entry.ID
}

func (r *Registry) freshIDLocked() model.TrackID {
	for {
		id := model.NewTrackID()
		_, live := r.tracks[id]
		_, dead := r.retired[id]
		if !live && !dead {
			return id
		}
	}
}

// Lookup returns a copy of the entry for id. It does not extend the entry's
// lifetime.
func (r *Registry) Lookup(id model.TrackID) (model.TrackEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tracks[id]
	if !ok {
		return model.TrackEntry{}, model.ErrNotFound
	}
	return entry, nil
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// Snapshot returns every live entry ordered by creation time.
func (r *Registry) Snapshot() []model.TrackEntry {
	r.mu.RLock()
	out := make([]model.TrackEntry, 0, len(r.tracks))
	for _, e := range r.tracks {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EvictExpired removes every entry with now - CreatedAt > maxAge and deletes
// its backing file. File removal is best-effort: a missing file is fine and
// any other failure is logged while the entry is still dropped.
func (r *Registry) EvictExpired(now time.Time, maxAge time.Duration) []model.TrackID {
	r.mu.Lock()
	var evicted []model.TrackEntry
	for id, entry := range r.tracks {
		if entry.Expired(now, maxAge) {
			evicted = append(evicted, entry)
			delete(r.tracks, id)
			r.retired[id] = struct{}{}
		}
	}
	hooks := append([]EvictHook(nil), r.hooks...)
	r.mu.Unlock()

	ids := make([]model.TrackID, 0, len(evicted))
	for _, entry := range evicted {
		logger.Info("cleaning up track",
			logger.String("trackId", entry.ID.String()),
			logger.Duration("age", now.Sub(entry.CreatedAt)))
		removeFile(entry)
		for _, hook := range hooks {
			hook(entry)
		}
		ids = append(ids, entry.ID)
	}
	return ids
}

// Forget drops id without touching its file. It is used when the file has
// already disappeared, so the entry cannot outlive its file.
func (r *Registry) Forget(id model.TrackID) bool {
	r.mu.Lock()
	entry, ok := r.tracks[id]
	if ok {
		delete(r.tracks, id)
		r.retired[id] = struct{}{}
	}
	hooks := append([]EvictHook(nil), r.hooks...)
	r.mu.Unlock()

	if !ok {
		return false
	}
	logger.Warn("backing file vanished, dropping track",
		logger.String("trackId", id.String()),
		logger.String("path", entry.FilePath))
	for _, hook := range hooks {
		hook(entry)
	}
	return true
}

// Close removes every remaining entry and its file. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]model.TrackEntry, 0, len(r.tracks))
	for id, e := range r.tracks {
		entries = append(entries, e)
		delete(r.tracks, id)
		r.retired[id] = struct{}{}
	}
	r.mu.Unlock()

	for _, e := range entries {
		removeFile(e)
	}
}

func removeFile(entry model.TrackEntry) {
	if entry.FilePath == "" {
		return
	}
	if err := os.Remove(entry.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to delete cached file",
			logger.String("trackId", entry.ID.String()),
			logger.String("path", entry.FilePath),
			logger.ErrorField(err))
	}
}

// PurgeOrphans deletes files named {trackId}{ext} in dir that no live entry
// owns, typically leftovers of a previous process. It returns how many files
// were removed.
func (r *Registry) PurgeOrphans(dir, ext string) (int, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, d := range names {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			continue
		}
		id := model.TrackID(strings.TrimSuffix(d.Name(), ext))
		if !id.Valid() {
			continue
		}
		if _, err := r.Lookup(id); err == nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, d.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove orphaned file", logger.String("file", d.Name()), logger.ErrorField(err))
			continue
		}
		removed++
	}
	return removed, nil
}
