package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrackID is the opaque handle a client uses to stream a prepared track.
type TrackID string

// NewTrackID returns a fresh random id (32 lowercase hex characters).
func NewTrackID() TrackID {
	return TrackID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Valid reports whether id has the shape produced by NewTrackID. It is used to
// reject path-like ids before they reach the filesystem.
func (id TrackID) Valid() bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (id TrackID) String() string {
	return string(id)
}

// TrackEntry is one prepared, locally cached audio asset. Entries are values:
// the registry hands out copies and never mutates a stored entry.
type TrackEntry struct {
	ID        TrackID      `json:"trackId"`
	SourceURL string       `json:"sourceUrl"`
	FilePath  string       `json:"-"`        // owned by the entry; removed on eviction
	Size      int64        `json:"size"`     // bytes on disk at registration
	Duration  float64      `json:"duration"` // seconds, 0 means unknown
	CreatedAt time.Time    `json:"createdAt"`
	Key       *KeyEstimate `json:"key"` // nil when detection was skipped or failed
}

// ExpiresAt is the instant after which the sweeper may evict the entry.
func (e TrackEntry) ExpiresAt(maxAge time.Duration) time.Time {
	return e.CreatedAt.Add(maxAge)
}

// Expired reports whether now - CreatedAt exceeds maxAge.
func (e TrackEntry) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.CreatedAt) > maxAge
}
