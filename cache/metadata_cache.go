package cache

import (
	"context"
	"time"

	"KeyShift/core/audio"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MetadataCache remembers yt-dlp metadata per source URL so repeated prepares
// of the same video skip the lookup process. Misses return (nil, nil).
type MetadataCache interface {
	Get(ctx context.Context, sourceURL string) (*audio.SourceMetadata, error)
	Set(ctx context.Context, sourceURL string, meta *audio.SourceMetadata) error
	Close() error
}

// LRUMetadataCache is the in-process implementation, used when Redis is not configured.
type LRUMetadataCache struct {
	lru *expirable.LRU[string, audio.SourceMetadata]
}

// NewLRUMetadataCache creates a cache holding at most size entries for ttl each.
func NewLRUMetadataCache(size int, ttl time.Duration) *LRUMetadataCache {
	if size <= 0 {
		size = 512
	}
	return &LRUMetadataCache{lru: expirable.NewLRU[string, audio.SourceMetadata](size, nil, ttl)}
}

func (c *LRUMetadataCache) Get(_ context.Context, sourceURL string) (*audio.SourceMetadata, error) {
	meta, ok := c.lru.Get(sourceURL)
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (c *LRUMetadataCache) Set(_ context.Context, sourceURL string, meta *audio.SourceMetadata) error {
	if meta == nil {
		return nil
	}
	c.lru.Add(sourceURL, *meta)
	return nil
}

// Len returns the number of live entries.
func (c *LRUMetadataCache) Len() int {
	return c.lru.Len()
}

func (c *LRUMetadataCache) Close() error {
	c.lru.Purge()
	return nil
}
