// Package cache provides the content-addressed audio cache: a bounded
// in-memory LRU tier optionally mirrored to an encrypted Redis tier.
package cache

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/metrics"
)

// DefaultCapacity is the in-memory tier capacity used when none is configured.
const DefaultCapacity = 1000

// Entry owns synthesized audio bytes and their content type.
// Entries are immutable once inserted; eviction replaces, never mutates.
type Entry struct {
	Audio       []byte
	ContentType string
}

// AudioCache is a bounded Key -> Entry mapping with least-recently-used
// eviction, optionally paired with a best-effort remote tier. Lookups and
// inserts are safe for concurrent use; no lock is held around synthesis.
//
// The cache provides no cross-request single-flight guarantee: two
// concurrent requests that both miss on the same key may both invoke the
// backend. That trade-off is accepted; the second insert overwrites the
// first with identical content.
type AudioCache struct {
	mem    *lru.Cache[Key, Entry]
	remote *RemoteTier
}

// Option configures an AudioCache.
type Option func(*AudioCache)

// WithRemoteTier mirrors the cache to an encrypted remote store.
func WithRemoteTier(tier *RemoteTier) Option {
	return func(c *AudioCache) {
		c.remote = tier
	}
}

// New creates an audio cache with the given in-memory capacity.
// A capacity below 1 falls back to DefaultCapacity.
func New(capacity int, opts ...Option) (*AudioCache, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	mem, err := lru.New[Key, Entry](capacity)
	if err != nil {
		return nil, err
	}

	c := &AudioCache{mem: mem}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup returns the cached entry for key. The in-memory tier is consulted
// first; on a miss with a remote tier configured, a remote read is attempted
// and, on success, promoted into the in-memory tier. Remote failures are
// logged and treated as misses, never surfaced.
func (c *AudioCache) Lookup(ctx context.Context, key Key) (Entry, bool) {
	if entry, ok := c.mem.Get(key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return entry, true
	}
	metrics.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()

	if c.remote == nil {
		return Entry{}, false
	}

	entry, err := c.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.RemoteCacheErrorsTotal.WithLabelValues("read").Inc()
			logger.Warn("Remote cache read failed",
				"key", key.String(), "error", logger.RedactSensitiveData(err.Error()))
		}
		metrics.CacheLookupsTotal.WithLabelValues("remote", "miss").Inc()
		return Entry{}, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("remote", "hit").Inc()
	c.mem.Add(key, entry)
	return entry, true
}

// Insert stores the entry in the in-memory tier, evicting the
// least-recently-used entry if the tier is at capacity. When a remote tier
// is configured the entry is also written there; a remote write failure is
// logged and does not fail the request.
func (c *AudioCache) Insert(ctx context.Context, key Key, entry Entry) {
	c.mem.Add(key, entry)

	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, entry); err != nil {
		metrics.RemoteCacheErrorsTotal.WithLabelValues("write").Inc()
		logger.Warn("Remote cache write failed",
			"key", key.String(), "error", logger.RedactSensitiveData(err.Error()))
	}
}

// Len reports the number of entries in the in-memory tier.
func (c *AudioCache) Len() int {
	return c.mem.Len()
}
