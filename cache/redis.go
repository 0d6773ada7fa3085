package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by the remote tier when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// RemoteTier mirrors the in-memory audio cache in an external Redis store
// with values encrypted at rest. All operations are best-effort from the
// caller's point of view; the composite cache logs and swallows failures.
type RemoteTier struct {
	client *redis.Client
	cipher *Cipher
	prefix string
	ttl    time.Duration
}

// RemoteOption configures a RemoteTier.
type RemoteOption func(*RemoteTier)

// WithTTL sets the time-to-live for remote entries.
// Default is 0, meaning entries never expire.
func WithTTL(ttl time.Duration) RemoteOption {
	return func(t *RemoteTier) {
		t.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "tts".
func WithPrefix(prefix string) RemoteOption {
	return func(t *RemoteTier) {
		t.prefix = prefix
	}
}

// NewRemoteTier creates a Redis-backed encrypted cache tier.
func NewRemoteTier(client *redis.Client, cipher *Cipher, opts ...RemoteOption) *RemoteTier {
	tier := &RemoteTier{
		client: client,
		cipher: cipher,
		prefix: "tts",
	}
	for _, opt := range opts {
		opt(tier)
	}
	return tier
}

// remoteEntry is the serialized form of an Entry before encryption.
type remoteEntry struct {
	ContentType string `json:"content_type,omitempty"`
	Audio       []byte `json:"audio"`
}

// Get fetches and decrypts the entry stored under key.
func (t *RemoteTier) Get(ctx context.Context, key Key) (Entry, error) {
	sealed, err := t.client.Get(ctx, t.audioKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("redis get failed: %w", err)
	}

	plaintext, err := t.cipher.Open(sealed)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open remote entry: %w", err)
	}

	var stored remoteEntry
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal remote entry: %w", err)
	}

	return Entry{Audio: stored.Audio, ContentType: stored.ContentType}, nil
}

// Set encrypts and stores the entry under key.
func (t *RemoteTier) Set(ctx context.Context, key Key, entry Entry) error {
	plaintext, err := json.Marshal(remoteEntry{
		ContentType: entry.ContentType,
		Audio:       entry.Audio,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal remote entry: %w", err)
	}

	sealed, err := t.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal remote entry: %w", err)
	}

	if err := t.client.Set(ctx, t.audioKey(key), sealed, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// audioKey generates the Redis key for a cache entry.
func (t *RemoteTier) audioKey(key Key) string {
	return fmt.Sprintf("%s:audio:%s", t.prefix, key)
}
