package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRemoteCache creates a cache backed by a miniredis remote tier.
func setupRemoteCache(t *testing.T, capacity int) (*AudioCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewRemoteTier(client, NewCipher("test-secret"))

	c, err := New(capacity, WithRemoteTier(tier))
	require.NoError(t, err)
	return c, mr
}

func TestAudioCache_RoundTrip(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)
	ctx := context.Background()

	key := Fingerprint("hello", "en1", "eSpeak", 175, "", "")
	entry := Entry{Audio: []byte{0x52, 0x49, 0x46, 0x46, 0x01}, ContentType: "audio/wav"}

	c.Insert(ctx, key, entry)

	got, ok := c.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, entry.Audio, got.Audio)
	assert.Equal(t, "audio/wav", got.ContentType)
}

func TestAudioCache_MissingKey(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	_, ok := c.Lookup(context.Background(), Fingerprint("nope", "en", "gTTS", 0, "", ""))
	assert.False(t, ok)
}

func TestAudioCache_EvictsLeastRecentlyUsed(t *testing.T) {
	const capacity = 8
	c, err := New(capacity)
	require.NoError(t, err)
	ctx := context.Background()

	keys := make([]Key, capacity+1)
	for i := range keys {
		keys[i] = Fingerprint(fmt.Sprintf("text-%d", i), "en", "gTTS", 0, "", "")
		c.Insert(ctx, keys[i], Entry{Audio: []byte{byte(i)}})
	}

	// First-inserted key was evicted to admit the N+1th.
	_, ok := c.Lookup(ctx, keys[0])
	assert.False(t, ok, "oldest entry should be evicted")

	for i := 1; i <= capacity; i++ {
		_, ok := c.Lookup(ctx, keys[i])
		assert.True(t, ok, "entry %d should survive", i)
	}
}

func TestAudioCache_RemoteRoundTrip(t *testing.T) {
	c, _ := setupRemoteCache(t, 10)
	ctx := context.Background()

	key := Fingerprint("remote", "en", "gCloud", 1, "opus", "")
	entry := Entry{Audio: []byte("opus-bytes"), ContentType: "audio/opus"}
	c.Insert(ctx, key, entry)

	got, ok := c.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestAudioCache_RemoteHitPromotesToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewRemoteTier(client, NewCipher("shared"))

	writer, err := New(4, WithRemoteTier(tier))
	require.NoError(t, err)
	reader, err := New(4, WithRemoteTier(tier))
	require.NoError(t, err)

	ctx := context.Background()
	key := Fingerprint("promote", "en", "Polly", 0, "", "")
	writer.Insert(ctx, key, Entry{Audio: []byte("ogg"), ContentType: "audio/ogg"})

	got, ok := reader.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("ogg"), got.Audio)
	assert.Equal(t, 1, reader.Len())
}

func TestAudioCache_RemoteValuesEncryptedAtRest(t *testing.T) {
	c, mr := setupRemoteCache(t, 10)
	ctx := context.Background()

	audio := []byte("clearly-audible-plaintext")
	key := Fingerprint("secret", "en", "gTTS", 0, "", "")
	c.Insert(ctx, key, Entry{Audio: audio, ContentType: "audio/mpeg"})

	raw, err := mr.Get("tts:audio:" + key.String())
	require.NoError(t, err)
	assert.NotContains(t, raw, string(audio))
}

func TestAudioCache_RemoteFailureIsNotFatal(t *testing.T) {
	c, mr := setupRemoteCache(t, 10)
	ctx := context.Background()

	mr.Close()

	key := Fingerprint("down", "en", "gTTS", 0, "", "")
	// Insert must not fail even with the remote gone.
	c.Insert(ctx, key, Entry{Audio: []byte("a")})

	// The memory tier still serves the entry.
	got, ok := c.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got.Audio)
}

func TestAudioCache_WrongKeyFailsDecryption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	writer := NewRemoteTier(client, NewCipher("key-one"))
	reader := NewRemoteTier(client, NewCipher("key-two"))

	ctx := context.Background()
	key := Fingerprint("mismatch", "en", "gTTS", 0, "", "")
	require.NoError(t, writer.Set(ctx, key, Entry{Audio: []byte("x")}))

	_, err := reader.Get(ctx, key)
	assert.Error(t, err)
}

func TestCipher_SealOpenRoundTrip(t *testing.T) {
	c := NewCipher("secret")

	sealed, err := c.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)
}

func TestCipher_OpenTruncated(t *testing.T) {
	c := NewCipher("secret")
	_, err := c.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
