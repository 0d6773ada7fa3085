package gateway

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Discord-TTS/tts-service/cache"
	"github.com/Discord-TTS/tts-service/tts"
)

// localPipelineEngine builds an espeak engine backed by stub executables so
// the full dispatch path can run without the real synthesizers installed.
func localPipelineEngine(t *testing.T) (*tts.ESpeakEngine, *os.File) {
	t.Helper()
	dir := t.TempDir()

	countFile, err := os.CreateTemp(dir, "invocations")
	require.NoError(t, err)

	espeak := filepath.Join(dir, "espeak")
	require.NoError(t, os.WriteFile(espeak, []byte(
		"#!/bin/sh\necho run >> "+countFile.Name()+"\necho \"_ 100\"\n"), 0o755))

	mbrola := filepath.Join(dir, "mbrola")
	require.NoError(t, os.WriteFile(mbrola, []byte(`#!/bin/sh
cat > /dev/null
printf 'RIFF\0\0\0\0WAVEfmt '
dd if=/dev/zero bs=1 count=28 2>/dev/null
dd if=/dev/zero bs=1 count=500 2>/dev/null
`), 0o755))

	voiceDir := filepath.Join(dir, "voices")
	require.NoError(t, os.MkdirAll(voiceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(voiceDir, "mb-en1"), nil, 0o644))

	return tts.NewESpeakEngine(
		tts.WithESpeakCommands(espeak, mbrola),
		tts.WithESpeakVoiceDirs(voiceDir, dir),
	), countFile
}

func TestDispatch_LocalPipelineEndToEnd(t *testing.T) {
	engine, countFile := localPipelineEngine(t)
	audioCache, err := cache.New(16)
	require.NoError(t, err)
	d := New(audioCache, []tts.Engine{engine})

	req := tts.Request{
		Text:         "hello",
		Voice:        "en1",
		Mode:         tts.ModeESpeak,
		SpeakingRate: 175,
	}

	audio, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", audio.ContentType)
	require.Greater(t, len(audio.Data), 44)

	assert.Equal(t, uint32(len(audio.Data)-8), binary.LittleEndian.Uint32(audio.Data[4:8]))
	assert.Equal(t, uint32(len(audio.Data)-44), binary.LittleEndian.Uint32(audio.Data[40:44]))

	// The result is cached under the request fingerprint.
	key := cache.Fingerprint("hello", "en1", string(tts.ModeESpeak), 175, "", "")
	entry, hit := audioCache.Lookup(context.Background(), key)
	require.True(t, hit)
	assert.Equal(t, audio.Data, entry.Audio)

	// A repeat request is served from cache without spawning the pipeline.
	again, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, audio.Data, again.Data)

	invocations, err := os.ReadFile(countFile.Name())
	require.NoError(t, err)
	assert.Equal(t, "run\n", string(invocations))
}
