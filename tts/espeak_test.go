package tts

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript installs an executable shell script stub under dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// wavScript emits a syntactically valid WAV stream with payload bytes.
const wavScript = `
cat > /dev/null
printf 'RIFF\0\0\0\0WAVEfmt '
# 28 header bytes of zeros up to offset 44
dd if=/dev/zero bs=1 count=28 2>/dev/null
# payload
dd if=/dev/zero bs=1 count=200 2>/dev/null
`

func newTestESpeak(t *testing.T, mbrolaBody string) *ESpeakEngine {
	return newTestESpeakFull(t, `echo "_ 100"`, mbrolaBody)
}

func newTestESpeakFull(t *testing.T, espeakBody, mbrolaBody string) *ESpeakEngine {
	t.Helper()
	dir := t.TempDir()

	espeak := writeScript(t, dir, "espeak", espeakBody)
	mbrola := writeScript(t, dir, "mbrola", mbrolaBody)

	voiceDir := filepath.Join(dir, "voices")
	require.NoError(t, os.MkdirAll(voiceDir, 0o755))
	for _, v := range []string{"mb-us1", "mb-de2", "mb-de4-en", "README"} {
		require.NoError(t, os.WriteFile(filepath.Join(voiceDir, v), nil, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(voiceDir, "mb-fr7"), 0o755))

	return NewESpeakEngine(
		WithESpeakCommands(espeak, mbrola),
		WithESpeakVoiceDirs(voiceDir, dir),
	)
}

func TestESpeakVoices(t *testing.T) {
	e := newTestESpeak(t, wavScript)

	// Multi-segment files and directories are not voices.
	voices, err := e.Voices(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"us1", "de2"}, voices)

	ok, err := e.CheckVoice(context.Background(), "us1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.CheckVoice(context.Background(), "zz9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestESpeakSynthesize(t *testing.T) {
	e := newTestESpeak(t, wavScript)

	audio, err := e.Synthesize(context.Background(), Request{
		Text:  "hello world",
		Voice: "us1",
		Mode:  ModeESpeak,
	})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", audio.ContentType)
	require.Greater(t, len(audio.Data), wavHeaderSize)

	// Header sizes must describe the actual buffer after repair.
	assert.Equal(t, uint32(len(audio.Data)-8), binary.LittleEndian.Uint32(audio.Data[4:8]))
	assert.Equal(t, uint32(len(audio.Data)-44), binary.LittleEndian.Uint32(audio.Data[40:44]))
}

// flakyEspeak mimics the known handoff failure message espeak prints when
// mbrola drops the stream.
const flakyEspeak = `
echo "_ 100"
echo "mbrowrap error: unable to get .wav header from mbrola" >&2
`

func TestESpeakSynthesize_RetriesEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran-once")

	// First run emits a bare header, second run produces audio.
	body := `
cat > /dev/null
if [ ! -f "` + marker + `" ]; then
  touch "` + marker + `"
  dd if=/dev/zero bs=1 count=44 2>/dev/null
else
  printf 'RIFF\0\0\0\0WAVEfmt '
  dd if=/dev/zero bs=1 count=28 2>/dev/null
  dd if=/dev/zero bs=1 count=200 2>/dev/null
fi
`
	e := newTestESpeakFull(t, flakyEspeak, body)

	audio, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "us1"})
	require.NoError(t, err)
	assert.Greater(t, len(audio.Data), wavHeaderSize)
	assert.FileExists(t, marker)
}

func TestESpeakSynthesize_GivesUpAfterBoundedAttempts(t *testing.T) {
	e := newTestESpeakFull(t, flakyEspeak, `
cat > /dev/null
dd if=/dev/zero bs=1 count=44 2>/dev/null
`)

	_, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "us1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 5 attempts")
}

func TestESpeakSynthesize_EmptyOutputWithoutMarkerIsFatal(t *testing.T) {
	// No handoff complaint from espeak means the bare header is not the
	// known transient failure and must not be retried.
	e := newTestESpeak(t, `
cat > /dev/null
dd if=/dev/zero bs=1 count=44 2>/dev/null
`)

	_, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "us1"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "attempts")
}

func TestESpeakSynthesize_FailingBinary(t *testing.T) {
	e := newTestESpeak(t, `cat > /dev/null; echo "fatal: no such voice" >&2; exit 1`)

	_, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "us1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mbrola")
}

func TestESpeakSynthesize_IgnoresBenignStderr(t *testing.T) {
	e := newTestESpeak(t, `
echo 'Warning: /6/ unknown, replaced with /@/' >&2
`+wavScript)

	audio, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "us1"})
	require.NoError(t, err)
	assert.Greater(t, len(audio.Data), wavHeaderSize)
}

func TestESpeakCheckLength(t *testing.T) {
	e := NewESpeakEngine()

	payload := make([]byte, 44100*3)
	data := buildWAV(t, 1, 22050, 16, payload)

	assert.True(t, e.CheckLength(data, 0), "zero max means unbounded")
	assert.True(t, e.CheckLength(data, 5))
	assert.False(t, e.CheckLength(data, 2))
	assert.True(t, e.CheckLength([]byte("not wav"), 1), "undecodable audio passes")
}

func TestESpeakMetadata(t *testing.T) {
	e := NewESpeakEngine()
	assert.Equal(t, ModeESpeak, e.Mode())
	assert.Equal(t, "audio/wav", e.DefaultContentType())

	max, bounded := e.MaxSpeakingRate()
	assert.True(t, bounded)
	assert.Equal(t, float32(400), max)
}
