package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/metrics"
)

const (
	espeakMaxRate      = 400
	espeakDefaultRate  = 175
	espeakMaxAttempts  = 5
	espeakRetryDelay   = 50 * time.Millisecond
	defaultVoiceDir    = "/usr/local/share/espeak-ng-data/voices/mb"
	defaultMbrolaDir   = "/usr/share/mbrola"
	mbrolaHeaderError  = "unable to get .wav header from mbrola"
	mbrolaBenignMarker = "unknown, replaced with "
)

// ESpeakEngine synthesizes speech by piping espeak phoneme output into
// mbrola. Both binaries must be installed alongside their voice data.
type ESpeakEngine struct {
	espeakCmd string
	mbrolaCmd string
	voiceDir  string
	mbrolaDir string

	voicesOnce sync.Once
	voices     []string
	voicesErr  error
}

// ESpeakOption configures an ESpeakEngine.
type ESpeakOption func(*ESpeakEngine)

// WithESpeakCommands overrides the espeak and mbrola executables.
func WithESpeakCommands(espeak, mbrola string) ESpeakOption {
	return func(e *ESpeakEngine) {
		e.espeakCmd = espeak
		e.mbrolaCmd = mbrola
	}
}

// WithESpeakVoiceDirs overrides the directories scanned for mbrola voices.
func WithESpeakVoiceDirs(voiceDir, mbrolaDir string) ESpeakOption {
	return func(e *ESpeakEngine) {
		e.voiceDir = voiceDir
		e.mbrolaDir = mbrolaDir
	}
}

// NewESpeakEngine builds an eSpeak/mbrola backed engine.
func NewESpeakEngine(opts ...ESpeakOption) *ESpeakEngine {
	e := &ESpeakEngine{
		espeakCmd: "espeak",
		mbrolaCmd: "mbrola",
		voiceDir:  defaultVoiceDir,
		mbrolaDir: defaultMbrolaDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ESpeakEngine) Mode() Mode { return ModeESpeak }

func (e *ESpeakEngine) MaxSpeakingRate() (float32, bool) { return espeakMaxRate, true }

func (e *ESpeakEngine) DefaultContentType() string { return "audio/wav" }

// Voices lists the installed mbrola voices, identified by the suffix of
// each mb-* voice file shipped with espeak.
func (e *ESpeakEngine) Voices(_ context.Context) ([]string, error) {
	e.voicesOnce.Do(func() {
		entries, err := os.ReadDir(e.voiceDir)
		if err != nil {
			e.voicesErr = fmt.Errorf("listing espeak voices: %w", err)
			return
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			voice, ok := strings.CutPrefix(entry.Name(), "mb-")
			if !ok || voice == "" || strings.Contains(voice, "-") {
				continue
			}
			e.voices = append(e.voices, voice)
		}
	})
	return e.voices, e.voicesErr
}

func (e *ESpeakEngine) CheckVoice(ctx context.Context, voice string) (bool, error) {
	voices, err := e.Voices(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range voices {
		if v == voice {
			return true, nil
		}
	}
	return false, nil
}

func (e *ESpeakEngine) CheckLength(audio []byte, maxSeconds uint) bool {
	if maxSeconds == 0 {
		return true
	}
	d, err := wavDuration(audio)
	if err != nil {
		return true
	}
	return d <= time.Duration(maxSeconds)*time.Second
}

// Synthesize runs the espeak to mbrola pipeline. mbrola occasionally fails
// to hand a complete stream to its reader and emits only a bare header, so
// empty results are retried a bounded number of times.
func (e *ESpeakEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	// espeak's own default words-per-minute rate.
	rate := espeakDefaultRate
	if req.SpeakingRate > 0 {
		rate = int(req.SpeakingRate)
	}
	logger.ProviderCall(string(ModeESpeak), "voice", req.Voice, "rate", rate)

	var lastErr error
	for attempt := 0; attempt < espeakMaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.PipelineRetriesTotal.Inc()
			select {
			case <-time.After(espeakRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, phonemeStderr, err := e.runPipeline(ctx, req.Text, req.Voice, rate)
		if err != nil {
			logger.ProviderError(string(ModeESpeak), err, "voice", req.Voice)
			return nil, fmt.Errorf("espeak pipeline: %w", err)
		}
		if len(data) <= wavHeaderSize {
			// A bare header with no samples is transient only when the
			// phoneme process reported the known mbrola handoff failure.
			if !strings.Contains(phonemeStderr, mbrolaHeaderError) {
				return nil, fmt.Errorf("espeak pipeline returned %d bytes: %s",
					len(data), strings.TrimSpace(phonemeStderr))
			}
			logger.Warn("espeak pipeline produced no audio, retrying",
				"voice", req.Voice, "attempt", attempt+1)
			lastErr = fmt.Errorf("espeak pipeline returned %d bytes", len(data))
			continue
		}

		if err := repairWAVHeader(data); err != nil {
			return nil, err
		}
		return &Audio{Data: data, ContentType: "audio/wav"}, nil
	}
	return nil, fmt.Errorf("espeak pipeline failed after %d attempts: %w", espeakMaxAttempts, lastErr)
}

// runPipeline wires espeak's phoneme output directly into mbrola's stdin
// through an OS pipe so neither process buffers the whole stream. It returns
// the rendered audio plus espeak's stderr for transient-failure detection.
func (e *ESpeakEngine) runPipeline(ctx context.Context, text, voice string, rate int) ([]byte, string, error) {
	pipeRead, pipeWrite, err := os.Pipe()
	if err != nil {
		return nil, "", err
	}

	voicePath := filepath.Join(e.mbrolaDir, voice, voice)

	espeak := exec.CommandContext(ctx, e.espeakCmd,
		"--pho", "-q", "-s", strconv.Itoa(rate), "-v", "mb/mb-"+voice, text)
	espeak.Stdout = pipeWrite
	var espeakStderr bytes.Buffer
	espeak.Stderr = &espeakStderr

	mbrola := exec.CommandContext(ctx, e.mbrolaCmd, "-e", voicePath, "-", "-.wav")
	mbrola.Stdin = pipeRead
	var audio bytes.Buffer
	mbrola.Stdout = &audio
	mbrolaStderr, err := mbrola.StderrPipe()
	if err != nil {
		pipeRead.Close()
		pipeWrite.Close()
		return nil, "", err
	}

	if err := espeak.Start(); err != nil {
		pipeRead.Close()
		pipeWrite.Close()
		return nil, "", fmt.Errorf("starting espeak: %w", err)
	}
	if err := mbrola.Start(); err != nil {
		pipeRead.Close()
		pipeWrite.Close()
		espeak.Wait()
		return nil, "", fmt.Errorf("starting mbrola: %w", err)
	}

	// The parent must drop its copies of the pipe ends so mbrola observes
	// EOF once espeak exits.
	pipeWrite.Close()
	pipeRead.Close()

	serious := drainMbrolaStderr(mbrolaStderr)

	espeakErr := espeak.Wait()
	mbrolaErr := mbrola.Wait()

	if espeakErr != nil {
		return nil, "", fmt.Errorf("espeak: %w: %s", espeakErr, espeakStderr.String())
	}
	if mbrolaErr != nil {
		return nil, "", fmt.Errorf("mbrola: %w: %s", mbrolaErr, strings.Join(serious, "; "))
	}
	for _, line := range serious {
		logger.Warn("mbrola stderr", "line", line)
	}
	return audio.Bytes(), espeakStderr.String(), nil
}

// drainMbrolaStderr reads mbrola's diagnostics, discarding the routine
// phoneme substitution notices it prints for out of inventory phonemes.
func drainMbrolaStderr(r io.Reader) []string {
	var serious []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.Contains(line, mbrolaBenignMarker) {
			continue
		}
		serious = append(serious, line)
	}
	return serious
}
