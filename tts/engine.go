// Package tts defines the synthesis dispatch contract and the backend
// engines that implement it.
//
// An Engine abstracts one synthesis provider, the local subprocess pipeline
// or a network API, so the gateway can dispatch any request through the same
// interface. Adding a backend means implementing Engine, not touching a
// central switch.
package tts

import (
	"context"
)

// Mode identifies a synthesis backend.
type Mode string

// Supported modes.
const (
	ModeGTTS   Mode = "gTTS"
	ModePolly  Mode = "Polly"
	ModeESpeak Mode = "eSpeak"
	ModeGCloud Mode = "gCloud"
)

// AllModes lists every supported mode in presentation order.
func AllModes() []Mode {
	return []Mode{ModeGTTS, ModePolly, ModeESpeak, ModeGCloud}
}

// ParseMode validates a mode string from the request surface.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeGTTS, ModePolly, ModeESpeak, ModeGCloud:
		return Mode(s), true
	default:
		return "", false
	}
}

// Request is one synthesis request. Immutable once constructed.
type Request struct {
	// Text is the content to synthesize.
	Text string

	// Voice is the provider-specific voice identifier.
	Voice string

	// Mode selects the backend.
	Mode Mode

	// SpeakingRate is the provider-specific speech rate; 0 means the
	// provider default.
	SpeakingRate float32

	// MaxLength bounds the synthesized audio duration in seconds; 0 means
	// unbounded.
	MaxLength uint

	// PreferredFormat requests a provider-specific output encoding.
	PreferredFormat string

	// TranslationLang asks for the text to be translated before synthesis.
	TranslationLang string
}

// Audio is a synthesis result: raw bytes plus their content type.
type Audio struct {
	Data        []byte
	ContentType string
}

// Engine is the dispatch contract every backend implements.
//
// Voice and speaking-rate validation happen before any network or process
// work; a request that fails them must never reach Synthesize.
type Engine interface {
	// Mode returns the backend identifier.
	Mode() Mode

	// CheckVoice reports whether the voice exists in the backend's catalog.
	// The error covers catalog fetch failures, not unknown voices.
	CheckVoice(ctx context.Context, voice string) (bool, error)

	// MaxSpeakingRate returns the backend's rate ceiling.
	// ok is false when the backend is unconstrained.
	MaxSpeakingRate() (max float32, ok bool)

	// Synthesize converts the request text into audio.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// DefaultContentType is the content type used when the provider does
	// not report one.
	DefaultContentType() string

	// CheckLength reports whether audio fits within maxSeconds. Backends
	// whose encoding makes duration estimation impractical report true.
	CheckLength(audio []byte, maxSeconds uint) bool

	// Voices returns the backend's voice catalog, fetched lazily once and
	// cached for the process lifetime.
	Voices(ctx context.Context) ([]string, error)
}

// RawVoicer is implemented by engines that can expose their provider-native
// voice listing alongside the flat identifier catalog.
type RawVoicer interface {
	RawVoices(ctx context.Context) (any, error)
}
