// Package gateway dispatches synthesis requests across the configured
// backends, fronted by the audio cache and optional pre-synthesis
// translation.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/Discord-TTS/tts-service/cache"
	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/metrics"
	"github.com/Discord-TTS/tts-service/tts"
)

// Translator converts text into a target language before synthesis.
// The bool result reports whether a translation was actually applied.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, bool, error)
}

// Dispatcher routes a synthesis request to its backend engine.
type Dispatcher struct {
	engines    map[tts.Mode]tts.Engine
	cache      *cache.AudioCache
	translator Translator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTranslator enables pre-synthesis translation.
func WithTranslator(t Translator) Option {
	return func(d *Dispatcher) {
		d.translator = t
	}
}

// New builds a dispatcher over the given engines.
func New(audioCache *cache.AudioCache, engines []tts.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engines: make(map[tts.Mode]tts.Engine, len(engines)),
		cache:   audioCache,
	}
	for _, e := range engines {
		d.engines[e.Mode()] = e
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Engine returns the engine registered for mode.
func (d *Dispatcher) Engine(mode tts.Mode) (tts.Engine, bool) {
	e, ok := d.engines[mode]
	return e, ok
}

// Modes lists the registered modes in presentation order.
func (d *Dispatcher) Modes() []tts.Mode {
	var modes []tts.Mode
	for _, mode := range tts.AllModes() {
		if _, ok := d.engines[mode]; ok {
			modes = append(modes, mode)
		}
	}
	return modes
}

// TranslationEnabled reports whether a translator is configured.
func (d *Dispatcher) TranslationEnabled() bool {
	return d.translator != nil
}

// Dispatch validates the request, serves it from cache when possible, and
// otherwise synthesizes and caches fresh audio.
func (d *Dispatcher) Dispatch(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	start := time.Now()
	audio, status, err := d.dispatch(ctx, req)

	mode := string(req.Mode)
	metrics.RequestsTotal.WithLabelValues(mode, status).Inc()
	metrics.RequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return audio, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req tts.Request) (*tts.Audio, string, error) {
	var deadlines deadlineTracker
	defer deadlines.track("request", requestDeadline)()

	engine, ok := d.engines[req.Mode]
	if !ok {
		return nil, "error", &tts.RequestError{
			Code:    tts.CodeUnknown,
			Message: fmt.Sprintf("Unknown mode: %s", req.Mode),
		}
	}

	if req.SpeakingRate < 0 {
		return nil, "error", tts.ErrInvalidSpeakingRate(req.SpeakingRate)
	}
	if max, bounded := engine.MaxSpeakingRate(); bounded && req.SpeakingRate > max {
		return nil, "error", tts.ErrInvalidSpeakingRate(req.SpeakingRate)
	}

	known, err := engine.CheckVoice(ctx, req.Voice)
	if err != nil {
		return nil, "error", tts.ErrInternal(err)
	}
	if !known {
		return nil, "error", tts.ErrUnknownVoice(req.Voice)
	}

	key := cache.Fingerprint(req.Text, req.Voice, string(req.Mode),
		req.SpeakingRate, req.PreferredFormat, req.TranslationLang)

	lookupDone := deadlines.track("cache lookup", cacheDeadline)
	entry, hit := d.cache.Lookup(ctx, key)
	lookupDone()
	if hit {
		if !engine.CheckLength(entry.Audio, req.MaxLength) {
			return nil, "error", tts.ErrAudioTooLong
		}
		logger.Debug("Serving cached audio", "mode", req.Mode, "key", key.String())
		return &tts.Audio{Data: entry.Audio, ContentType: entry.ContentType}, "cached", nil
	}

	if req.TranslationLang != "" {
		if d.translator == nil {
			return nil, "error", tts.ErrTranslationDisabled
		}
		translationDone := deadlines.track("translation", translationDeadline)
		translated, applied, err := d.translator.Translate(ctx, req.Text, req.TranslationLang)
		translationDone()
		if err != nil {
			return nil, "error", tts.ErrInternal(err)
		}
		if applied {
			req.Text = translated
		}
	}

	audio, err := engine.Synthesize(ctx, req)
	if err != nil {
		if reqErr, ok := err.(*tts.RequestError); ok {
			return nil, "error", reqErr
		}
		return nil, "error", tts.ErrInternal(err)
	}

	contentType := audio.ContentType
	if contentType == "" {
		contentType = engine.DefaultContentType()
	}

	// Over-long audio is cached anyway; the hit path re-checks length.
	insertDone := deadlines.track("cache insert", cacheDeadline)
	d.cache.Insert(ctx, key, cache.Entry{Audio: audio.Data, ContentType: contentType})
	insertDone()

	if !engine.CheckLength(audio.Data, req.MaxLength) {
		return nil, "error", tts.ErrAudioTooLong
	}

	return &tts.Audio{Data: audio.Data, ContentType: contentType}, "success", nil
}
