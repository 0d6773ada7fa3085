// Package server exposes the synthesis gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Discord-TTS/tts-service/gateway"
	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/translate"
	"github.com/Discord-TTS/tts-service/tts"
)

// maxTextLength bounds the accepted text parameter in runes.
const maxTextLength = 2000

// LanguageLister lists the translation target languages.
type LanguageLister interface {
	Languages(ctx context.Context) ([]translate.Language, error)
}

// Server is the HTTP surface over a dispatcher.
type Server struct {
	dispatcher *gateway.Dispatcher
	authKey    string
	languages  LanguageLister
	metrics    http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithAuthKey requires the Authorization header to match key. An empty key
// leaves the server open.
func WithAuthKey(key string) Option {
	return func(s *Server) {
		s.authKey = key
	}
}

// WithLanguageLister enables the translation language listing endpoint.
func WithLanguageLister(l LanguageLister) Option {
	return func(s *Server) {
		s.languages = l
	}
}

// WithMetricsHandler mounts a metrics endpoint.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New builds a Server over the dispatcher.
func New(dispatcher *gateway.Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: dispatcher}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tts", s.handleTTS)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /modes", s.handleModes)
	mux.HandleFunc("GET /translation_languages", s.handleTranslationLanguages)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.withRequestLog(mux)
}

// withRequestLog tags each request with an id and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Debug("Handled request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start).String(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// errorEnvelope is the wire form of a request failure.
type errorEnvelope struct {
	Display string        `json:"display"`
	Code    tts.ErrorCode `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	reqErr, ok := err.(*tts.RequestError)
	if !ok {
		reqErr = tts.ErrInternal(err)
	}
	if reqErr.HTTPStatus() >= 500 {
		logger.Error("Request failed", "error", logger.RedactSensitiveData(err.Error()))
	}
	writeJSON(w, reqErr.HTTPStatus(), errorEnvelope{
		Display: reqErr.Message,
		Code:    reqErr.Code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// authorized checks the Authorization header against the configured key.
func (s *Server) authorized(r *http.Request) bool {
	if s.authKey == "" {
		return true
	}
	return r.Header.Get("Authorization") == s.authKey
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, tts.ErrUnauthorized)
		return
	}

	req, err := parseTTSRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	audio, err := s.dispatcher.Dispatch(r.Context(), *req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Write(audio.Data)
}

func parseTTSRequest(r *http.Request) (*tts.Request, error) {
	query := r.URL.Query()

	text := query.Get("text")
	if text == "" {
		return nil, &tts.RequestError{
			Code:    tts.CodeUnknown,
			Message: "Missing text parameter",
			Status:  http.StatusBadRequest,
		}
	}
	if len([]rune(text)) > maxTextLength {
		return nil, tts.ErrAudioTooLong
	}

	mode, ok := tts.ParseMode(query.Get("mode"))
	if !ok {
		return nil, &tts.RequestError{
			Code:    tts.CodeUnknown,
			Message: "Unknown mode: " + query.Get("mode"),
			Status:  http.StatusBadRequest,
		}
	}

	req := &tts.Request{
		Text:            text,
		Voice:           query.Get("lang"),
		Mode:            mode,
		PreferredFormat: query.Get("preferred_format"),
		TranslationLang: query.Get("translation_lang"),
	}

	if raw := query.Get("speaking_rate"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, &tts.RequestError{
				Code:    tts.CodeInvalidSpeakingRate,
				Message: "Invalid speaking rate: " + raw,
			}
		}
		req.SpeakingRate = float32(rate)
	}

	if raw := query.Get("max_length"); raw != "" {
		maxLength, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, &tts.RequestError{
				Code:    tts.CodeUnknown,
				Message: "Invalid max length: " + raw,
				Status:  http.StatusBadRequest,
			}
		}
		req.MaxLength = uint(maxLength)
	}

	return req, nil
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, tts.ErrUnauthorized)
		return
	}

	query := r.URL.Query()
	mode, ok := tts.ParseMode(query.Get("mode"))
	if !ok {
		writeError(w, &tts.RequestError{
			Code:    tts.CodeUnknown,
			Message: "Unknown mode: " + query.Get("mode"),
			Status:  http.StatusBadRequest,
		})
		return
	}

	engine, ok := s.dispatcher.Engine(mode)
	if !ok {
		writeError(w, &tts.RequestError{
			Code:    tts.CodeUnknown,
			Message: "Unknown mode: " + string(mode),
			Status:  http.StatusBadRequest,
		})
		return
	}

	if query.Get("raw") == "true" {
		if rawVoicer, ok := engine.(tts.RawVoicer); ok {
			raw, err := rawVoicer.RawVoices(r.Context())
			if err != nil {
				writeError(w, tts.ErrInternal(err))
				return
			}
			writeJSON(w, http.StatusOK, raw)
			return
		}
	}

	voices, err := engine.Voices(r.Context())
	if err != nil {
		writeError(w, tts.ErrInternal(err))
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, tts.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Modes())
}

func (s *Server) handleTranslationLanguages(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, tts.ErrUnauthorized)
		return
	}
	if s.languages == nil {
		writeError(w, tts.ErrTranslationDisabled)
		return
	}

	languages, err := s.languages.Languages(r.Context())
	if err != nil {
		writeError(w, tts.ErrInternal(err))
		return
	}
	writeJSON(w, http.StatusOK, languages)
}
