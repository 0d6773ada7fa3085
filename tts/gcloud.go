package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Discord-TTS/tts-service/credentials"
	"github.com/Discord-TTS/tts-service/logger"
)

const (
	gcloudDefaultBaseURL = "https://texttospeech.googleapis.com"
	gcloudMaxRate        = 4.0
)

// gcloudEncodings maps the accepted preferred_format values onto the
// synthesis API's encoding names and response content types.
var gcloudEncodings = map[string]struct {
	encoding    string
	contentType string
}{
	"linear16": {"LINEAR16", "audio/wav"},
	"ogg_opus": {"OGG_OPUS", "audio/opus"},
	"mulaw":    {"MULAW", "audio/basic"},
	"alaw":     {"ALAW", "audio/alaw"},
	"mp3":      {"MP3", "audio/mpeg"},
}

const gcloudDefaultEncoding = "ogg_opus"

// GCloudEngine synthesizes speech through the Google Cloud Text-to-Speech
// API, authenticated with self-signed service account tokens.
type GCloudEngine struct {
	creds   *credentials.Manager
	client  *http.Client
	baseURL string

	voices catalog[[]string]
}

// GCloudOption configures a GCloudEngine.
type GCloudOption func(*GCloudEngine)

// WithGCloudBaseURL overrides the API endpoint, used by tests.
func WithGCloudBaseURL(u string) GCloudOption {
	return func(e *GCloudEngine) {
		e.baseURL = u
	}
}

// WithGCloudHTTPClient overrides the API client.
func WithGCloudHTTPClient(c *http.Client) GCloudOption {
	return func(e *GCloudEngine) {
		e.client = c
	}
}

// NewGCloudEngine builds a Cloud TTS backed engine.
func NewGCloudEngine(creds *credentials.Manager, opts ...GCloudOption) *GCloudEngine {
	e := &GCloudEngine{
		creds:   creds,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: gcloudDefaultBaseURL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *GCloudEngine) Mode() Mode { return ModeGCloud }

func (e *GCloudEngine) MaxSpeakingRate() (float32, bool) { return gcloudMaxRate, true }

func (e *GCloudEngine) DefaultContentType() string {
	return gcloudEncodings[gcloudDefaultEncoding].contentType
}

// CheckLength always passes. The API bounds input size server-side and the
// gateway does not decode Opus to measure duration.
func (e *GCloudEngine) CheckLength(_ []byte, _ uint) bool { return true }

// gcloudVoiceName converts the exposed "lang variant" form, for example
// "en-US A", into the API voice name "en-US-Standard-A".
func gcloudVoiceName(voice string) (lang, name string, ok bool) {
	lang, variant, found := strings.Cut(voice, " ")
	if !found || lang == "" || variant == "" {
		return "", "", false
	}
	return lang, fmt.Sprintf("%s-Standard-%s", lang, variant), true
}

func (e *GCloudEngine) CheckVoice(ctx context.Context, voice string) (bool, error) {
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

type gcloudVoice struct {
	LanguageCodes []string `json:"languageCodes"`
	Name          string   `json:"name"`
	SsmlGender    string   `json:"ssmlGender"`
}

// Voices lists the Standard-tier voices as "lang variant" pairs. The catalog
// is fetched once and cached for the process lifetime.
func (e *GCloudEngine) Voices(ctx context.Context) ([]string, error) {
	return e.voices.get(func() ([]string, error) {
		raw, err := e.fetchVoices(ctx)
		if err != nil {
			return nil, err
		}

		var voices []string
		for _, v := range raw {
			// Voice names look like "en-US-Standard-A".
			idx := strings.LastIndex(v.Name, "-Standard-")
			if idx < 0 {
				continue
			}
			lang := v.Name[:idx]
			variant := v.Name[idx+len("-Standard-"):]
			voices = append(voices, lang+" "+variant)
		}
		sort.Strings(voices)
		return voices, nil
	})
}

// RawVoices exposes the unfiltered voice listing from the API.
func (e *GCloudEngine) RawVoices(ctx context.Context) (any, error) {
	return e.fetchVoices(ctx)
}

func (e *GCloudEngine) fetchVoices(ctx context.Context) ([]gcloudVoice, error) {
	req, err := e.newRequest(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing gcloud voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gcloud voices responded %s: %s", resp.Status, body)
	}

	var payload struct {
		Voices []gcloudVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding gcloud voices: %w", err)
	}
	return payload.Voices, nil
}

func (e *GCloudEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	lang, name, ok := gcloudVoiceName(req.Voice)
	if !ok {
		return nil, ErrUnknownVoice(req.Voice)
	}

	format := req.PreferredFormat
	if format == "" {
		format = gcloudDefaultEncoding
	}
	encoding, known := gcloudEncodings[format]
	if !known {
		encoding = gcloudEncodings[gcloudDefaultEncoding]
	}

	speakingRate := req.SpeakingRate
	if speakingRate == 0 {
		speakingRate = 1.0
	}

	body := map[string]any{
		"input": map[string]string{"text": req.Text},
		"voice": map[string]string{
			"languageCode": lang,
			"name":         name,
		},
		"audioConfig": map[string]any{
			"audioEncoding": encoding.encoding,
			"speakingRate":  speakingRate,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := e.newRequest(ctx, http.MethodPost, "/v1/text:synthesize", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.ProviderCall(string(ModeGCloud), "voice", name, "encoding", encoding.encoding)
	resp, err := e.client.Do(httpReq)
	if err != nil {
		logger.ProviderError(string(ModeGCloud), err, "voice", name)
		return nil, fmt.Errorf("gcloud synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("gcloud synthesize responded %s: %s", resp.Status, msg)
		logger.ProviderError(string(ModeGCloud), err, "voice", name)
		return nil, err
	}

	var payload struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding gcloud response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(payload.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding gcloud audio: %w", err)
	}

	return &Audio{Data: audio, ContentType: encoding.contentType}, nil
}

func (e *GCloudEngine) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	token, err := e.creds.Token()
	if err != nil {
		return nil, fmt.Errorf("minting gcloud token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
