package tts

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tcolgate/mp3"
	"golang.org/x/time/rate"

	"github.com/Discord-TTS/tts-service/identity"
	"github.com/Discord-TTS/tts-service/logger"
)

//go:embed data/voices-gtts.json
var gttsVoicesJSON []byte

const (
	gttsDefaultBaseURL   = "https://translate.google.com"
	gttsChunkRuneLimit   = 200
	gttsMaxFetchAttempts = 3
)

var (
	gttsVoicesOnce sync.Once
	gttsVoices     map[string]string
)

func gttsVoiceTable() map[string]string {
	gttsVoicesOnce.Do(func() {
		if err := json.Unmarshal(gttsVoicesJSON, &gttsVoices); err != nil {
			panic(fmt.Sprintf("tts: bad embedded gtts voice data: %v", err))
		}
	})
	return gttsVoices
}

// GTTSEngine synthesizes speech through the public Google Translate TTS
// endpoint. Requests go out through a rotating identity so a blocked source
// address can be swapped without dropping the request.
type GTTSEngine struct {
	rotator *identity.Rotator
	baseURL string
	limiter *rate.Limiter
}

// GTTSOption configures a GTTSEngine.
type GTTSOption func(*GTTSEngine)

// WithGTTSBaseURL overrides the translate endpoint, used by tests.
func WithGTTSBaseURL(u string) GTTSOption {
	return func(e *GTTSEngine) {
		e.baseURL = u
	}
}

// WithGTTSChunkInterval paces successive chunk fetches for one request.
func WithGTTSChunkInterval(d time.Duration) GTTSOption {
	return func(e *GTTSEngine) {
		e.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewGTTSEngine builds a Translate backed engine using rot for outbound
// requests.
func NewGTTSEngine(rot *identity.Rotator, opts ...GTTSOption) *GTTSEngine {
	e := &GTTSEngine{
		rotator: rot,
		baseURL: gttsDefaultBaseURL,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GTTSProbe returns a prober that performs a tiny English synthesis and
// classifies the provider's reaction to the candidate address.
func GTTSProbe(baseURL string) identity.Prober {
	if baseURL == "" {
		baseURL = gttsDefaultBaseURL
	}
	return func(ctx context.Context, client *http.Client) identity.Outcome {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, gttsURL(baseURL, "Hello", "en"), nil)
		if err != nil {
			return identity.HostUnreachable
		}
		resp, err := client.Do(req)
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return identity.Classify(resp, err)
	}
}

func gttsURL(baseURL, text, voice string) string {
	params := url.Values{
		"ie":      {"UTF-8"},
		"total":   {"1"},
		"idx":     {"0"},
		"client":  {"tw-ob"},
		"tl":      {voice},
		"q":       {text},
		"textlen": {strconv.Itoa(len([]rune(text)))},
	}
	return baseURL + "/translate_tts?" + params.Encode()
}

func (e *GTTSEngine) Mode() Mode { return ModeGTTS }

func (e *GTTSEngine) MaxSpeakingRate() (float32, bool) { return 0, false }

func (e *GTTSEngine) DefaultContentType() string { return "audio/mpeg" }

func (e *GTTSEngine) CheckVoice(_ context.Context, voice string) (bool, error) {
	_, ok := gttsVoiceTable()[voice]
	return ok, nil
}

func (e *GTTSEngine) Voices(_ context.Context) ([]string, error) {
	table := gttsVoiceTable()
	voices := make([]string, 0, len(table))
	for code := range table {
		voices = append(voices, code)
	}
	sort.Strings(voices)
	return voices, nil
}

// RawVoices exposes the code to language name table.
func (e *GTTSEngine) RawVoices(_ context.Context) (any, error) {
	return gttsVoiceTable(), nil
}

// CheckLength sums the decoded MP3 frame durations. Audio the decoder cannot
// parse is accepted rather than rejected.
func (e *GTTSEngine) CheckLength(audio []byte, maxSeconds uint) bool {
	if maxSeconds == 0 {
		return true
	}

	var total time.Duration
	decoder := mp3.NewDecoder(bytes.NewReader(audio))
	var frame mp3.Frame
	var skipped int
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			break
		}
		total += frame.Duration()
	}
	return total <= time.Duration(maxSeconds)*time.Second
}

// Synthesize fetches the text as one or more chunks and concatenates the
// resulting MP3 streams. A rate-limited or timed-out fetch triggers identity
// rotation and a bounded retry of the same chunk.
func (e *GTTSEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	chunks := chunkText(req.Text, gttsChunkRuneLimit)
	logger.ProviderCall(string(ModeGTTS), "voice", req.Voice, "chunks", len(chunks))

	var audio []byte
	for _, chunk := range chunks {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		data, err := e.fetchChunk(ctx, chunk, req.Voice)
		if err != nil {
			logger.ProviderError(string(ModeGTTS), err, "voice", req.Voice)
			return nil, err
		}
		audio = append(audio, data...)
	}
	return &Audio{Data: audio, ContentType: "audio/mpeg"}, nil
}

func (e *GTTSEngine) fetchChunk(ctx context.Context, chunk, voice string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < gttsMaxFetchAttempts; attempt++ {
		ident := e.rotator.Current()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, gttsURL(e.baseURL, chunk, voice), nil)
		if err != nil {
			return nil, err
		}

		resp, err := ident.Client.Do(httpReq)
		switch identity.Classify(resp, err) {
		case identity.Ok:
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, fmt.Errorf("reading gtts response: %w", readErr)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("gtts responded %s", resp.Status)
			}
			return data, nil

		case identity.RateLimited, identity.TimedOut:
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				lastErr = fmt.Errorf("gtts responded %s", resp.Status)
			} else {
				lastErr = err
			}
			if !e.rotator.Enabled() {
				// Without an address block there is no fresh identity to
				// switch to, so the failure is terminal.
				return nil, lastErr
			}
			logger.Warn("gtts blocked current identity, rotating",
				"addr", ident.Addr.String(), "attempt", attempt+1)
			if _, rotErr := e.rotator.Rotate(ctx, ident); rotErr != nil {
				return nil, rotErr
			}

		default:
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			return nil, fmt.Errorf("gtts request failed: %w", err)
		}
	}
	return nil, fmt.Errorf("gtts exhausted fetch attempts: %w", lastErr)
}

// chunkText splits text into rune-bounded chunks, preferring to break at
// whitespace. A single word longer than the limit is split mid-word.
func chunkText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == ' ' || runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
