package tts

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Discord-TTS/tts-service/credentials"
)

func testCredentials(t *testing.T) *credentials.Manager {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	mgr, err := credentials.NewManager(&credentials.ServiceAccount{
		PrivateKey:  string(pemKey),
		ClientEmail: "svc@test.iam.gserviceaccount.com",
	}, "https://texttospeech.googleapis.com/")
	require.NoError(t, err)
	return mgr
}

func gcloudTestServer(t *testing.T, synthCalls *atomic.Int32, lastBody *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Authorization"))
		require.True(t, len(r.Header.Get("Authorization")) > len("Bearer "))

		switch r.URL.Path {
		case "/v1/voices":
			json.NewEncoder(w).Encode(map[string]any{
				"voices": []map[string]any{
					{"name": "en-US-Standard-A", "languageCodes": []string{"en-US"}, "ssmlGender": "FEMALE"},
					{"name": "en-US-Standard-B", "languageCodes": []string{"en-US"}, "ssmlGender": "MALE"},
					{"name": "en-US-Wavenet-C", "languageCodes": []string{"en-US"}, "ssmlGender": "FEMALE"},
					{"name": "de-DE-Standard-A", "languageCodes": []string{"de-DE"}, "ssmlGender": "FEMALE"},
				},
			})
		case "/v1/text:synthesize":
			synthCalls.Add(1)
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			lastBody.Store(req)
			json.NewEncoder(w).Encode(map[string]string{
				"audioContent": base64.StdEncoding.EncodeToString([]byte("opus-audio")),
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestGCloudVoices(t *testing.T) {
	var calls atomic.Int32
	var body atomic.Value
	server := gcloudTestServer(t, &calls, &body)
	defer server.Close()

	e := NewGCloudEngine(testCredentials(t), WithGCloudBaseURL(server.URL))

	voices, err := e.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"de-DE A", "en-US A", "en-US B"}, voices, "only Standard voices are exposed")

	ok, err := e.CheckVoice(context.Background(), "en-US A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.CheckVoice(context.Background(), "en-US C")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGCloudSynthesize(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	server := gcloudTestServer(t, &calls, &lastBody)
	defer server.Close()

	e := NewGCloudEngine(testCredentials(t), WithGCloudBaseURL(server.URL))

	audio, err := e.Synthesize(context.Background(), Request{
		Text:         "guten tag",
		Voice:        "de-DE A",
		SpeakingRate: 1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("opus-audio"), audio.Data)
	assert.Equal(t, "audio/opus", audio.ContentType)

	req := lastBody.Load().(map[string]any)
	voice := req["voice"].(map[string]any)
	assert.Equal(t, "de-DE", voice["languageCode"])
	assert.Equal(t, "de-DE-Standard-A", voice["name"])

	cfg := req["audioConfig"].(map[string]any)
	assert.Equal(t, "OGG_OPUS", cfg["audioEncoding"], "opus is the default encoding")
	assert.InDelta(t, 1.5, cfg["speakingRate"], 0.001)
}

func TestGCloudSynthesize_PreferredFormat(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	server := gcloudTestServer(t, &calls, &lastBody)
	defer server.Close()

	e := NewGCloudEngine(testCredentials(t), WithGCloudBaseURL(server.URL))

	audio, err := e.Synthesize(context.Background(), Request{
		Text:            "hello",
		Voice:           "en-US A",
		PreferredFormat: "mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", audio.ContentType)

	cfg := lastBody.Load().(map[string]any)["audioConfig"].(map[string]any)
	assert.Equal(t, "MP3", cfg["audioEncoding"])
	assert.InDelta(t, 1.0, cfg["speakingRate"], 0.001, "unset rate defaults to 1.0")
}

func TestGCloudSynthesize_BadVoiceShape(t *testing.T) {
	e := NewGCloudEngine(testCredentials(t))

	_, err := e.Synthesize(context.Background(), Request{Text: "hi", Voice: "noseparator"})
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeUnknownVoice, reqErr.Code)
}

func TestGCloudMetadata(t *testing.T) {
	e := NewGCloudEngine(testCredentials(t))
	assert.Equal(t, ModeGCloud, e.Mode())
	assert.Equal(t, "audio/opus", e.DefaultContentType())
	assert.True(t, e.CheckLength([]byte("anything"), 1))

	max, bounded := e.MaxSpeakingRate()
	assert.True(t, bounded)
	assert.Equal(t, float32(4.0), max)
}
