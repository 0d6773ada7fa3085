// Package translate pre-processes request text through the DeepL API.
// Translation only rewrites the input text before it reaches synthesis; it
// is skipped when the detected source language already matches the target.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api-free.deepl.com/v2"
	defaultTimeout = 10 * time.Second
)

// Client calls the DeepL translation API.
type Client struct {
	baseURL string
	authKey string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// New creates a DeepL client.
func New(authKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		authKey: authKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type translateResponse struct {
	Translations []struct {
		Text                   string `json:"text"`
		DetectedSourceLanguage string `json:"detected_source_language"`
	} `json:"translations"`
}

// Translate returns text translated into targetLang, or ("", false) when the
// detected source language already matches the target and the original text
// should be used unchanged.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, bool, error) {
	query := url.Values{}
	query.Set("text", text)
	query.Set("target_lang", targetLang)
	query.Set("preserve_formatting", "1")

	var resp translateResponse
	if err := c.get(ctx, "/translate", query, &resp); err != nil {
		return "", false, err
	}

	if len(resp.Translations) == 0 {
		return "", false, nil
	}

	translation := resp.Translations[0]
	if strings.EqualFold(translation.DetectedSourceLanguage, targetLang) {
		return "", false, nil
	}
	return translation.Text, true, nil
}

// Language is a supported translation target.
type Language struct {
	Code string `json:"language"`
	Name string `json:"name"`
}

// Languages lists the supported target languages.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	var langs []Language
	if err := c.get(ctx, "/languages", url.Values{"type": {"target"}}, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

// get issues an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("translation API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode translation response: %w", err)
	}
	return nil
}
