// Package credentials manages the short-lived bearer token shared by
// token-based providers. A manager holds a service-account signing key and
// issuer identity loaded once at startup, mints RS256 JWTs with a one-hour
// validity, and refreshes the cached token in place when it expires.
package credentials

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the validity window of a minted token.
const DefaultTokenTTL = time.Hour

// ServiceAccount is the subset of a service-account JSON file the manager
// needs: the PEM-encoded signing key and the issuer identity.
type ServiceAccount struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

// LoadServiceAccount reads and parses a service-account file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}

	var account ServiceAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("failed to parse service account file: %w", err)
	}
	if account.PrivateKey == "" || account.ClientEmail == "" {
		return nil, fmt.Errorf("service account file missing private_key or client_email")
	}
	return &account, nil
}

// Manager mints and caches a bearer token. Readers take a shared lock for
// the common case of an unexpired cached token; refresh stores the new
// token under exclusive access held only for the brief state update.
//
// Concurrent callers that observe expiry simultaneously may each mint a
// token; minting is not deduplicated. Correctness requires only that no
// caller ever receives an already-expired token.
type Manager struct {
	key      *rsa.PrivateKey
	email    string
	audience string
	ttl      time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenTTL overrides the minted token validity window.
func WithTokenTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager signing tokens for the given audience.
func NewManager(account *ServiceAccount, audience string, opts ...Option) (*Manager, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}

	m := &Manager{
		key:      key,
		email:    account.ClientEmail,
		audience: audience,
		ttl:      DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Token returns the cached bearer token, minting a replacement first when
// the cached one has expired.
func (m *Manager) Token() (string, error) {
	now := m.now()

	m.mu.RLock()
	if now.Before(m.expiry) {
		token := m.token
		m.mu.RUnlock()
		return token, nil
	}
	m.mu.RUnlock()

	token, expiry, err := m.mint(now)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.token = token
	m.expiry = expiry
	m.mu.Unlock()

	return token, nil
}

// mint signs a fresh claim set issued at now.
func (m *Manager) mint(now time.Time) (string, time.Time, error) {
	expiry := now.Add(m.ttl)

	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": expiry.Unix(),
		"aud": m.audience,
		"iss": m.email,
		"sub": m.email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiry, nil
}
