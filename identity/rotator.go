// Package identity owns the outbound network identity used to reach
// providers that rate-limit by source address. A rotator holds one current
// identity, a source address drawn from a configured block plus an HTTP
// client bound to it, and replaces both wholesale when the provider blocks
// the address.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Discord-TTS/tts-service/logger"
	"github.com/Discord-TTS/tts-service/metrics"
)

const (
	// seedLength is the length of the pseudo-random candidate seed.
	seedLength = 16

	defaultMaxAttempts   = 8
	defaultProbeTimeout  = 5 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
)

// Prober issues a short, innocuous request to the target provider through
// the candidate's bound client and classifies the result.
type Prober func(ctx context.Context, client *http.Client) Outcome

// Identity is a source address plus a client bound to transmit from it.
// Identities are shared read-only by concurrent requests and replaced
// wholesale on rotation, never mutated in place. An identity referenced by
// an in-flight request stays valid even after it is replaced as current.
type Identity struct {
	Addr   netip.Addr
	Client *http.Client
}

// ErrRotationExhausted is returned when no usable identity could be acquired
// within the configured attempt ceiling.
var ErrRotationExhausted = fmt.Errorf("identity rotation exhausted candidate attempts")

// Rotator maintains the current outbound identity.
//
// Readers take a shared lock for the common case of using the current value;
// rotation serializes on its own mutex and takes the exclusive lock only for
// the brief pointer swap, never for the duration of probing.
type Rotator struct {
	mu      sync.RWMutex // guards current
	current *Identity

	rotateMu sync.Mutex // serializes rotations

	block         netip.Prefix
	probe         Prober
	maxAttempts   int
	probeTimeout  time.Duration
	retryInterval time.Duration
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithMaxAttempts bounds the candidate generation loop. Exceeding the bound
// is a terminal hard failure rather than an unbounded retry.
func WithMaxAttempts(n int) Option {
	return func(r *Rotator) {
		r.maxAttempts = n
	}
}

// WithProbeTimeout sets the per-candidate probe timeout. This is a short
// connect-scale timeout, distinct from any overall request deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Rotator) {
		r.probeTimeout = d
	}
}

// WithRetryInterval sets the initial backoff interval between failed
// candidates.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Rotator) {
		r.retryInterval = d
	}
}

// New creates a rotator drawing addresses from block and acquires the first
// identity before returning.
//
// An invalid (zero) block disables rotation administratively: the rotator
// holds a single fixed unbound identity and never probes or rotates.
func New(ctx context.Context, block netip.Prefix, probe Prober, opts ...Option) (*Rotator, error) {
	r := &Rotator{
		block:         block,
		probe:         probe,
		maxAttempts:   defaultMaxAttempts,
		probeTimeout:  defaultProbeTimeout,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}

	if !r.Enabled() {
		r.current = &Identity{Client: &http.Client{}}
		return r, nil
	}

	ident, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	r.current = ident
	return r, nil
}

// Enabled reports whether address rotation is administratively enabled.
func (r *Rotator) Enabled() bool {
	return r.block.IsValid()
}

// Current returns the identity in effect. The returned identity remains
// usable for the caller's full request even if rotation replaces it.
func (r *Rotator) Current() *Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Rotate replaces the current identity after a caller's provider call was
// classified RateLimited while using it.
//
// Replacement follows a compare-and-swap discipline: the used identity is
// compared against the one still current, and only the first caller to
// observe "the blocked identity is still current" performs the rotation.
// Concurrent callers that hit the same block wait for the winner and then
// continue with whatever identity is current.
func (r *Rotator) Rotate(ctx context.Context, used *Identity) (*Identity, error) {
	if !r.Enabled() {
		return r.Current(), nil
	}

	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()

	r.mu.RLock()
	current := r.current
	r.mu.RUnlock()
	if current != used {
		// A concurrent caller already rotated; use its result.
		return current, nil
	}

	ident, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = ident
	r.mu.Unlock()
	return ident, nil
}

// acquire generates and probes candidate identities until one is usable,
// bounded by the configured attempt ceiling.
func (r *Rotator) acquire(ctx context.Context) (*Identity, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval

	attempt := func() (*Identity, error) {
		seed, err := newSeed()
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		addr := DeriveAddr(seed, r.block)
		candidate := &Identity{Addr: addr, Client: r.boundClient(addr)}

		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()

		outcome := r.probe(probeCtx, candidate.Client)
		metrics.IdentityRotationsTotal.WithLabelValues(outcome.String()).Inc()
		if outcome != Ok {
			logger.Warn("Discarding candidate identity",
				"addr", addr.String(), "outcome", outcome.String())
			return nil, fmt.Errorf("candidate %s: %s", addr, outcome)
		}

		logger.Info("Acquired outbound identity", "addr", addr.String())
		return candidate, nil
	}

	ident, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.maxAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRotationExhausted, err)
	}
	return ident, nil
}

// boundClient builds an HTTP client that transmits from addr.
func (r *Rotator) boundClient(addr netip.Addr) *http.Client {
	dialer := &net.Dialer{Timeout: r.probeTimeout}
	if addr.IsValid() {
		dialer.LocalAddr = &net.TCPAddr{IP: addr.AsSlice()}
	}
	return &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}
}

// DeriveAddr deterministically maps a seed into an address inside block by
// filling the host bits from a digest of the seed.
func DeriveAddr(seed string, block netip.Prefix) netip.Addr {
	sum := sha256.Sum256([]byte(seed))
	base := block.Masked().Addr().As16()
	bits := block.Bits()
	if block.Addr().Is4() {
		// v4-in-v6 mapped layout: prefix bits are relative to the last 4 bytes.
		bits += 96
	}

	for i := 0; i < len(base); i++ {
		remaining := bits - i*8
		switch {
		case remaining >= 8:
			// Entirely prefix-owned byte.
		case remaining <= 0:
			base[i] = sum[i]
		default:
			mask := byte(1<<(8-remaining) - 1)
			base[i] = base[i]&^mask | sum[i]&mask
		}
	}

	addr := netip.AddrFrom16(base)
	if block.Addr().Is4() {
		return addr.Unmap()
	}
	return addr
}

// newSeed returns a pseudo-random 16-character candidate seed.
func newSeed() (string, error) {
	raw := make([]byte, seedLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate seed: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
