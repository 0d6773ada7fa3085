package identity

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlock(t *testing.T) netip.Prefix {
	t.Helper()
	block, err := netip.ParsePrefix("2001:db8:1234::/48")
	require.NoError(t, err)
	return block
}

// scriptedProber returns the given outcomes in sequence, then Ok forever.
func scriptedProber(calls *atomic.Int32, outcomes ...Outcome) Prober {
	return func(_ context.Context, _ *http.Client) Outcome {
		n := int(calls.Add(1)) - 1
		if n < len(outcomes) {
			return outcomes[n]
		}
		return Ok
	}
}

func newTestRotator(t *testing.T, probe Prober, opts ...Option) *Rotator {
	t.Helper()
	opts = append([]Option{WithRetryInterval(time.Millisecond)}, opts...)
	r, err := New(context.Background(), testBlock(t), probe, opts...)
	require.NoError(t, err)
	return r
}

func TestDeriveAddr_Deterministic(t *testing.T) {
	block := testBlock(t)

	a := DeriveAddr("some-seed-value!", block)
	b := DeriveAddr("some-seed-value!", block)
	assert.Equal(t, a, b)
}

func TestDeriveAddr_WithinBlock(t *testing.T) {
	block := testBlock(t)

	for _, seed := range []string{"a", "b", "0123456789abcdef", "another"} {
		addr := DeriveAddr(seed, block)
		assert.True(t, block.Contains(addr), "derived %s outside %s", addr, block)
	}
}

func TestDeriveAddr_SeedSensitivity(t *testing.T) {
	block := testBlock(t)
	assert.NotEqual(t, DeriveAddr("seed-one", block), DeriveAddr("seed-two", block))
}

func TestDeriveAddr_PartialByteBoundary(t *testing.T) {
	block := netip.MustParsePrefix("2001:db8::/45")
	addr := DeriveAddr("boundary", block)
	assert.True(t, block.Contains(addr))
}

func TestRotator_ConvergesAfterBadCandidates(t *testing.T) {
	var calls atomic.Int32
	r := newTestRotator(t, scriptedProber(&calls, RateLimited, TimedOut, Ok))

	// Two discarded candidates plus the accepted one.
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, r.Current())
	assert.True(t, r.Current().Addr.IsValid())
}

func TestRotator_AttemptCeiling(t *testing.T) {
	var calls atomic.Int32
	probe := scriptedProber(&calls,
		RateLimited, RateLimited, RateLimited, RateLimited, RateLimited)

	_, err := New(context.Background(), testBlock(t), probe,
		WithMaxAttempts(3), WithRetryInterval(time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRotationExhausted)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRotator_RotateReplacesCurrent(t *testing.T) {
	var calls atomic.Int32
	r := newTestRotator(t, scriptedProber(&calls))

	before := r.Current()
	after, err := r.Rotate(context.Background(), before)
	require.NoError(t, err)

	assert.NotSame(t, before, after)
	assert.Same(t, after, r.Current())
}

func TestRotator_RotateSkipsWhenAlreadyReplaced(t *testing.T) {
	var calls atomic.Int32
	r := newTestRotator(t, scriptedProber(&calls))

	stale := r.Current()
	fresh, err := r.Rotate(context.Background(), stale)
	require.NoError(t, err)
	probesAfterFirstRotation := calls.Load()

	// A caller still holding the stale identity must not trigger another
	// probe cycle; it picks up the winner's result.
	got, err := r.Rotate(context.Background(), stale)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.Equal(t, probesAfterFirstRotation, calls.Load())
}

func TestRotator_DisabledNeverProbes(t *testing.T) {
	probe := func(context.Context, *http.Client) Outcome {
		panic("probe must not run when rotation is disabled")
	}

	r, err := New(context.Background(), netip.Prefix{}, probe)
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	ident := r.Current()
	require.NotNil(t, ident)
	assert.False(t, ident.Addr.IsValid())

	same, err := r.Rotate(context.Background(), ident)
	require.NoError(t, err)
	assert.Same(t, ident, same)
}

func TestClassify(t *testing.T) {
	timeoutErr := &timeoutError{}

	tests := []struct {
		name string
		resp *http.Response
		err  error
		want Outcome
	}{
		{"ok", &http.Response{StatusCode: 200}, nil, Ok},
		{"rate limited", &http.Response{StatusCode: 429}, nil, RateLimited},
		{"timeout", nil, timeoutErr, TimedOut},
		{"deadline", nil, context.DeadlineExceeded, TimedOut},
		{"refused", nil, errors.New("connect: connection refused"), HostUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.resp, tt.err))
		})
	}
}

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
