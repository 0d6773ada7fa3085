package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Outcome classifies the result of probing a candidate identity, or of any
// provider call made through one.
type Outcome int

const (
	// Ok means the identity is usable: the provider returned content.
	Ok Outcome = iota
	// RateLimited means the provider answered with an HTTP 429 equivalent.
	RateLimited
	// TimedOut means the probe or call timed out.
	TimedOut
	// HostUnreachable means the connection could not be established.
	HostUnreachable
)

// String returns the snake_case outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case RateLimited:
		return "rate_limited"
	case TimedOut:
		return "timed_out"
	default:
		return "host_unreachable"
	}
}

// Classify maps an HTTP response/error pair onto exactly one Outcome.
// Connection failures that are neither timeouts nor rate limits are folded
// into HostUnreachable; both trigger candidate replacement during rotation.
func Classify(resp *http.Response, err error) Outcome {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return TimedOut
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return TimedOut
		}
		return HostUnreachable
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimited
	}
	return Ok
}
