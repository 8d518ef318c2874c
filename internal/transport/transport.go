// Package transport provides the HTTP client used for every outbound call to the identity
// provider and the resource API: bounded per-request timeout, one retry on transient
// network failure, never a retry on an HTTP response of any status.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const maxAttempts = 2

// NewClient returns an *http.Client whose requests time out after timeout.
func NewClient(timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &retryTransport{base: base},
	}
}

type retryTransport struct {
	base http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if req.Body != nil && req.GetBody == nil {
				break // body cannot be replayed
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req = req.Clone(req.Context())
				req.Body = body
			}
			log.Debug().Err(lastErr).Str("host", req.URL.Host).Msg("Retrying request after transient failure")
		}

		resp, err := t.base.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || req.Context().Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// IsTransient reports whether err is a network-level failure worth a single retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Any failed dial, read or write on the connection (EHOSTUNREACH, ENETUNREACH, ...).
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
