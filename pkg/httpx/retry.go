package httpx

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultRetryBackoff = 200 * time.Millisecond

// RetryTransport retries requests that failed before reaching the server,
// such as refused connections and DNS failures. Anything that may have been
// processed remotely, including every HTTP response, is returned as is.
type RetryTransport struct {
	next       http.RoundTripper
	maxRetries int
	initial    time.Duration
}

// NewRetryTransport wraps next with up to maxRetries extra connect attempts.
func NewRetryTransport(next http.RoundTripper, maxRetries int, initial time.Duration) *RetryTransport {
	if initial <= 0 {
		initial = defaultRetryBackoff
	}
	return &RetryTransport{next: next, maxRetries: maxRetries, initial: initial}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := 0
	op := func() (*http.Response, error) {
		r := req
		if attempt > 0 {
			r = req.Clone(req.Context())
			if req.Body != nil && req.Body != http.NoBody {
				body, err := req.GetBody()
				if err != nil {
					return nil, backoff.Permanent(err)
				}
				r.Body = body
			}
		}
		attempt++

		resp, err := t.next.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		if !IsDialError(err) || req.Context().Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			// The body cannot be replayed.
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initial

	return backoff.Retry(req.Context(), op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.maxRetries+1)),
	)
}

func (t *RetryTransport) CloseIdleConnections() { closeIdle(t.next) }

// IsDialError reports whether err happened while establishing the connection.
func IsDialError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
