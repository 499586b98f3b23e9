package httpx

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TransportConfig describes the outbound HTTP transport of a client.
type TransportConfig struct {
	// ProxyURL routes every request through the given proxy. When empty the
	// standard proxy environment variables apply.
	ProxyURL string

	// DisableSSLVerification skips TLS certificate verification.
	DisableSSLVerification bool

	// PoolSize caps connections per host, matching the number of request
	// workers of a concurrent client. Zero leaves Go's defaults.
	PoolSize int

	// MaxRetries is the number of extra attempts for requests that failed
	// before reaching the server. Zero disables retries.
	MaxRetries int

	// RetryBackoff is the initial retry delay. Defaults to 200ms.
	RetryBackoff time.Duration

	// RateLimit throttles requests per host. A zero value disables it.
	RateLimit RateLimitConfig
}

// NewBaseTransport returns the *http.Transport at the bottom of the chain
// built by NewTransport.
func NewBaseTransport(cfg TransportConfig) (*http.Transport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.ProxyURL, err)
		}
		base.Proxy = http.ProxyURL(proxy)
	} else {
		base.Proxy = http.ProxyFromEnvironment
	}

	if cfg.DisableSSLVerification {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	if cfg.PoolSize > 0 {
		base.MaxConnsPerHost = cfg.PoolSize
		base.MaxIdleConnsPerHost = cfg.PoolSize
	}

	return base, nil
}

// NewTransport builds the transport chain: rate limiting, then connect
// retries, then the pooled base transport.
func NewTransport(cfg TransportConfig) (http.RoundTripper, error) {
	base, err := NewBaseTransport(cfg)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = base
	if cfg.MaxRetries > 0 {
		rt = NewRetryTransport(rt, cfg.MaxRetries, cfg.RetryBackoff)
	}
	if cfg.RateLimit.Enabled() {
		rt = NewRateLimitTransport(rt, cfg.RateLimit)
	}
	return rt, nil
}

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type idleCloser interface {
	CloseIdleConnections()
}

func closeIdle(rt http.RoundTripper) {
	if c, ok := rt.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}
