package httpx

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether the config limits anything.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

func (c RateLimitConfig) limit() rate.Limit {
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

func (c RateLimitConfig) burst() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return 1
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_CLIENT_REQUESTS, RATELIMIT_CLIENT_WINDOW_SEC, RATELIMIT_CLIENT_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	return parseRateLimit(os.Getenv, prefix, defaultConfig)
}

func parseRateLimit(getenv func(string) string, prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	// Parse requests per window
	if val := getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	// Parse window duration in seconds
	if val := getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	// Parse burst size
	if val := getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// RateLimitTransport delays requests so each host sees at most the
// configured rate. Waiting honours the request context.
type RateLimitTransport struct {
	next     http.RoundTripper
	config   RateLimitConfig
	limiters sync.Map // map[string]*rate.Limiter
}

// NewRateLimitTransport wraps next with per-host rate limiting.
func NewRateLimitTransport(next http.RoundTripper, config RateLimitConfig) *RateLimitTransport {
	return &RateLimitTransport{next: next, config: config}
}

// getLimiter retrieves or creates a rate limiter for the given host
func (t *RateLimitTransport) getLimiter(host string) *rate.Limiter {
	// Fast path: limiter already exists
	if limiter, ok := t.limiters.Load(host); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(t.config.limit(), t.config.burst())
	actual, _ := t.limiters.LoadOrStore(host, limiter)
	return actual.(*rate.Limiter)
}

func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.getLimiter(req.URL.Host).Wait(req.Context()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return t.next.RoundTrip(req)
}

func (t *RateLimitTransport) CloseIdleConnections() { closeIdle(t.next) }
