package httpx

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewBaseTransport(t *testing.T) {
	t.Run("pool sized to workers", func(t *testing.T) {
		tr, err := NewBaseTransport(TransportConfig{PoolSize: 6})
		require.NoError(t, err)
		require.Equal(t, 6, tr.MaxConnsPerHost)
		require.Equal(t, 6, tr.MaxIdleConnsPerHost)
	})

	t.Run("explicit proxy", func(t *testing.T) {
		tr, err := NewBaseTransport(TransportConfig{ProxyURL: "http://proxy.test:3128"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "https://api.test/x", nil)
		proxy, err := tr.Proxy(req)
		require.NoError(t, err)
		require.Equal(t, &url.URL{Scheme: "http", Host: "proxy.test:3128"}, proxy)
	})

	t.Run("invalid proxy", func(t *testing.T) {
		_, err := NewBaseTransport(TransportConfig{ProxyURL: "://bad"})
		require.Error(t, err)
	})

	t.Run("ssl verification", func(t *testing.T) {
		tr, err := NewBaseTransport(TransportConfig{})
		require.NoError(t, err)
		if tr.TLSClientConfig != nil {
			require.False(t, tr.TLSClientConfig.InsecureSkipVerify)
		}

		tr, err = NewBaseTransport(TransportConfig{DisableSSLVerification: true})
		require.NoError(t, err)
		require.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	})
}

func TestNewTransport_Chain(t *testing.T) {
	rt, err := NewTransport(TransportConfig{})
	require.NoError(t, err)
	require.IsType(t, &http.Transport{}, rt)

	rt, err = NewTransport(TransportConfig{MaxRetries: 2})
	require.NoError(t, err)
	require.IsType(t, &RetryTransport{}, rt)

	rt, err = NewTransport(TransportConfig{
		MaxRetries: 2,
		RateLimit:  RateLimitConfig{RequestsPerWindow: 10, Window: time.Second},
	})
	require.NoError(t, err)
	require.IsType(t, &RateLimitTransport{}, rt)
}

func TestNewTransport_SelfSigned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Run("rejected by default", func(t *testing.T) {
		rt, err := NewTransport(TransportConfig{})
		require.NoError(t, err)

		_, err = (&http.Client{Transport: rt}).Get(srv.URL)
		require.Error(t, err)
	})

	t.Run("accepted when verification disabled", func(t *testing.T) {
		rt, err := NewTransport(TransportConfig{DisableSSLVerification: true})
		require.NoError(t, err)

		resp, err := (&http.Client{Transport: rt}).Get(srv.URL)
		require.NoError(t, err)
		DrainAndClose(resp.Body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
