package stacksdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig("", environ(), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultURL, cfg.URL)
	require.Equal(t, connection.DefaultTokenPath, cfg.TokenPath)
	require.Equal(t, connection.DefaultTimeout, cfg.Connection.Timeout)
	require.Equal(t, connection.DefaultWorkers, cfg.Connection.MaxRequestWorkers)
	require.Zero(t, cfg.Connection.MaxRetries)
	require.False(t, cfg.Connection.DisableSSLCertificate)
	require.Equal(t, "none", cfg.TokenCache.Kind)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_Layers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stack.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
url = "https://file.test"
user = "alice"
password = "from-file"
domain = "acme"

[connection]
max_retries = 2
timeout = "45s"
rate_limit = 5

[token_cache]
kind = "sqlite"
`), 0o600))

	cfg, err := LoadConfig(path, environ(
		"AEROSTACK_PASSWORD=from-env",
		"AEROSTACK_CONNECTION__MAX_REQUEST_WORKERS=3",
		"UNRELATED=1",
	), map[string]any{"url": "https://override.test"})
	require.NoError(t, err)

	require.Equal(t, "https://override.test", cfg.URL, "overrides win")
	require.Equal(t, "from-env", cfg.Password, "environment beats file")
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, "acme", cfg.Domain)
	require.Equal(t, 2, cfg.Connection.MaxRetries)
	require.Equal(t, 45*time.Second, cfg.Connection.Timeout)
	require.Equal(t, 3, cfg.Connection.MaxRequestWorkers)
	require.Equal(t, 5, cfg.Connection.RateLimit)
	require.Equal(t, "sqlite", cfg.TokenCache.Kind)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, nil)
	require.Error(t, err)
}

func TestLoadConfig_Proxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  []string
		want string
	}{
		{name: "none", want: ""},
		{name: "configured", env: []string{"AEROSTACK_PROXY_URL=http://cfg:3128"}, want: "http://cfg:3128"},
		{
			name: "lowercase https first",
			env:  []string{"HTTP_PROXY=http://d:1", "https_proxy=http://a:1", "HTTPS_PROXY=http://b:1"},
			want: "http://a:1",
		},
		{
			name: "http fallback beats config",
			env:  []string{"AEROSTACK_PROXY_URL=http://cfg:3128", "HTTP_PROXY=http://d:1"},
			want: "http://d:1",
		},
		{name: "empty is unset", env: []string{"https_proxy=", "http_proxy=http://c:1"}, want: "http://c:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadConfig("", environ(tt.env...), nil)
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.ProxyURL)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	base := Config{URL: "https://api.test"}

	require.ErrorIs(t, Config{}.Validate(), connection.ErrMissingURL)
	require.ErrorIs(t, base.Validate(), connection.ErrNoCredentials)

	withToken := base
	withToken.AccessToken = "tok"
	require.NoError(t, withToken.Validate())

	withClient := base
	withClient.ClientID, withClient.Secret = "cid", "cs"
	require.NoError(t, withClient.Validate())

	noPassword := base
	noPassword.User = "alice"
	require.ErrorIs(t, noPassword.Validate(), ErrParameter)
}

func TestConfig_Credentials(t *testing.T) {
	t.Parallel()

	t.Run("user wins over client", func(t *testing.T) {
		c := Config{User: "alice", Password: "pw", ClientID: "cid", Secret: "cs", Domain: "acme"}
		creds := c.Credentials()
		require.Equal(t, connection.GrantPassword, creds.Grant())
		require.Equal(t, "alice", creds.Username())
		require.Equal(t, "cid", creds.ClientID())
		require.Equal(t, "domain:acme", creds.Data()["scope"])
	})

	t.Run("client", func(t *testing.T) {
		creds := Config{ClientID: "cid", Secret: "cs"}.Credentials()
		require.Equal(t, connection.GrantClientCredentials, creds.Grant())
	})

	t.Run("none", func(t *testing.T) {
		require.True(t, Config{AccessToken: "tok"}.Credentials().IsZero())
	})
}

func TestConfig_Transport(t *testing.T) {
	t.Parallel()

	c := Config{ProxyURL: "http://proxy:3128"}
	c.Connection = ConnectionConfig{
		DisableSSLCertificate: true,
		MaxRetries:            3,
		MaxRequestWorkers:     4,
		RateLimit:             10,
		RateBurst:             2,
	}

	tc := c.Transport()
	require.Equal(t, "http://proxy:3128", tc.ProxyURL)
	require.True(t, tc.DisableSSLVerification)
	require.Equal(t, 3, tc.MaxRetries)
	require.Equal(t, 4, tc.PoolSize)
	require.Equal(t, 10, tc.RateLimit.RequestsPerWindow)
	require.Equal(t, time.Second, tc.RateLimit.Window)
	require.Equal(t, 2, tc.RateLimit.Burst)
}

func TestConfig_Redacted(t *testing.T) {
	t.Parallel()

	c := Config{User: "alice", Password: "correct-horse-battery", Secret: "short"}
	r := c.Redacted()
	require.Equal(t, "alice", r.User)
	require.Equal(t, "********tery", r.Password)
	require.Equal(t, "********", r.Secret)
	require.Empty(t, r.AccessToken)
	require.Equal(t, "correct-horse-battery", c.Password, "original untouched")
}
