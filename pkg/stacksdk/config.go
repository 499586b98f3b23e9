package stacksdk

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/cryptox"
	"github.com/aussiebroadwan/aerostack/pkg/httpx"
)

// EnvPrefix prefixes every configuration environment variable. Nested keys
// use a double underscore: AEROSTACK_CONNECTION__MAX_RETRIES.
const EnvPrefix = "AEROSTACK_"

// DefaultURL is the platform used when no url is configured.
const DefaultURL = "https://www.delair.ai"

// proxyEnv lists the proxy variables in priority order.
var proxyEnv = []string{"https_proxy", "HTTPS_PROXY", "http_proxy", "HTTP_PROXY"}

type Config struct {
	URL         string `koanf:"url"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	ClientID    string `koanf:"client_id"`
	Secret      string `koanf:"secret"`
	Domain      string `koanf:"domain"`
	AccessToken string `koanf:"access_token"`
	ProxyURL    string `koanf:"proxy_url"`
	TokenPath   string `koanf:"token_path"`

	Connection ConnectionConfig `koanf:"connection"`
	TokenCache TokenCacheConfig `koanf:"token_cache"`
	Log        LogConfig        `koanf:"log"`
}

type ConnectionConfig struct {
	DisableSSLCertificate bool          `koanf:"disable_ssl_certificate"`
	MaxRetries            int           `koanf:"max_retries"`
	Timeout               time.Duration `koanf:"timeout"`
	MaxRequestWorkers     int           `koanf:"max_request_workers"`
	RateLimit             int           `koanf:"rate_limit"` // requests per second, 0 disables
	RateBurst             int           `koanf:"rate_burst"`
}

type TokenCacheConfig struct {
	Kind string `koanf:"kind"` // none, memory, sqlite or keyring
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	return map[string]any{
		"url":                                DefaultURL,
		"token_path":                         connection.DefaultTokenPath,
		"connection.disable_ssl_certificate": false,
		"connection.max_retries":             0,
		"connection.timeout":                 connection.DefaultTimeout,
		"connection.max_request_workers":     connection.DefaultWorkers,
		"token_cache.kind":                   "none",
		"log.level":                          "warn",
		"log.format":                         "text",
	}
}

// LoadConfig layers, from lowest to highest priority: defaults, the TOML file
// at path (skipped when empty), AEROSTACK_* variables of environ, the proxy
// variables of environ, and overrides keyed by dotted names.
func LoadConfig(path string, environ func() []string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if environ != nil {
		err := k.Load(env.Provider(".", env.Opt{
			Prefix:        EnvPrefix,
			TransformFunc: transformEnv,
			EnvironFunc:   environ,
		}), nil)
		if err != nil {
			return Config{}, fmt.Errorf("failed to load environment: %w", err)
		}

		if proxy := lookupProxy(environ()); proxy != "" {
			if err := k.Set("proxy_url", proxy); err != nil {
				return Config{}, err
			}
		}
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// transformEnv maps AEROSTACK_CONNECTION__MAX_RETRIES to
// connection.max_retries.
func transformEnv(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

func lookupProxy(environ []string) string {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	for _, name := range proxyEnv {
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that a connection can be built from cfg.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return connection.ErrMissingURL
	}
	if c.Credentials().IsZero() && c.AccessToken == "" {
		return fmt.Errorf("%w: set user and password, client_id and secret, or access_token", connection.ErrNoCredentials)
	}
	if c.User != "" && c.Password == "" {
		return fmt.Errorf("%w: password required for user %q", ErrParameter, c.User)
	}
	return nil
}

// Credentials selects the grant: user credentials when a user is set,
// client credentials when only a client id is set, none otherwise.
func (c Config) Credentials() connection.Credentials {
	switch {
	case c.User != "":
		var opts []connection.UserOption
		if c.ClientID != "" {
			opts = append(opts, connection.WithClientID(c.ClientID))
		}
		if c.Secret != "" {
			opts = append(opts, connection.WithSecret(c.Secret))
		}
		if c.Domain != "" {
			opts = append(opts, connection.WithDomain(c.Domain))
		}
		return connection.NewUserCredentials(c.User, c.Password, opts...)
	case c.ClientID != "":
		return connection.NewClientCredentials(c.ClientID, c.Secret)
	default:
		return connection.Credentials{}
	}
}

// Transport returns the transport settings. RATELIMIT_AEROSTACK_REQUESTS,
// _WINDOW_SEC and _BURST in the process environment override the
// configured rate limit.
func (c Config) Transport() httpx.TransportConfig {
	rl := httpx.RateLimitConfig{
		RequestsPerWindow: c.Connection.RateLimit,
		Window:            time.Second,
		Burst:             c.Connection.RateBurst,
	}
	return httpx.TransportConfig{
		ProxyURL:               c.ProxyURL,
		DisableSSLVerification: c.Connection.DisableSSLCertificate,
		PoolSize:               c.Connection.MaxRequestWorkers,
		MaxRetries:             c.Connection.MaxRetries,
		RateLimit:              httpx.ParseRateLimitFromEnv("AEROSTACK", rl),
	}
}

// Redacted returns a copy of cfg with secrets masked, for display.
func (c Config) Redacted() Config {
	c.Password = cryptox.MaskSecret(c.Password)
	c.Secret = cryptox.MaskSecret(c.Secret)
	c.AccessToken = cryptox.MaskSecret(c.AccessToken)
	return c
}
