package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/aerostack/pkg/cryptox"
	"github.com/aussiebroadwan/aerostack/pkg/jwtx"
)

// DefaultTokenPath is the token endpoint path relative to the base URL.
const DefaultTokenPath = "/oauth/token"

// maxTokenResponse bounds the token endpoint body we are willing to read.
const maxTokenResponse = 1 << 20

// Token is a bearer credential. Tokens are values: renewal replaces the whole
// token, it never mutates one in place.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Valid reports whether the token can be used to build an Authorization
// header. It does not look at the expiry.
func (t Token) Valid() bool {
	return t.AccessToken != "" && t.TokenType != ""
}

// Expired reports whether the token has a known expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Authorization returns the Authorization header value, "<type> <token>".
func (t Token) Authorization() string {
	return t.TokenType + " " + t.AccessToken
}

// OAuth2 converts the token for use with golang.org/x/oauth2 clients.
func (t Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// TokenStore persists tokens across processes.
type TokenStore interface {
	Load(ctx context.Context, key string) (Token, error)
	Save(ctx context.Context, key string, tok Token) error
}

// tokenResponse is the token endpoint success body.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	Scope        string      `json:"scope"`
}

// TokenManager owns the current token and renews it against the token
// endpoint. All methods are safe for concurrent use. RenewToken serializes
// concurrent renewals but does not deduplicate them: a Connection decides
// whether a renewal is needed at all.
type TokenManager struct {
	endpoint string
	path     string
	creds    Credentials
	client   *http.Client
	store    TokenStore
	storeKey string
	ua       string
	log      *slog.Logger
	now      func() time.Time

	renewMu sync.Mutex

	mu    sync.RWMutex
	token Token
	gen   uint64
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenPath overrides DefaultTokenPath.
func WithTokenPath(path string) TokenOption {
	return func(m *TokenManager) { m.path = "/" + strings.TrimLeft(path, "/") }
}

// WithTokenHTTPClient sets the HTTP client used for token exchanges.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) { m.client = c }
}

// WithTokenStore persists renewed tokens under key and allows LoadToken to
// restore them.
func WithTokenStore(s TokenStore, key string) TokenOption {
	return func(m *TokenManager) {
		m.store = s
		m.storeKey = key
	}
}

// WithInitialToken seeds the manager, e.g. with a static access token.
func WithInitialToken(t Token) TokenOption {
	return func(m *TokenManager) { m.token = t }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(m *TokenManager) { m.log = l }
}

// NewTokenManager creates a manager for the token endpoint under baseURL.
// creds may be the zero value when only a static token is available, in which
// case renewal fails with ErrNoCredentials.
func NewTokenManager(baseURL string, creds Credentials, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		endpoint: strings.TrimSuffix(baseURL, "/"),
		path:     DefaultTokenPath,
		creds:    creds,
		client:   &http.Client{Timeout: DefaultTimeout},
		ua:       UserAgent(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the token endpoint path.
func (m *TokenManager) Path() string { return m.path }

// URL returns the absolute token endpoint URL.
func (m *TokenManager) URL() string { return m.endpoint + m.path }

// Credentials returns the credentials used for renewal.
func (m *TokenManager) Credentials() Credentials { return m.creds }

// Token returns the current token. It may be the zero Token if none was
// fetched yet; check Valid before use.
func (m *TokenManager) Token() Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// snapshot returns the current token and its generation. The generation
// increments on every successful renewal, so two snapshots with the same
// generation always hold the same token even if the server reissued an
// identical access token string.
func (m *TokenManager) snapshot() (Token, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.gen
}

// SetToken replaces the current token.
func (m *TokenManager) SetToken(t Token) {
	m.mu.Lock()
	m.token = t
	m.gen++
	m.mu.Unlock()
}

// LoadToken restores a previously saved token from the store. Missing or
// expired tokens are ignored. It returns true when a token was restored.
func (m *TokenManager) LoadToken(ctx context.Context) bool {
	if m.store == nil {
		return false
	}

	tok, err := m.store.Load(ctx, m.storeKey)
	if err != nil {
		m.log.DebugContext(ctx, "no cached token", "key", m.storeKey, "err", err)
		return false
	}
	if !tok.Valid() || tok.Expired(m.now()) {
		m.log.DebugContext(ctx, "cached token unusable", "key", m.storeKey)
		return false
	}

	m.SetToken(tok)
	m.log.DebugContext(ctx, "restored cached token", "token_fp", cryptox.ShortFingerprint(tok.AccessToken))
	return true
}

// RenewToken exchanges the refresh token, or else the credentials, for a new
// token and replaces the current one. A rejected refresh token falls back to
// the credentials grant once.
func (m *TokenManager) RenewToken(ctx context.Context) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	current := m.Token()

	var (
		tok Token
		err error
	)
	switch {
	case current.RefreshToken != "":
		tok, err = m.exchange(ctx, url.Values{
			"grant_type":    {string(GrantRefreshToken)},
			"refresh_token": {current.RefreshToken},
		})
		if err != nil && IsAuthentication(err) && !m.creds.IsZero() {
			m.log.InfoContext(ctx, "refresh token rejected, using credentials", "err", err)
			tok, err = m.exchange(ctx, m.creds.form())
		} else if err == nil && tok.RefreshToken == "" {
			// Servers that do not rotate refresh tokens omit them on refresh.
			tok.RefreshToken = current.RefreshToken
		}
	case !m.creds.IsZero():
		tok, err = m.exchange(ctx, m.creds.form())
	default:
		return &AuthenticationError{Err: ErrNoCredentials}
	}
	if err != nil {
		return err
	}

	m.SetToken(tok)
	m.log.InfoContext(ctx, "token renewed",
		"grant", m.creds.Grant(),
		"token_fp", cryptox.ShortFingerprint(tok.AccessToken),
		"expires_at", tok.ExpiresAt,
	)

	if m.store != nil {
		if err := m.store.Save(ctx, m.storeKey, tok); err != nil {
			m.log.WarnContext(ctx, "failed to cache token", "err", err)
		}
	}
	return nil
}

// exchange posts a grant to the token endpoint.
func (m *TokenManager) exchange(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(), strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", m.ua)
	if !m.creds.IsZero() {
		req.Header.Set("Authorization", "Basic "+m.creds.EncodedSecret())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Token{}, &ConnectivityError{Method: req.Method, URL: m.URL(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return Token{}, &ConnectivityError{Method: req.Method, URL: m.URL(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, desc := parseErrorBody(resp.StatusCode, body)
		return Token{}, &AuthenticationError{
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Err:        &DecodeError{URL: m.URL(), Body: body, Err: err},
		}
	}
	if tr.AccessToken == "" || tr.TokenType == "" {
		return Token{}, &AuthenticationError{
			StatusCode:  resp.StatusCode,
			Description: "token response is missing access_token or token_type",
		}
	}

	return Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    m.expiry(tr),
	}, nil
}

// expiry prefers expires_in and falls back to the JWT exp claim.
func (m *TokenManager) expiry(tr tokenResponse) time.Time {
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		return m.now().Add(time.Duration(secs) * time.Second)
	}
	if exp, ok := jwtx.Expiry(tr.AccessToken); ok {
		return exp
	}
	return time.Time{}
}

// TokenSource adapts the manager to oauth2.TokenSource. The source renews
// when the current token is missing or expired.
func (m *TokenManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *TokenManager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok := s.m.Token()
	if tok.Valid() && !tok.Expired(s.m.now()) {
		return tok.OAuth2(), nil
	}
	if err := s.m.RenewToken(s.ctx); err != nil {
		return nil, err
	}
	return s.m.Token().OAuth2(), nil
}
