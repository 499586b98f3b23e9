package connection

import (
	"bytes"
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

	"github.com/aussiebroadwan/aerostack/pkg/httpx"
	"github.com/aussiebroadwan/aerostack/pkg/idx"
	"github.com/aussiebroadwan/aerostack/pkg/slogx"
)

// DefaultTimeout applies to calls made without WithTimeout.
const DefaultTimeout = 30 * time.Second

// Product is the first half of the User-Agent header.
const Product = "aerostack-go"

// Version is the SDK version reported in the User-Agent header.
var Version = "0.4.0"

// UserAgent returns "<product>/<version>".
func UserAgent() string { return Product + "/" + Version }

// Connection issues authenticated requests against the platform. It attaches
// the bearer token to requests for the base host only, renews the token once
// when the backend answers 401 and retries the request with the new token.
//
// A Connection is safe for concurrent use.
type Connection struct {
	baseURL   string
	host      string
	tokenPath string

	tm      *TokenManager
	client  *http.Client
	ua      string
	timeout time.Duration
	log     *slog.Logger

	// tokenMu guards reading the token into headers and the decision to
	// renew it, so concurrent 401s renew only once.
	tokenMu sync.Mutex
}

// Option configures a Connection.
type Option func(*options)

type options struct {
	tm          *TokenManager
	creds       Credentials
	tokenOpts   []TokenOption
	accessToken string
	client      *http.Client
	transport   httpx.TransportConfig
	log         *slog.Logger
	ua          string
	timeout     time.Duration
}

// WithTokenManager uses an existing token manager.
func WithTokenManager(tm *TokenManager) Option {
	return func(o *options) { o.tm = tm }
}

// WithCredentials creates a token manager for creds sharing the connection's
// HTTP client.
func WithCredentials(creds Credentials, opts ...TokenOption) Option {
	return func(o *options) {
		o.creds = creds
		o.tokenOpts = append(o.tokenOpts, opts...)
	}
}

// WithAccessToken seeds the token with a static bearer token. Combined with
// WithCredentials the token is used until the backend rejects it.
func WithAccessToken(token string) Option {
	return func(o *options) { o.accessToken = token }
}

// WithHTTPClient replaces the HTTP client. WithTransport is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithTransport configures the transport built for the connection.
func WithTransport(cfg httpx.TransportConfig) Option {
	return func(o *options) { o.transport = cfg }
}

// WithLogger sets the base logger. Loggers found in the call context take
// precedence.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithUserAgent overrides UserAgent().
func WithUserAgent(ua string) Option {
	return func(o *options) { o.ua = ua }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates a connection to the platform at baseURL.
func New(baseURL string, opts ...Option) (*Connection, error) {
	o := options{
		ua:      UserAgent(),
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("connection: invalid base url %q", baseURL)
	}

	if o.client == nil {
		rt, err := httpx.NewTransport(o.transport)
		if err != nil {
			return nil, err
		}
		o.client = &http.Client{Transport: rt}
	}

	tm := o.tm
	if tm == nil {
		tokenOpts := []TokenOption{
			WithTokenHTTPClient(o.client),
			WithTokenLogger(o.log),
		}
		if o.accessToken != "" {
			tokenOpts = append(tokenOpts, WithInitialToken(Token{
				AccessToken: o.accessToken,
				TokenType:   "Bearer",
			}))
		}
		tm = NewTokenManager(baseURL, o.creds, append(tokenOpts, o.tokenOpts...)...)
	}

	tokenPath := tm.Path()
	if tu, err := url.Parse(tm.URL()); err == nil {
		tokenPath = tu.Path
	}

	return &Connection{
		baseURL:   baseURL,
		host:      u.Host,
		tokenPath: tokenPath,
		tm:        tm,
		client:    o.client,
		ua:        o.ua,
		timeout:   o.timeout,
		log:       o.log,
	}, nil
}

// BaseURL returns the base URL without trailing slash.
func (c *Connection) BaseURL() string { return c.baseURL }

// Host returns the host Authorization headers are sent to.
func (c *Connection) Host() string { return c.host }

// TokenManager returns the token manager.
func (c *Connection) TokenManager() *TokenManager { return c.tm }

// HTTPClient returns the underlying client.
func (c *Connection) HTTPClient() *http.Client { return c.client }

// Close releases idle pooled connections.
func (c *Connection) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RenewToken renews the token under the connection's token lock.
func (c *Connection) RenewToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.tm.RenewToken(ctx)
}

// ============================================================================
// Call options
// ============================================================================

// CallOption customizes a single call.
type CallOption func(*call)

type call struct {
	header  http.Header
	timeout time.Duration
}

// WithHeader sets a request header.
func WithHeader(key, value string) CallOption {
	return func(c *call) { c.header.Set(key, value) }
}

// WithTimeout bounds the whole call, including a renewal and retry.
func WithTimeout(d time.Duration) CallOption {
	return func(c *call) { c.timeout = d }
}

func (c *Connection) newCall(opts []CallOption) *call {
	cl := &call{header: make(http.Header), timeout: c.timeout}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// ============================================================================
// Verbs
// ============================================================================

// Get returns the raw response body.
func (c *Connection) Get(ctx context.Context, path string, opts ...CallOption) ([]byte, error) {
	return c.read(ctx, http.MethodGet, path, nil, opts)
}

// GetJSON decodes the response body into out.
func (c *Connection) GetJSON(ctx context.Context, path string, out any, opts ...CallOption) error {
	return c.readJSON(ctx, http.MethodGet, path, nil, out, opts)
}

// GetStream returns the response body unread. The caller must close it.
func (c *Connection) GetStream(ctx context.Context, path string, opts ...CallOption) (io.ReadCloser, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, opts...)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Post sends data and returns the raw response body.
func (c *Connection) Post(ctx context.Context, path string, data any, opts ...CallOption) ([]byte, error) {
	return c.read(ctx, http.MethodPost, path, data, opts)
}

// PostJSON sends data and decodes the response body into out.
func (c *Connection) PostJSON(ctx context.Context, path string, data, out any, opts ...CallOption) error {
	return c.readJSON(ctx, http.MethodPost, path, data, out, opts)
}

// Put sends data and returns the raw response body.
func (c *Connection) Put(ctx context.Context, path string, data any, opts ...CallOption) ([]byte, error) {
	return c.read(ctx, http.MethodPut, path, data, opts)
}

// PutJSON sends data and decodes the response body into out.
func (c *Connection) PutJSON(ctx context.Context, path string, data, out any, opts ...CallOption) error {
	return c.readJSON(ctx, http.MethodPut, path, data, out, opts)
}

// Delete sends data, usually nil, and returns the raw response body.
func (c *Connection) Delete(ctx context.Context, path string, data any, opts ...CallOption) ([]byte, error) {
	return c.read(ctx, http.MethodDelete, path, data, opts)
}

// DeleteJSON sends data and decodes the response body into out.
func (c *Connection) DeleteJSON(ctx context.Context, path string, data, out any, opts ...CallOption) error {
	return c.readJSON(ctx, http.MethodDelete, path, data, out, opts)
}

func (c *Connection) read(ctx context.Context, method, path string, data any, opts []CallOption) ([]byte, error) {
	resp, err := c.Do(ctx, method, path, data, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Method: method, URL: c.resolve(path), Err: err}
	}
	return body, nil
}

func (c *Connection) readJSON(ctx context.Context, method, path string, data, out any, opts []CallOption) error {
	body, err := c.read(ctx, method, path, data, opts)
	if err != nil {
		return err
	}
	return decodeJSON(c.resolve(path), body, out)
}

// decodeJSON decodes body into out. Empty bodies leave out untouched.
func decodeJSON(url string, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: url, Body: body, Err: err}
	}
	return nil
}

// ============================================================================
// Request pipeline
// ============================================================================

// Do sends a request and returns the response of a 2xx status. Any other
// outcome is returned as an error. The caller must close the response body.
//
// data may be nil, []byte, string, json.RawMessage, url.Values, an
// io.ReadSeeker (rewound before every send), another io.Reader (buffered) or
// any JSON-serializable value.
func (c *Connection) Do(ctx context.Context, method, path string, data any, opts ...CallOption) (*http.Response, error) {
	cl := c.newCall(opts)
	target := c.resolve(path)

	body, err := newPayload(data)
	if err != nil {
		return nil, err
	}
	if body.contentType != "" && cl.header.Get("Content-Type") == "" {
		cl.header.Set("Content-Type", body.contentType)
	}

	reqID := cl.header.Get("X-Request-ID")
	if reqID == "" {
		reqID = idx.New().String()
		cl.header.Set("X-Request-ID", reqID)
	}

	ctx, cancel := context.WithTimeout(ctx, cl.timeout)
	ctx = slogx.WithRequestID(c.contextLogger(ctx), reqID)
	log := slogx.FromContext(ctx)

	resp, gen, err := c.send(ctx, method, target, body, cl.header)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		log.DebugContext(ctx, "got a 401 status", "url", target)

		if skip, foreign := c.skipRenewal(target); skip {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
			resp.Body.Close()
			cancel()
			if foreign {
				return nil, newResponseError(method, target, resp.StatusCode, raw)
			}
			code, desc := parseErrorBody(resp.StatusCode, raw)
			return nil, &AuthenticationError{StatusCode: resp.StatusCode, Code: code, Description: desc}
		}
		httpx.DrainAndClose(resp.Body)

		if err := c.renewIfStale(ctx, gen); err != nil {
			cancel()
			return nil, err
		}

		resp, _, err = c.send(ctx, method, target, body, cl.header)
		if err != nil {
			cancel()
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
			resp.Body.Close()
			cancel()
			code, desc := parseErrorBody(resp.StatusCode, raw)
			return nil, &AuthenticationError{
				StatusCode:  resp.StatusCode,
				Code:        code,
				Description: desc,
				Err:         fmt.Errorf("%s %s rejected after token renewal", method, target),
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, newResponseError(method, target, resp.StatusCode, raw)
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// contextLogger makes sure ctx carries a logger, defaulting to the
// connection's.
func (c *Connection) contextLogger(ctx context.Context) context.Context {
	if l := slogx.FromContext(ctx); l != slog.Default() {
		return ctx
	}
	return slogx.WithContext(ctx, c.log)
}

// send performs one HTTP exchange. It returns the token generation used to
// authorize it.
func (c *Connection) send(
	ctx context.Context,
	method, target string,
	body *payload,
	header http.Header,
) (*http.Response, uint64, error) {
	log := slogx.FromContext(ctx)

	rd, size, err := body.reader()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to rewind request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body.seeker != nil {
		req.ContentLength = size
		req.GetBody = body.getBody
		if size == 0 {
			req.Body = http.NoBody
		}
	}

	req.Header = header.Clone()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.ua)
	}
	gen := c.authorize(ctx, req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.DebugContext(ctx, "http_request failed", "method", method, "url", target, "err", err)
		return nil, gen, &ConnectivityError{Method: method, URL: target, Err: err}
	}

	log.DebugContext(ctx, "http_request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, gen, nil
}

// authorize sets the Authorization header for requests to the base host.
func (c *Connection) authorize(ctx context.Context, req *http.Request) uint64 {
	if !strings.EqualFold(req.URL.Host, c.host) {
		slogx.FromContext(ctx).InfoContext(ctx, "no need for authorization header", "host", req.URL.Host)
		return 0
	}

	c.tokenMu.Lock()
	tok, gen := c.tm.snapshot()
	c.tokenMu.Unlock()

	if tok.Valid() {
		req.Header.Set("Authorization", tok.Authorization())
	} else if req.Header.Get("Authorization") == "" {
		slogx.FromContext(ctx).WarnContext(ctx, "authorization header not set")
	}
	return gen
}

// skipRenewal reports whether a 401 for target must not trigger a renewal:
// foreign hosts and the token endpoint itself.
func (c *Connection) skipRenewal(target string) (skip, foreign bool) {
	u, err := url.Parse(target)
	if err != nil {
		return true, true
	}
	if !strings.EqualFold(u.Host, c.host) {
		return true, true
	}
	return u.Path == c.tokenPath, false
}

// renewIfStale renews the token unless another request already replaced the
// one of generation sent.
func (c *Connection) renewIfStale(ctx context.Context, sent uint64) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if _, gen := c.tm.snapshot(); gen != sent {
		slogx.FromContext(ctx).DebugContext(ctx, "token already renewed")
		return nil
	}
	return c.tm.RenewToken(ctx)
}

// resolve joins path to the base URL. Absolute URLs are kept as is. Spaces
// are encoded as underscores for the platform's routing.
func (c *Connection) resolve(path string) string {
	path = strings.ReplaceAll(path, " ", "_")
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// cancelBody releases the call context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// ============================================================================
// Payloads
// ============================================================================

// payload is a request body that can be sent more than once.
type payload struct {
	data        []byte
	seeker      io.ReadSeeker
	contentType string
}

func newPayload(data any) (*payload, error) {
	switch v := data.(type) {
	case nil:
		return &payload{}, nil
	case []byte:
		return &payload{data: v}, nil
	case string:
		return &payload{data: []byte(v)}, nil
	case json.RawMessage:
		return &payload{data: v, contentType: "application/json"}, nil
	case url.Values:
		return &payload{data: []byte(v.Encode()), contentType: "application/x-www-form-urlencoded"}, nil
	case io.ReadSeeker:
		return &payload{seeker: v}, nil
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return &payload{data: b}, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return &payload{data: b, contentType: "application/json"}, nil
	}
}

// reader returns the body to send, rewinding seekable streams to 0.
func (p *payload) reader() (io.Reader, int64, error) {
	if p.seeker != nil {
		size, err := p.seeker.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := p.seeker.Seek(0, io.SeekStart); err != nil {
			return nil, 0, err
		}
		// Hide Close so the transport does not close the caller's stream.
		return struct{ io.Reader }{p.seeker}, size, nil
	}
	if p.data == nil {
		return nil, 0, nil
	}
	return bytes.NewReader(p.data), int64(len(p.data)), nil
}

func (p *payload) getBody() (io.ReadCloser, error) {
	if _, err := p.seeker.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.NopCloser(struct{ io.Reader }{p.seeker}), nil
}
