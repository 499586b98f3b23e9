package stacksdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/tokenstore"
)

// SDK gives access to the platform resources.
type SDK struct {
	async *connection.AsyncConnection
	conn  *connection.Connection
	store tokenstore.Store
	log   *slog.Logger

	Analytics           *Analytics
	Products            *Products
	Annotations         *Annotations
	Tags                *Tags
	Comments            *Comments
	Projects            *Projects
	Missions            *Missions
	Flights             *Flights
	ProviderCredentials *ProviderCredentials
	ShareTokens         *ShareTokens
}

// Option customizes New.
type Option func(*sdkOptions)

type sdkOptions struct {
	log      *slog.Logger
	client   *http.Client
	store    tokenstore.Store
	hasStore bool
}

// WithLogger sets the logger of the SDK and its connection.
func WithLogger(l *slog.Logger) Option {
	return func(o *sdkOptions) { o.log = l }
}

// WithHTTPClient replaces the client built from the connection settings.
func WithHTTPClient(c *http.Client) Option {
	return func(o *sdkOptions) { o.client = c }
}

// WithTokenStore replaces the store selected by cfg.TokenCache. A nil store
// disables caching. The SDK closes the store.
func WithTokenStore(s tokenstore.Store) Option {
	return func(o *sdkOptions) { o.store, o.hasStore = s, true }
}

// New connects to the platform described by cfg. A cached or configured
// token is reused; otherwise one is requested right away so that bad
// credentials surface here rather than on the first call.
func New(ctx context.Context, cfg Config, opts ...Option) (*SDK, error) {
	o := sdkOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := o.store
	if !o.hasStore {
		var err error
		if store, err = tokenstore.Open(cfg.TokenCache.Kind, cfg.TokenCache.Path); err != nil {
			return nil, fmt.Errorf("failed to open token cache: %w", err)
		}
	}

	creds := cfg.Credentials()
	var tokenOpts []connection.TokenOption
	if cfg.TokenPath != "" {
		tokenOpts = append(tokenOpts, connection.WithTokenPath(cfg.TokenPath))
	}
	if store != nil {
		key := tokenstore.Key(cfg.URL, creds.ClientID(), creds.Username())
		tokenOpts = append(tokenOpts, connection.WithTokenStore(store, key))
	}

	connOpts := []connection.Option{
		connection.WithCredentials(creds, tokenOpts...),
		connection.WithTransport(cfg.Transport()),
		connection.WithLogger(o.log),
	}
	if cfg.AccessToken != "" {
		connOpts = append(connOpts, connection.WithAccessToken(cfg.AccessToken))
	}
	if cfg.Connection.Timeout > 0 {
		connOpts = append(connOpts, connection.WithDefaultTimeout(cfg.Connection.Timeout))
	}
	if o.client != nil {
		connOpts = append(connOpts, connection.WithHTTPClient(o.client))
	}
	if cfg.ProxyURL != "" {
		o.log.InfoContext(ctx, "using proxy", "proxy_url", cfg.ProxyURL)
	}

	async, err := connection.NewAsync(cfg.URL, cfg.Connection.MaxRequestWorkers, connOpts...)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	s := newSDK(async, store, o.log)
	if err := s.authenticate(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newSDK(async *connection.AsyncConnection, store tokenstore.Store, log *slog.Logger) *SDK {
	conn := async.Sync()
	ui := newService(conn, uiService)
	return &SDK{
		async: async,
		conn:  conn,
		store: store,
		log:   log,

		Analytics:           &Analytics{svc: newService(conn, analyticsService)},
		Products:            newProducts(newService(conn, analyticsService)),
		Annotations:         &Annotations{svc: newService(conn, annotationsService)},
		Tags:                &Tags{svc: ui},
		Comments:            &Comments{svc: ui},
		Projects:            &Projects{svc: ui},
		Missions:            &Missions{ui: ui, pm: newService(conn, projectService)},
		Flights:             &Flights{svc: newService(conn, projectService)},
		ProviderCredentials: &ProviderCredentials{svc: newService(conn, providersService)},
		ShareTokens:         &ShareTokens{svc: newService(conn, authService)},
	}
}

func (s *SDK) authenticate(ctx context.Context, cfg Config) error {
	tm := s.conn.TokenManager()
	if cfg.AccessToken == "" && tm.LoadToken(ctx) {
		return nil
	}
	if tm.Token().Valid() {
		return nil
	}

	s.log.DebugContext(ctx, "requesting initial token", "grant", tm.Credentials().Grant())
	if err := tm.RenewToken(ctx); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return nil
}

// Connection returns the connection the managers use, for raw requests.
func (s *SDK) Connection() *connection.Connection { return s.conn }

// Async returns a pooled view of the same connection; both share the token.
func (s *SDK) Async() *connection.AsyncConnection { return s.async }

// Token returns the current access token.
func (s *SDK) Token() connection.Token { return s.conn.TokenManager().Token() }

// RasterTilesURL returns the raster tiles template URL of a dataset,
// authorized with the current token.
func (s *SDK) RasterTilesURL(dataset, format string) (string, error) {
	return RasterTilesURL(s.conn.BaseURL(), s.Token().AccessToken, dataset, format)
}

// VectorTilesURL returns the vector tiles template URL of a collection,
// authorized with the current token.
func (s *SDK) VectorTilesURL(collection, format string) (string, error) {
	return VectorTilesURL(s.conn.BaseURL(), s.Token().AccessToken, collection, format)
}

// Close waits for pending asynchronous requests and releases the token
// cache.
func (s *SDK) Close() error {
	err := s.async.Close()
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	return err
}

func closeStore(s tokenstore.Store) {
	if s != nil {
		_ = s.Close()
	}
}
