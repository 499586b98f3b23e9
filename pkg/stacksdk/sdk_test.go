package stacksdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/tokenstore"
)

type reply struct {
	status int
	body   string
}

type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
	Auth   string
}

// platform is a fake backend answering "METHOD /path" routes.
type platform struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]reply
	reqs   []recorded
}

func newPlatform(t *testing.T, routes map[string]reply) *platform {
	t.Helper()
	p := &platform{routes: routes}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

func (p *platform) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	p.mu.Lock()
	p.reqs = append(p.reqs, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
		Auth:   r.Header.Get("Authorization"),
	})
	rep, ok := p.routes[r.Method+" "+r.URL.Path]
	p.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no route"}`))
		return
	}
	if rep.status == 0 {
		rep.status = http.StatusOK
	}
	w.WriteHeader(rep.status)
	_, _ = w.Write([]byte(rep.body))
}

func (p *platform) set(route string, rep reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[route] = rep
}

func (p *platform) requests() []recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recorded(nil), p.reqs...)
}

func (p *platform) last(t *testing.T) recorded {
	t.Helper()
	reqs := p.requests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

// newTestSDK connects to a fake platform with a static token.
func newTestSDK(t *testing.T, routes map[string]reply) (*SDK, *platform) {
	t.Helper()
	if routes == nil {
		routes = make(map[string]reply)
	}
	p := newPlatform(t, routes)

	sdk, err := New(context.Background(), Config{
		URL:         p.URL,
		AccessToken: "static",
		Connection:  ConnectionConfig{MaxRequestWorkers: 2},
	}, WithTokenStore(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdk.Close() })
	return sdk, p
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorIs(t, err, connection.ErrMissingURL)

	_, err = New(context.Background(), Config{URL: "https://api.test"})
	require.ErrorIs(t, err, connection.ErrNoCredentials)

	_, err = New(context.Background(), Config{
		URL:        "https://api.test",
		ClientID:   "cid",
		TokenCache: TokenCacheConfig{Kind: "floppy"},
	})
	require.Error(t, err)
}

func TestNew_RenewsEagerly(t *testing.T) {
	t.Parallel()

	p := newPlatform(t, map[string]reply{
		"POST /oauth/token":           {body: `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`},
		"POST /uisrv/projects/search": {body: `{"projects":[]}`},
	})
	store := tokenstore.NewMemoryStore()

	sdk, err := New(context.Background(), Config{
		URL:      p.URL,
		ClientID: "cid",
		Secret:   "cs",
	}, WithTokenStore(store))
	require.NoError(t, err)
	defer sdk.Close()

	require.Equal(t, "fresh", sdk.Token().AccessToken)
	require.Len(t, p.requests(), 1, "token requested before any call")

	_, err = sdk.Projects.Search(context.Background(), "x", false)
	require.NoError(t, err)
	require.Equal(t, "Bearer fresh", p.last(t).Auth)

	cached, err := store.Load(context.Background(), tokenstore.Key(p.URL, "cid", ""))
	require.NoError(t, err)
	require.Equal(t, "fresh", cached.AccessToken)
}

func TestNew_BadCredentials(t *testing.T) {
	t.Parallel()

	p := newPlatform(t, map[string]reply{
		"POST /oauth/token": {status: http.StatusUnauthorized, body: `{"error":"invalid_client"}`},
	})

	_, err := New(context.Background(), Config{URL: p.URL, ClientID: "cid", Secret: "bad"}, WithTokenStore(nil))
	require.True(t, connection.IsAuthentication(err))
}

func TestNew_CachedToken(t *testing.T) {
	t.Parallel()

	p := newPlatform(t, map[string]reply{})
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), tokenstore.Key(p.URL, "abc123", "alice"), connection.Token{
		AccessToken: "cached",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	sdk, err := New(context.Background(), Config{
		URL:      p.URL,
		User:     "alice",
		Password: "pw",
	}, WithTokenStore(store))
	require.NoError(t, err)
	defer sdk.Close()

	require.Equal(t, "cached", sdk.Token().AccessToken)
	require.Empty(t, p.requests(), "no token exchange with a cached token")
}

func TestNew_StaticToken(t *testing.T) {
	t.Parallel()

	sdk, p := newTestSDK(t, nil)
	require.Equal(t, "static", sdk.Token().AccessToken)
	require.Empty(t, p.requests())
	require.Equal(t, 2, sdk.Async().Workers())
	require.Equal(t, p.URL, sdk.Connection().BaseURL())
}

func TestSDK_AsyncSharesConnection(t *testing.T) {
	t.Parallel()

	sdk, p := newTestSDK(t, map[string]reply{"GET /dxpm/flights": {body: `{"flights":[]}`}})
	ctx := context.Background()

	f := sdk.Async().Get(ctx, "dxpm/flights")
	_, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bearer static", p.last(t).Auth)
	require.Same(t, sdk.Connection(), sdk.Async().Sync())
}

func TestTilesURL(t *testing.T) {
	t.Parallel()

	raster, err := RasterTilesURL("https://www.delair.ai/some/path", "tok", "5d3714e1", "png")
	require.NoError(t, err)
	require.Equal(t, "https://www.delair.ai/tileserver/tiles/5d3714e1/{z}/{x}/{y}.png?access_token=tok", raster)

	vector, err := VectorTilesURL("https://www.delair.ai", "a b", "c1", "mvt")
	require.NoError(t, err)
	require.Equal(t, "https://www.delair.ai/map-service/features/collection-mvt/c1/{z}/{x}/{y}.mvt?access_token=a+b", vector)

	_, err = RasterTilesURL("not a url", "tok", "d", "png")
	require.ErrorIs(t, err, ErrParameter)

	sdk, p := newTestSDK(t, nil)
	u, err := sdk.RasterTilesURL("d1", "jpg")
	require.NoError(t, err)
	require.Equal(t, p.URL+"/tileserver/tiles/d1/{z}/{x}/{y}.jpg?access_token=static", u)
}
