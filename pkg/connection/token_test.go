package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// tokenServer answers the token endpoint with fn and records the forms it got.
type tokenServer struct {
	*httptest.Server

	mu    sync.Mutex
	forms []map[string]string
	auth  []string
}

func newTokenServer(t *testing.T, fn func(form map[string]string) (int, any)) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, DefaultTokenPath, r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, form)
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		ts.mu.Unlock()

		status, body := fn(form)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) calls() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.forms)
}

func tokenJSON(access string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + access,
	}
}

type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func (s *memoryStore) Load(_ context.Context, key string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key]
	if !ok {
		return Token{}, errors.New("not found")
	}
	return tok, nil
}

func (s *memoryStore) Save(_ context.Context, key string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]Token)
	}
	s.tokens[key] = tok
	return nil
}

func TestToken(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok := Token{AccessToken: "abc", TokenType: "Bearer", ExpiresAt: now.Add(time.Minute)}

	require.True(t, tok.Valid())
	require.False(t, Token{AccessToken: "abc"}.Valid())
	require.False(t, tok.Expired(now))
	require.True(t, tok.Expired(now.Add(time.Minute)))
	require.False(t, Token{AccessToken: "abc", TokenType: "Bearer"}.Expired(now), "no expiry never expires")
	require.Equal(t, "Bearer abc", tok.Authorization())

	o := tok.OAuth2()
	require.Equal(t, "abc", o.AccessToken)
	require.Equal(t, "Bearer", o.TokenType)
	require.True(t, tok.ExpiresAt.Equal(o.Expiry))
}

func TestTokenManager_RenewToken(t *testing.T) {
	t.Parallel()

	t.Run("client credentials", func(t *testing.T) {
		ts := newTokenServer(t, func(map[string]string) (int, any) {
			return http.StatusOK, tokenJSON("first")
		})
		creds := NewClientCredentials("cid", "cs")
		tm := NewTokenManager(ts.URL, creds)

		before := time.Now()
		require.NoError(t, tm.RenewToken(context.Background()))

		tok := tm.Token()
		require.Equal(t, "first", tok.AccessToken)
		require.Equal(t, "Bearer", tok.TokenType)
		require.Equal(t, "refresh-first", tok.RefreshToken)
		require.WithinDuration(t, before.Add(time.Hour), tok.ExpiresAt, 5*time.Second)

		require.Equal(t, map[string]string{"grant_type": "client_credentials"}, ts.forms[0])
		require.Equal(t, "Basic "+creds.EncodedSecret(), ts.auth[0])
	})

	t.Run("password grant with domain", func(t *testing.T) {
		ts := newTokenServer(t, func(map[string]string) (int, any) {
			return http.StatusOK, tokenJSON("user")
		})
		tm := NewTokenManager(ts.URL, NewUserCredentials("alice", "pw", WithDomain("acme")))

		require.NoError(t, tm.RenewToken(context.Background()))
		require.Equal(t, map[string]string{
			"grant_type": "password",
			"username":   "alice",
			"password":   "pw",
			"scope":      "domain:acme",
		}, ts.forms[0])
	})

	t.Run("refresh token preferred", func(t *testing.T) {
		ts := newTokenServer(t, func(form map[string]string) (int, any) {
			return http.StatusOK, map[string]any{"access_token": "second", "token_type": "Bearer"}
		})
		tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"),
			WithInitialToken(Token{AccessToken: "first", TokenType: "Bearer", RefreshToken: "r1"}))

		require.NoError(t, tm.RenewToken(context.Background()))
		require.Equal(t, map[string]string{"grant_type": "refresh_token", "refresh_token": "r1"}, ts.forms[0])

		tok := tm.Token()
		require.Equal(t, "second", tok.AccessToken)
		require.Equal(t, "r1", tok.RefreshToken, "refresh token kept when not rotated")
	})

	t.Run("rejected refresh falls back to credentials", func(t *testing.T) {
		ts := newTokenServer(t, func(form map[string]string) (int, any) {
			if form["grant_type"] == "refresh_token" {
				return http.StatusBadRequest, map[string]string{"error": "invalid_grant"}
			}
			return http.StatusOK, tokenJSON("fresh")
		})
		tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"),
			WithInitialToken(Token{AccessToken: "old", TokenType: "Bearer", RefreshToken: "stale"}))

		require.NoError(t, tm.RenewToken(context.Background()))
		require.Equal(t, 2, ts.calls())
		require.Equal(t, "client_credentials", ts.forms[1]["grant_type"])
		require.Equal(t, "fresh", tm.Token().AccessToken)
	})

	t.Run("non-2xx is an authentication error", func(t *testing.T) {
		ts := newTokenServer(t, func(map[string]string) (int, any) {
			return http.StatusUnauthorized, map[string]string{
				"error":             "invalid_client",
				"error_description": "unknown client",
			}
		})
		tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"))

		err := tm.RenewToken(context.Background())
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
		require.Equal(t, "invalid_client", authErr.Code)
		require.Equal(t, "unknown client", authErr.Description)
		require.False(t, tm.Token().Valid(), "token untouched on failure")
	})

	t.Run("missing fields", func(t *testing.T) {
		ts := newTokenServer(t, func(map[string]string) (int, any) {
			return http.StatusOK, map[string]any{"access_token": "only"}
		})
		tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"))

		err := tm.RenewToken(context.Background())
		require.True(t, IsAuthentication(err))
		require.Contains(t, err.Error(), "token_type")
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		tm := NewTokenManager(srv.URL, NewClientCredentials("cid", "cs"))
		err := tm.RenewToken(context.Background())
		require.True(t, IsAuthentication(err))
		require.True(t, IsDecode(err))
	})

	t.Run("static token cannot renew", func(t *testing.T) {
		tm := NewTokenManager("https://api.test", Credentials{},
			WithInitialToken(Token{AccessToken: "static", TokenType: "Bearer"}))

		err := tm.RenewToken(context.Background())
		require.True(t, IsAuthentication(err))
		require.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		tm := NewTokenManager(url, NewClientCredentials("cid", "cs"))
		err := tm.RenewToken(context.Background())
		require.True(t, IsConnectivity(err))
		require.False(t, IsAuthentication(err))
	})
}

func TestTokenManager_ExpiryFromJWT(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	ts := newTokenServer(t, func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"access_token": access, "token_type": "Bearer"}
	})
	tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"))

	require.NoError(t, tm.RenewToken(context.Background()))
	require.True(t, exp.Equal(tm.Token().ExpiresAt))
}

func TestTokenManager_Store(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, func(map[string]string) (int, any) {
		return http.StatusOK, tokenJSON("cached")
	})
	store := &memoryStore{}

	tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"), WithTokenStore(store, "k"))
	require.False(t, tm.LoadToken(context.Background()), "nothing cached yet")
	require.NoError(t, tm.RenewToken(context.Background()))

	restored := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"), WithTokenStore(store, "k"))
	require.True(t, restored.LoadToken(context.Background()))
	require.Equal(t, "cached", restored.Token().AccessToken)
	require.Equal(t, 1, ts.calls())

	t.Run("expired tokens are ignored", func(t *testing.T) {
		require.NoError(t, store.Save(context.Background(), "old", Token{
			AccessToken: "old",
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(-time.Minute),
		}))
		tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"), WithTokenStore(store, "old"))
		require.False(t, tm.LoadToken(context.Background()))
		require.False(t, tm.Token().Valid())
	})
}

func TestTokenManager_TokenSource(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, func(map[string]string) (int, any) {
		return http.StatusOK, tokenJSON("src")
	})
	tm := NewTokenManager(ts.URL, NewClientCredentials("cid", "cs"))
	src := tm.TokenSource(context.Background())

	tok, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, "src", tok.AccessToken)
	require.True(t, tok.Valid())

	_, err = src.Token()
	require.NoError(t, err)
	require.Equal(t, 1, ts.calls(), "valid token is reused")
}

func TestTokenManager_Paths(t *testing.T) {
	tm := NewTokenManager("https://api.test/", Credentials{}, WithTokenPath("auth/token"))
	require.Equal(t, "/auth/token", tm.Path())
	require.Equal(t, "https://api.test/auth/token", tm.URL())
}
