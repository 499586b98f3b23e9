// Package tokenstore caches access tokens between processes so a command line
// session does not exchange credentials on every run.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
)

var ErrNotFound = errors.New("tokenstore: not found")

// Store persists tokens by key. It satisfies connection.TokenStore.
type Store interface {
	connection.TokenStore

	// Delete removes the token of key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying resources.
	Close() error
}

// Key identifies the token of an identity on a platform. Tokens obtained by
// different users or clients against the same host never share a key.
func Key(baseURL, clientID, username string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return strings.Join([]string{strings.ToLower(host), clientID, username}, "|")
}

// Kinds accepted by Open.
const (
	KindNone    = "none"
	KindMemory  = "memory"
	KindSQLite  = "sqlite"
	KindKeyring = "keyring"
)

// Open returns the store of the given kind. path is the database file of a
// sqlite store and defaults to DefaultPath. KindNone and "" return a nil
// Store.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindKeyring:
		return NewKeyringStore(""), nil
	case KindSQLite:
		if path == "" {
			p, err := DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("tokenstore: %w", err)
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("tokenstore: unknown kind %q", kind)
	}
}

// DefaultPath is the sqlite cache location under the user cache directory.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("tokenstore: %w", err)
	}
	return filepath.Join(dir, "aerostack", "tokens.db"), nil
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]connection.Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]connection.Token)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (connection.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	if !ok {
		return connection.Token{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, tok connection.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = tok
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
