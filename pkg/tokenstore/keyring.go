package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
)

// DefaultKeyringService is the service name tokens are filed under.
const DefaultKeyringService = "aerostack"

// KeyringStore keeps tokens in the operating system keyring as JSON.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store filing tokens under service, or
// DefaultKeyringService when empty.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Load(_ context.Context, key string) (connection.Token, error) {
	secret, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return connection.Token{}, ErrNotFound
	}
	if err != nil {
		return connection.Token{}, fmt.Errorf("tokenstore: keyring get: %w", err)
	}

	var tok connection.Token
	if err := json.Unmarshal([]byte(secret), &tok); err != nil {
		return connection.Token{}, fmt.Errorf("tokenstore: corrupt keyring entry: %w", err)
	}
	return tok, nil
}

func (s *KeyringStore) Save(_ context.Context, key string, tok connection.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, key, string(b)); err != nil {
		return fmt.Errorf("tokenstore: keyring set: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(_ context.Context, key string) error {
	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("tokenstore: keyring delete: %w", err)
	}
	return nil
}

func (s *KeyringStore) Close() error { return nil }
