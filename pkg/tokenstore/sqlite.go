package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/tokenstore/migrations"
)

// SQLiteStore keeps tokens in a local sqlite database.
type SQLiteStore struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Concurrent CLI invocations share the file.
	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, dsn: path, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: migrate %s: %w", path, err)
	}
	return s, nil
}

// ApplyMigrations applies the embedded schema migrations.
func (s *SQLiteStore) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return err
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (connection.Token, error) {
	var (
		tok       connection.Token
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, token_type, refresh_token, expires_at FROM tokens WHERE key = ?`,
		key,
	).Scan(&tok.AccessToken, &tok.TokenType, &tok.RefreshToken, &expiresAt)
	if err != nil {
		return connection.Token{}, mapNotFound(err)
	}
	if expiresAt > 0 {
		tok.ExpiresAt = time.Unix(expiresAt, 0)
	}
	return tok, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, tok connection.Token) error {
	var expiresAt int64
	if !tok.ExpiresAt.IsZero() {
		expiresAt = tok.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (key, access_token, token_type, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			access_token  = excluded.access_token,
			token_type    = excluded.token_type,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at`,
		key, tok.AccessToken, tok.TokenType, tok.RefreshToken, expiresAt, s.now().Unix(),
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key)
	return err
}

// DeleteExpired removes tokens whose expiry is before now and returns how
// many were removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at > 0 AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clear removes every cached token.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
