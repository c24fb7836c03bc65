package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelrelay/authsession"
)

// Schema creates the table used by Postgres. Schema management is left to
// the caller; EnsureSchema applies it for tests and small deployments.
const Schema = `
CREATE TABLE IF NOT EXISTS authsession_refresh_tokens (
	account       TEXT PRIMARY KEY,
	refresh_token TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// Postgres keeps one refresh token per account row.
type Postgres struct {
	pool    *pgxpool.Pool
	account string
	now     func() time.Time
}

var _ authsession.TokenStore = (*Postgres)(nil)

// NewPostgres returns a store for account using pool. The pool is not closed by the store.
func NewPostgres(pool *pgxpool.Pool, account string) (*Postgres, error) {
	if pool == nil {
		return nil, authsession.ConfigError{Reason: "postgres pool is required"}
	}
	return &Postgres{pool: pool, account: slot(account), now: time.Now}, nil
}

// NewPostgresPool parses databaseURL, opens a pool and verifies a connection
// can be acquired within timeout.
func NewPostgresPool(ctx context.Context, databaseURL string, timeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pingPool(ctx, pool, timeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingPool(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// EnsureSchema creates the token table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *Postgres) RefreshToken(ctx context.Context) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx, `
		SELECT refresh_token
		FROM authsession_refresh_tokens
		WHERE account = $1
	`, s.account).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// SetTokens upserts tokens.RefreshToken; an empty value deletes the row.
func (s *Postgres) SetTokens(ctx context.Context, tokens authsession.AuthTokens) error {
	if tokens.RefreshToken == "" {
		return s.Clear(ctx)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authsession_refresh_tokens (account, refresh_token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE
		SET refresh_token = EXCLUDED.refresh_token,
		    updated_at = EXCLUDED.updated_at
	`, s.account, tokens.RefreshToken, s.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM authsession_refresh_tokens WHERE account = $1`, s.account)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks a connection can be acquired within 3s.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := pingPool(ctx, s.pool, 3*time.Second); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
