// Package pg implements core.SessionStore sobre PostgreSQL con pgx.
//
// El refresh token se sella con secretbox antes de persistir; en memoria
// siempre viaja en claro dentro del Session.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/janus/internal/security/secretbox"
	"github.com/dropDatabas3/janus/internal/store/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ pool *pgxpool.Pool }

// Config tuning opcional del pool.
type Config struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime string
}

// New abre el pool y verifica conectividad.
func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	const q = `
		SELECT id, version, identities, refresh_token_enc, refresh_provider,
		       created_at, expires_at, last_accessed_at, valid
		FROM sessions WHERE id = $1`

	var (
		sess       core.Session
		identsJSON []byte
		refreshEnc string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Version, &identsJSON, &refreshEnc, &sess.RefreshProvider,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastAccessedAt, &sess.Valid,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(identsJSON, &sess.Identities); err != nil {
		return nil, fmt.Errorf("pg: identities: %w", err)
	}
	if refreshEnc != "" {
		sess.RefreshToken, err = unsealRefresh(refreshEnc)
		if err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

func (s *Store) Create(ctx context.Context, sess *core.Session) error {
	identsJSON, err := json.Marshal(sess.Identities)
	if err != nil {
		return err
	}
	refreshEnc, err := sealRefresh(sess.RefreshToken)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO sessions (id, version, identities, refresh_token_enc, refresh_provider,
		                      created_at, expires_at, last_accessed_at, valid)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	ct, err := s.pool.Exec(ctx, q, sess.ID, identsJSON, refreshEnc, sess.RefreshProvider,
		sess.CreatedAt, sess.ExpiresAt, sess.LastAccessedAt, sess.Valid)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", core.ErrConflict, sess.ID)
	}
	sess.Version = 1
	return nil
}

func (s *Store) Update(ctx context.Context, sess *core.Session) error {
	identsJSON, err := json.Marshal(sess.Identities)
	if err != nil {
		return err
	}
	refreshEnc, err := sealRefresh(sess.RefreshToken)
	if err != nil {
		return err
	}

	const q = `
		UPDATE sessions
		SET version = version + 1, identities = $3, refresh_token_enc = $4,
		    refresh_provider = $5, expires_at = $6, last_accessed_at = $7, valid = $8
		WHERE id = $1 AND version = $2`

	ct, err := s.pool.Exec(ctx, q, sess.ID, sess.Version, identsJSON, refreshEnc,
		sess.RefreshProvider, sess.ExpiresAt, sess.LastAccessedAt, sess.Valid)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// distinguir "no existe" de "versión vieja"
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id=$1)`, sess.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return core.ErrNotFound
		}
		return core.ErrVersionConflict
	}
	sess.Version++
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM linked_accounts WHERE session_id = $1`, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *Store) FindLink(ctx context.Context, providerID, subject string) (*core.LinkedAccount, error) {
	const q = `
		SELECT id, session_id, provider, subject, linked_at
		FROM linked_accounts WHERE provider = $1 AND subject = $2`

	var la core.LinkedAccount
	err := s.pool.QueryRow(ctx, q, providerID, subject).Scan(
		&la.ID, &la.SessionID, &la.Provider, &la.Subject, &la.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &la, nil
}

func (s *Store) PutLink(ctx context.Context, la *core.LinkedAccount) error {
	const q = `
		INSERT INTO linked_accounts (id, session_id, provider, subject, linked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, subject) DO NOTHING`

	ct, err := s.pool.Exec(ctx, q, la.ID, la.SessionID, la.Provider, la.Subject, la.LinkedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		existing, err := s.FindLink(ctx, la.Provider, la.Subject)
		if err != nil {
			return err
		}
		if existing.SessionID != la.SessionID {
			return core.ErrLinkExists
		}
		// mismo link, idempotente
	}
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, sessionID, providerID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM linked_accounts WHERE session_id = $1 AND provider = $2`,
		sessionID, providerID)
	return err
}

func sealRefresh(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !secretbox.Ready() {
		// dev mode sin master key: se persiste en claro, igual que los client
		// secrets sin cifrar en config
		return raw, nil
	}
	return secretbox.Encrypt(raw)
}

func unsealRefresh(stored string) (string, error) {
	if !secretbox.Looks(stored) {
		return stored, nil
	}
	out, err := secretbox.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("pg: unseal refresh token: %w", err)
	}
	return out, nil
}
