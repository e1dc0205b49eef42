// Package session manages the session lifecycle (create, validate, refresh,
// logout) and account linking. Sessions move through
// Authenticated -> Refreshed* -> Expired|LoggedOut; there is no way back from
// Expired except a new login.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/janus/internal/audit"
	"github.com/dropDatabas3/janus/internal/flow"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/metrics"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/store/core"
	"github.com/google/uuid"
)

// DefaultTTL is the session lifetime when the config leaves it unset.
const DefaultTTL = 24 * time.Hour

// Refresher redeems a provider refresh token; implemented by
// flow.ExchangeClient.
type Refresher interface {
	Refresh(ctx context.Context, providerID, refreshToken string) (*flow.TokenSet, error)
}

// Manager owns session state transitions against a core.SessionStore.
type Manager struct {
	store     core.SessionStore
	refresher Refresher
	ttl       time.Duration
}

// NewManager creates a manager. ttl<=0 uses DefaultTTL.
func NewManager(store core.SessionStore, refresher Refresher, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, refresher: refresher, ttl: ttl}
}

// Create opens a session for a freshly authenticated identity.
func (m *Manager) Create(ctx context.Context, id *identity.Identity, ts *flow.TokenSet) (*core.Session, error) {
	now := time.Now().UTC()
	sess := &core.Session{
		ID:             uuid.NewString(),
		Identities:     []identity.Identity{*id},
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		LastAccessedAt: now,
		Valid:          true,
	}
	if ts != nil && ts.RefreshToken != "" {
		sess.RefreshToken = ts.RefreshToken
		sess.RefreshProvider = id.Provider
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("session created",
		logger.Component("session"), logger.SessionID(sess.ID), logger.Provider(id.Provider))
	return sess, nil
}

// Validate returns the session when it is still live, touching
// last_accessed_at. A session past its deadline is marked Expired and
// ErrExpired is returned.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*core.Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Valid {
		return nil, ErrExpired
	}
	now := time.Now().UTC()
	if !now.Before(sess.ExpiresAt) {
		m.expire(ctx, sess)
		return nil, ErrExpired
	}

	sess.LastAccessedAt = now
	if err := m.updateRetry(ctx, sess, func(s *core.Session) { s.LastAccessedAt = now }); err != nil {
		return nil, err
	}
	return sess, nil
}

// Refresh redeems the stored refresh token and extends the session deadline.
// A rejected refresh token transitions the session to Expired; there is no
// partial state where new tokens exist on a dead session.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (*core.Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Valid || !time.Now().Before(sess.ExpiresAt) {
		metrics.SessionRefreshes.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}
	if sess.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ts, err := m.refresher.Refresh(ctx, sess.RefreshProvider, sess.RefreshToken)
	if err != nil {
		var ig *flow.InvalidGrantError
		if errors.As(err, &ig) {
			logger.From(ctx).Warn("refresh token rejected, expiring session",
				logger.Component("session"), logger.SessionID(sess.ID),
				logger.Provider(sess.RefreshProvider))
			m.expire(ctx, sess)
			metrics.SessionRefreshes.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		metrics.SessionRefreshes.WithLabelValues("network_error").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	newDeadline := now.Add(m.ttl)
	apply := func(s *core.Session) {
		if ts.RefreshToken != "" {
			s.RefreshToken = ts.RefreshToken
		}
		if newDeadline.After(s.ExpiresAt) {
			s.ExpiresAt = newDeadline
		}
		s.LastAccessedAt = now
	}
	apply(sess)
	if err := m.updateRetry(ctx, sess, apply); err != nil {
		return nil, err
	}
	metrics.SessionRefreshes.WithLabelValues("ok").Inc()
	return sess, nil
}

// Logout terminates the session. Idempotent: logging out an unknown or
// already-dead session succeeds.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	audit.Event(ctx, "session.logout", logger.SessionID(sessionID))
	return nil
}

// expire marks the session invalid, best effort: losing the version race
// means another writer already moved the session on.
func (m *Manager) expire(ctx context.Context, sess *core.Session) {
	audit.Event(ctx, "session.expired", logger.SessionID(sess.ID))
	sess.Valid = false
	if err := m.store.Update(ctx, sess); err != nil &&
		!errors.Is(err, core.ErrVersionConflict) && !errors.Is(err, core.ErrNotFound) {
		logger.From(ctx).Warn("failed to mark session expired",
			logger.SessionID(sess.ID), logger.Err(err))
	}
}

// updateRetry writes sess, retrying exactly once against a freshly read
// version when the CAS loses; the second loss surfaces ErrConflict.
func (m *Manager) updateRetry(ctx context.Context, sess *core.Session, apply func(*core.Session)) error {
	err := m.store.Update(ctx, sess)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrVersionConflict) {
		return err
	}

	fresh, err := m.store.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	if !fresh.Valid {
		return ErrExpired
	}
	apply(fresh)
	if err := m.store.Update(ctx, fresh); err != nil {
		if errors.Is(err, core.ErrVersionConflict) {
			return ErrConflict
		}
		return err
	}
	*sess = *fresh
	return nil
}
