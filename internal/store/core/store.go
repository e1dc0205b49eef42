package core

import "context"

// SessionStore persists sessions and linked-account records.
//
// Update es compare-and-swap por Version; no hay lock global, la contención
// queda acotada a un session id.
type SessionStore interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Create stores a new session; ErrConflict when the id exists.
	Create(ctx context.Context, s *Session) error

	// Update persists s iff its Version matches the stored one, then bumps
	// Version. ErrVersionConflict on a lost race, ErrNotFound when absent.
	Update(ctx context.Context, s *Session) error

	// Delete removes the session and its links. Idempotent.
	Delete(ctx context.Context, id string) error

	// FindLink returns the linked-account record for (provider, subject)
	// anywhere in the system, or ErrNotFound.
	FindLink(ctx context.Context, providerID, subject string) (*LinkedAccount, error)

	// PutLink records a link. ErrLinkExists when (provider, subject) is
	// already attached to a different session; re-putting the same link is a
	// no-op.
	PutLink(ctx context.Context, la *LinkedAccount) error

	// DeleteLink removes the link for (sessionID, provider). Idempotent.
	DeleteLink(ctx context.Context, sessionID, providerID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
