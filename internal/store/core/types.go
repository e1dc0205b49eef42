// Package core defines the session-store domain types and the SessionStore
// contract shared by every backend adapter.
package core

import (
	"time"

	"github.com/dropDatabas3/janus/internal/identity"
)

// Session is the authenticated-session record. Identities holds the linked
// identities, primary first, at most one per provider id.
//
// Version implementa optimistic concurrency: cada Update exitoso la
// incrementa, y un Update con versión vieja falla con ErrVersionConflict.
type Session struct {
	ID         string              `json:"id"`
	Version    int64               `json:"version"`
	Identities []identity.Identity `json:"identities"`

	// RefreshToken is the provider refresh token in memory; adapters seal it
	// before persisting. RefreshProvider says which provider issued it.
	RefreshToken    string `json:"-"`
	RefreshProvider string `json:"refresh_provider,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Valid          bool      `json:"valid"`
}

// Primary returns the primary identity, nil on an empty session.
func (s *Session) Primary() *identity.Identity {
	if len(s.Identities) == 0 {
		return nil
	}
	return &s.Identities[0]
}

// IdentityFor returns the identity linked for providerID, or nil.
func (s *Session) IdentityFor(providerID string) *identity.Identity {
	for i := range s.Identities {
		if s.Identities[i].Provider == providerID {
			return &s.Identities[i]
		}
	}
	return nil
}

// Clone returns a deep copy, so callers can mutate without aliasing the
// store's record.
func (s *Session) Clone() *Session {
	out := *s
	out.Identities = make([]identity.Identity, len(s.Identities))
	copy(out.Identities, s.Identities)
	return &out
}

// LinkedAccount records that a provider identity is attached to a session.
// (Provider, Subject) is unique across the whole system: the same provider
// identity cannot silently attach to two sessions.
type LinkedAccount struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider"`
	Subject   string    `json:"subject"`
	LinkedAt  time.Time `json:"linked_at"`
}
