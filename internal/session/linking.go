package session

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/janus/internal/audit"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/store/core"
	"github.com/google/uuid"
)

// Linker attaches additional provider identities to an existing session and
// maintains the system-wide (provider, subject) uniqueness of link records.
type Linker struct {
	store core.SessionStore
}

// NewLinker creates the linking service.
func NewLinker(store core.SessionStore) *Linker {
	return &Linker{store: store}
}

// Link attaches id to the session. Re-linking the exact same (provider,
// subject) pair is idempotent and returns the unchanged session. A different
// identity on an already-linked provider requires replace; an identity linked
// to another session is rejected outright.
func (l *Linker) Link(ctx context.Context, sessionID string, id *identity.Identity, replace bool) (*core.Session, error) {
	sess, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	existing := sess.IdentityFor(id.Provider)
	if existing != nil && existing.Subject == id.Subject {
		// idempotente: mismo par (provider, subject) ya colgado de esta sesión
		return sess, nil
	}
	if existing != nil && !replace {
		return nil, ErrProviderAlreadyLinked
	}

	if la, err := l.store.FindLink(ctx, id.Provider, id.Subject); err == nil {
		if la.SessionID != sessionID {
			return nil, ErrIdentityAlreadyLinkedElsewhere
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		// replace: soltar el link del subject anterior antes de grabar el nuevo
		if err := l.store.DeleteLink(ctx, sessionID, id.Provider); err != nil {
			return nil, err
		}
	}
	la := &core.LinkedAccount{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Provider:  id.Provider,
		Subject:   id.Subject,
		LinkedAt:  time.Now().UTC(),
	}
	if err := l.store.PutLink(ctx, la); err != nil {
		if errors.Is(err, core.ErrLinkExists) {
			return nil, ErrIdentityAlreadyLinkedElsewhere
		}
		return nil, err
	}

	apply := func(s *core.Session) {
		if cur := s.IdentityFor(id.Provider); cur != nil {
			*cur = *id
		} else {
			s.Identities = append(s.Identities, *id)
		}
	}
	apply(sess)
	if err := l.updateRetry(ctx, sess, apply); err != nil {
		return nil, err
	}

	audit.Event(ctx, "session.identity_linked",
		logger.SessionID(sessionID), logger.Provider(id.Provider), logger.Subject(id.Subject))
	return sess, nil
}

// Unlink detaches the provider's identity from the session. The last
// remaining identity can never be unlinked: a session must always own at
// least one authenticated identity.
func (l *Linker) Unlink(ctx context.Context, sessionID, providerID string) (*core.Session, error) {
	sess, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	target := sess.IdentityFor(providerID)
	if target == nil {
		return nil, core.ErrNotFound
	}
	if len(sess.Identities) == 1 {
		return nil, ErrCannotUnlinkLastIdentity
	}

	if err := l.store.DeleteLink(ctx, sessionID, providerID); err != nil {
		return nil, err
	}

	apply := func(s *core.Session) {
		out := s.Identities[:0]
		for _, ident := range s.Identities {
			if ident.Provider != providerID {
				out = append(out, ident)
			}
		}
		s.Identities = out
		// si la sesión vivía del refresh token de este provider, queda sin él
		if s.RefreshProvider == providerID {
			s.RefreshToken = ""
			s.RefreshProvider = ""
		}
	}
	apply(sess)
	if err := l.updateRetry(ctx, sess, apply); err != nil {
		return nil, err
	}

	audit.Event(ctx, "session.identity_unlinked",
		logger.SessionID(sessionID), logger.Provider(providerID))
	return sess, nil
}

func (l *Linker) updateRetry(ctx context.Context, sess *core.Session, apply func(*core.Session)) error {
	err := l.store.Update(ctx, sess)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrVersionConflict) {
		return err
	}
	fresh, err := l.store.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	apply(fresh)
	if err := l.store.Update(ctx, fresh); err != nil {
		if errors.Is(err, core.ErrVersionConflict) {
			return ErrConflict
		}
		return err
	}
	*sess = *fresh
	return nil
}
