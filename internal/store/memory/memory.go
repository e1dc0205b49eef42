// Package memory implements core.SessionStore in-process, for development and
// tests. Semantics (CAS, link uniqueness) match the pg adapter.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/janus/internal/store/core"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	// links por (provider, subject)
	links map[string]*core.LinkedAccount
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*core.Session),
		links:    make(map[string]*core.LinkedAccount),
	}
}

func linkKey(providerID, subject string) string {
	return providerID + "\x00" + subject
}

func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Create(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("%w: session %s", core.ErrConflict, sess.ID)
	}
	sess.Version = 1
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) Update(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return core.ErrNotFound
	}
	if cur.Version != sess.Version {
		return core.ErrVersionConflict
	}
	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for k, la := range s.links {
		if la.SessionID == id {
			delete(s.links, k)
		}
	}
	return nil
}

func (s *Store) FindLink(ctx context.Context, providerID, subject string) (*core.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	la, ok := s.links[linkKey(providerID, subject)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *la
	return &cp, nil
}

func (s *Store) PutLink(ctx context.Context, la *core.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(la.Provider, la.Subject)
	if cur, ok := s.links[key]; ok {
		if cur.SessionID != la.SessionID {
			return core.ErrLinkExists
		}
		return nil // mismo link, idempotente
	}
	cp := *la
	s.links[key] = &cp
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, sessionID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, la := range s.links {
		if la.SessionID == sessionID && la.Provider == providerID {
			delete(s.links, k)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }
