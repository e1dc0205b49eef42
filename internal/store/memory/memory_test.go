package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/store/core"
)

func testSession(id string) *core.Session {
	now := time.Now().UTC()
	return &core.Session{
		ID:             id,
		Identities:     []identity.Identity{{Provider: "google", Subject: "sub-" + id}},
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastAccessedAt: now,
		Valid:          true,
	}
}

func TestCreateGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, testSession("a")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 {
		t.Fatalf("fresh session version = %d", got.Version)
	}

	// Create duplicado falla
	if err := s.Create(ctx, testSession("a")); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("duplicate create: got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing get: got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, testSession("a"))

	got, _ := s.Get(ctx, "a")
	got.Identities[0].Subject = "mutated"

	again, _ := s.Get(ctx, "a")
	if again.Identities[0].Subject == "mutated" {
		t.Fatal("store handed out shared state")
	}
}

func TestUpdateCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, testSession("a"))

	first, _ := s.Get(ctx, "a")
	second, _ := s.Get(ctx, "a")

	first.LastAccessedAt = time.Now().UTC()
	if err := s.Update(ctx, first); err != nil {
		t.Fatal(err)
	}
	if first.Version != 2 {
		t.Fatalf("version after update = %d", first.Version)
	}

	// el segundo lector perdió la carrera
	second.LastAccessedAt = time.Now().UTC()
	if err := s.Update(ctx, second); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale update: got %v", err)
	}

	if err := s.Update(ctx, testSession("ghost")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update missing: got %v", err)
	}
}

func TestDeleteCascadesLinks(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, testSession("a"))
	_ = s.PutLink(ctx, &core.LinkedAccount{ID: "l1", SessionID: "a", Provider: "github", Subject: "gh-1"})

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindLink(ctx, "github", "gh-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("link survived session delete: %v", err)
	}
	// Delete idempotente
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
}

func TestLinkUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	la := &core.LinkedAccount{ID: "l1", SessionID: "s1", Provider: "github", Subject: "gh-1"}
	if err := s.PutLink(ctx, la); err != nil {
		t.Fatal(err)
	}
	// mismo par (provider, subject) y misma sesión: idempotente
	if err := s.PutLink(ctx, la); err != nil {
		t.Fatal(err)
	}
	// misma identity en otra sesión: conflicto
	other := &core.LinkedAccount{ID: "l2", SessionID: "s2", Provider: "github", Subject: "gh-1"}
	if err := s.PutLink(ctx, other); !errors.Is(err, core.ErrLinkExists) {
		t.Fatalf("cross-session link: got %v", err)
	}

	found, err := s.FindLink(ctx, "github", "gh-1")
	if err != nil {
		t.Fatal(err)
	}
	if found.SessionID != "s1" {
		t.Fatalf("link owner = %q", found.SessionID)
	}
}

func TestDeleteLink(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.PutLink(ctx, &core.LinkedAccount{ID: "l1", SessionID: "s1", Provider: "github", Subject: "gh-1"})

	if err := s.DeleteLink(ctx, "s1", "github"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindLink(ctx, "github", "gh-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("link survived DeleteLink")
	}
}
