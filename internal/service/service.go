// Package service contiene el service de autenticación: orquesta el flujo
// authorization-code de punta a punta por encima de flow, oidc, identity y
// session.
package service

import (
	"context"

	"github.com/dropDatabas3/janus/internal/flow"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/oidc"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/session"
	"github.com/dropDatabas3/janus/internal/store/core"
)

// AuthService is the authentication orchestrator. Every operation the facade
// exposes lives here; handlers only translate HTTP to these calls.
type AuthService interface {
	// BeginLogin starts a login against the named provider and returns the
	// authorization URL the caller must redirect the user to.
	BeginLogin(ctx context.Context, req BeginRequest) (*BeginResult, error)

	// CompleteLogin consumes the provider callback: state check, code
	// exchange, identity-token validation or userinfo fetch, and session
	// creation. The state consumes exactly once; a replayed callback fails.
	CompleteLogin(ctx context.Context, req CallbackRequest) (*LoginResult, error)

	// RefreshSession redeems the session's stored refresh token and extends
	// its deadline. A rejected refresh token expires the session.
	RefreshSession(ctx context.Context, sessionID string) (*core.Session, error)

	// ValidateSession returns the session when still live.
	ValidateSession(ctx context.Context, sessionID string) (*core.Session, error)

	// Logout terminates the session. Idempotent.
	Logout(ctx context.Context, sessionID string) error

	// LinkAccount runs the callback pipeline and attaches the resulting
	// identity to an existing session instead of opening a new one.
	LinkAccount(ctx context.Context, sessionID string, req CallbackRequest, replace bool) (*core.Session, error)

	// UnlinkAccount removes the provider's identity from the session. The
	// last remaining identity cannot be unlinked.
	UnlinkAccount(ctx context.Context, sessionID, providerID string) (*core.Session, error)

	// Providers lists the enabled provider ids.
	Providers() []string
}

// BeginRequest carries the parameters of a login start.
type BeginRequest struct {
	Provider  string
	ReturnURL string
	// Extra holds optional provider parameters; "policy" selects a named
	// authentication policy where supported.
	Extra map[string]string
}

// BeginResult is the outcome of BeginLogin.
type BeginResult struct {
	AuthorizationURL string
	State            string
	ExpiresIn        int // seconds until the pending login lapses
}

// CallbackRequest carries the provider callback parameters, already extracted
// from query or form_post by the facade.
type CallbackRequest struct {
	State string
	Code  string
	// Error/ErrorDescription: the provider denied the request at its end
	// (user cancelled, consent refused).
	Error            string
	ErrorDescription string
}

// LoginResult is the outcome of a completed login.
type LoginResult struct {
	Session   *core.Session
	Identity  *identity.Identity
	ReturnURL string
}

// Deps holds everything the auth service needs.
type Deps struct {
	Registry   *provider.Registry
	Discoverer *provider.Discoverer
	States     flow.StateStore
	URLs       *flow.URLBuilder
	Exchanger  *flow.ExchangeClient
	Validator  *oidc.Validator
	Normalizer *identity.Normalizer
	Sessions   *session.Manager
	Linker     *session.Linker
}

// New creates the auth service.
func New(d Deps) AuthService {
	return &authService{deps: d}
}
