package service

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/janus/internal/audit"
	"github.com/dropDatabas3/janus/internal/flow"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/metrics"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/oidc"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/store/core"
	"github.com/dropDatabas3/janus/internal/util"
)

type authService struct {
	deps Deps
}

func (s *authService) BeginLogin(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	u, ar, err := s.deps.URLs.Build(ctx, req.Provider, req.ReturnURL, req.Extra)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("login started",
		logger.Component("service.auth"), logger.Provider(ar.Provider))
	return &BeginResult{
		AuthorizationURL: u,
		State:            ar.State,
		ExpiresIn:        int(ar.ExpiresAt.Sub(ar.IssuedAt).Seconds()),
	}, nil
}

func (s *authService) CompleteLogin(ctx context.Context, req CallbackRequest) (*LoginResult, error) {
	id, ts, ar, err := s.callback(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err := s.deps.Sessions.Create(ctx, id, ts)
	if err != nil {
		metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
		return nil, err
	}
	metrics.Logins.WithLabelValues(ar.Provider, "success").Inc()
	logger.From(ctx).Info("login completed",
		logger.Component("service.auth"), logger.Provider(ar.Provider),
		logger.SessionID(sess.ID), logger.Subject(id.Subject),
		logger.String("email", util.MaskEmail(id.Email)))
	return &LoginResult{Session: sess, Identity: id, ReturnURL: ar.ReturnURL}, nil
}

func (s *authService) LinkAccount(ctx context.Context, sessionID string, req CallbackRequest, replace bool) (*core.Session, error) {
	// la sesión debe estar viva antes de gastar el code en el exchange
	if _, err := s.deps.Sessions.Validate(ctx, sessionID); err != nil {
		return nil, err
	}
	id, _, ar, err := s.callback(ctx, req)
	if err != nil {
		return nil, err
	}
	sess, err := s.deps.Linker.Link(ctx, sessionID, id, replace)
	if err != nil {
		metrics.Logins.WithLabelValues(ar.Provider, "link_error").Inc()
		return nil, err
	}
	metrics.Logins.WithLabelValues(ar.Provider, "link_success").Inc()
	return sess, nil
}

func (s *authService) RefreshSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return s.deps.Sessions.Refresh(ctx, sessionID)
}

func (s *authService) ValidateSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return s.deps.Sessions.Validate(ctx, sessionID)
}

func (s *authService) Logout(ctx context.Context, sessionID string) error {
	return s.deps.Sessions.Logout(ctx, sessionID)
}

func (s *authService) UnlinkAccount(ctx context.Context, sessionID, providerID string) (*core.Session, error) {
	if _, err := s.deps.Sessions.Validate(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.deps.Linker.Unlink(ctx, sessionID, providerID)
}

func (s *authService) Providers() []string {
	return s.deps.Registry.IDs()
}

// callback runs the shared half of CompleteLogin and LinkAccount: consume the
// state, exchange the code and extract the normalized identity through the
// channel the provider's descriptor declares.
func (s *authService) callback(ctx context.Context, req CallbackRequest) (*identity.Identity, *flow.TokenSet, *flow.AuthorizationRequest, error) {
	// el state se consume incluso cuando el provider devolvió error: un
	// callback denegado también cierra el intento pendiente
	ar, err := s.deps.States.Consume(req.State)
	if err != nil {
		audit.Event(ctx, "auth.state_mismatch")
		return nil, nil, nil, err
	}
	if req.Error != "" {
		metrics.Logins.WithLabelValues(ar.Provider, "denied").Inc()
		return nil, nil, nil, &ProviderDeniedError{Code: req.Error, Description: req.ErrorDescription}
	}
	if req.Code == "" {
		return nil, nil, nil, fmt.Errorf("%w: callback without code", flow.ErrStateMismatch)
	}

	entry, err := s.deps.Registry.Get(ar.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := s.deps.Discoverer.Resolve(ctx, &entry.Descriptor)
	if err != nil {
		return nil, nil, nil, err
	}

	ts, err := s.deps.Exchanger.Exchange(ctx, ar.Provider, req.Code, ar)
	if err != nil {
		metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
		return nil, nil, nil, err
	}

	var id *identity.Identity
	switch d.IdentityChannel {
	case provider.ChannelIDToken:
		if ts.IDToken == "" {
			metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
			return nil, nil, nil, &oidc.ValidationError{
				Reason: oidc.ReasonMalformed,
				Err:    fmt.Errorf("provider returned no identity token"),
			}
		}
		claims, err := s.deps.Validator.Validate(ctx, ts.IDToken, oidc.Input{
			Descriptor:    d,
			ClientID:      entry.ClientID,
			ExpectedNonce: ar.Nonce,
			Policy:        ar.Policy,
		})
		if err != nil {
			metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
			return nil, nil, nil, err
		}
		id, err = s.deps.Normalizer.FromClaims(ar.Provider, claims)
		if err != nil {
			metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
			return nil, nil, nil, err
		}
	default:
		id, err = s.deps.Normalizer.FromUserInfo(ctx, d, ts.AccessToken)
		if err != nil {
			metrics.Logins.WithLabelValues(ar.Provider, "error").Inc()
			return nil, nil, nil, err
		}
	}
	return id, ts, ar, nil
}

// ProviderDeniedError: the provider reported an error on the callback instead
// of a code (user cancelled, consent refused).
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("service: provider denied: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("service: provider denied: %s", e.Code)
}
