package service

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/janus/internal/flow"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/oidc"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/session"
	"github.com/dropDatabas3/janus/internal/store/core"
)

// Stable machine-readable error codes. Callers branch on these; the message
// text can change, the codes cannot.
const (
	CodeUnknownProvider      = "unknown_provider"
	CodeProviderDisabled     = "provider_disabled"
	CodeProviderDenied       = "provider_denied"
	CodeStateMismatch        = "state_mismatch"
	CodeInvalidGrant         = "invalid_grant"
	CodeNetworkError         = "network_error"
	CodeTokenValidation      = "token_validation_error"
	CodeIdentityExtraction   = "identity_extraction_error"
	CodeSessionNotFound      = "session_not_found"
	CodeSessionExpired       = "session_expired"
	CodeSessionConflict      = "session_conflict"
	CodeNoRefreshToken       = "no_refresh_token"
	CodeProviderLinked       = "provider_already_linked"
	CodeIdentityLinkedElsewh = "identity_already_linked_elsewhere"
	CodeCannotUnlinkLast     = "cannot_unlink_last_identity"
	CodeInternal             = "internal_error"
)

// Classified pairs an error with its stable code, a suggested HTTP status and
// an optional machine-readable sub-reason (validation failures carry one).
type Classified struct {
	Code   string
	Reason string
	Status int
	Err    error
}

func (c *Classified) Error() string { return c.Err.Error() }
func (c *Classified) Unwrap() error { return c.Err }

// Classify maps any error surfaced by AuthService to its stable code. Unknown
// errors classify as internal_error; nothing leaks through unclassified.
func Classify(err error) *Classified {
	var (
		ve *oidc.ValidationError
		ig *flow.InvalidGrantError
		ne *flow.NetworkError
		pd *ProviderDeniedError
	)
	switch {
	case errors.As(err, &pd):
		return &Classified{Code: CodeProviderDenied, Reason: pd.Code, Status: http.StatusBadRequest, Err: err}
	case errors.As(err, &ve):
		return &Classified{Code: CodeTokenValidation, Reason: string(ve.Reason), Status: http.StatusUnauthorized, Err: err}
	case errors.As(err, &ig):
		return &Classified{Code: CodeInvalidGrant, Status: http.StatusBadRequest, Err: err}
	case errors.As(err, &ne):
		return &Classified{Code: CodeNetworkError, Status: http.StatusBadGateway, Err: err}
	case errors.Is(err, provider.ErrUnknown):
		return &Classified{Code: CodeUnknownProvider, Status: http.StatusNotFound, Err: err}
	case errors.Is(err, provider.ErrDisabled):
		return &Classified{Code: CodeProviderDisabled, Status: http.StatusForbidden, Err: err}
	case errors.Is(err, flow.ErrStateMismatch):
		return &Classified{Code: CodeStateMismatch, Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, identity.ErrMissingSubject):
		return &Classified{Code: CodeIdentityExtraction, Status: http.StatusBadGateway, Err: err}
	case errors.Is(err, session.ErrExpired):
		return &Classified{Code: CodeSessionExpired, Status: http.StatusUnauthorized, Err: err}
	case errors.Is(err, session.ErrNoRefreshToken):
		return &Classified{Code: CodeNoRefreshToken, Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, session.ErrProviderAlreadyLinked):
		return &Classified{Code: CodeProviderLinked, Status: http.StatusConflict, Err: err}
	case errors.Is(err, session.ErrIdentityAlreadyLinkedElsewhere):
		return &Classified{Code: CodeIdentityLinkedElsewh, Status: http.StatusConflict, Err: err}
	case errors.Is(err, session.ErrCannotUnlinkLastIdentity):
		return &Classified{Code: CodeCannotUnlinkLast, Status: http.StatusConflict, Err: err}
	case errors.Is(err, session.ErrConflict), errors.Is(err, core.ErrVersionConflict):
		return &Classified{Code: CodeSessionConflict, Status: http.StatusConflict, Err: err}
	case errors.Is(err, core.ErrNotFound):
		return &Classified{Code: CodeSessionNotFound, Status: http.StatusNotFound, Err: err}
	default:
		return &Classified{Code: CodeInternal, Status: http.StatusInternalServerError, Err: err}
	}
}
