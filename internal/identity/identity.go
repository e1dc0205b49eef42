// Package identity normalizes the heterogeneous profile shapes returned by
// providers (id-token claims or userinfo responses) into one Identity model.
package identity

import "errors"

// ErrMissingSubject: the provider payload carries no usable subject id.
// A subject-less identity is unusable; optional fields merely stay empty.
var ErrMissingSubject = errors.New("identity: missing subject id")

// Identity is the normalized authenticated-user model. Subject is scoped to
// Provider; the same human on two providers is two identities until linked.
type Identity struct {
	Provider      string `json:"provider"`
	Subject       string `json:"subject"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`

	// RawClaims preserva el payload del provider para auditoría/debug.
	// Nunca usar para decisiones de autorización.
	RawClaims map[string]any `json:"-"`
}
