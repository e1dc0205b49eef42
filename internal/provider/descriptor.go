// Package provider models identity providers as data: a Descriptor carries the
// static per-provider facts (endpoints, scope delimiter, response mode,
// identity-delivery channel) and the Registry resolves them together with the
// operator-supplied credentials. Provider quirks stay declarative; there is no
// per-provider subclassing.
package provider

import "strings"

// ScopeDelimiter is the character a provider expects between scopes.
type ScopeDelimiter string

const (
	ScopeSpace ScopeDelimiter = "space"
	ScopeComma ScopeDelimiter = "comma"
)

// Join concatenates scopes using the provider's delimiter.
func (d ScopeDelimiter) Join(scopes []string) string {
	switch d {
	case ScopeComma:
		return strings.Join(scopes, ",")
	default:
		return strings.Join(scopes, " ")
	}
}

// ResponseMode is how the provider returns the authorization response.
type ResponseMode string

const (
	ResponseQuery    ResponseMode = "query"
	ResponseFragment ResponseMode = "fragment"
	ResponseFormPost ResponseMode = "form_post"
)

// IdentityChannel is where the provider delivers identity data.
type IdentityChannel string

const (
	// ChannelIDToken: claims come exclusively from the signed identity token.
	ChannelIDToken IdentityChannel = "id_token"
	// ChannelUserInfo: identity requires an authenticated profile-endpoint call.
	ChannelUserInfo IdentityChannel = "userinfo"
)

// PKCEMode indicates whether the provider requires or merely accepts PKCE.
type PKCEMode string

const (
	PKCERequired    PKCEMode = "required"
	PKCEOptional    PKCEMode = "optional"
	PKCEUnsupported PKCEMode = "unsupported"
)

// Descriptor holds the immutable static facts for one provider. Instances are
// created at process start and never mutated; the discovery resolver returns
// copies when it fills endpoints from the issuer's well-known document.
type Descriptor struct {
	ID          string
	DisplayName string

	// Issuer is the OIDC issuer. Empty for pure OAuth2 providers. When the
	// endpoints below are empty, they are resolved from
	// <issuer>/.well-known/openid-configuration.
	Issuer string
	// AltIssuers are additional iss values accepted during validation
	// (Google historically signs with and without the scheme).
	AltIssuers []string

	AuthEndpoint  string
	TokenEndpoint string
	// UserInfoEndpoint is empty when identity is delivered only inside the
	// identity token.
	UserInfoEndpoint string
	// EmailsEndpoint is the separate verified-emails endpoint (GitHub quirk).
	EmailsEndpoint string
	JWKSURI        string

	ScopeDelimiter  ScopeDelimiter
	ResponseMode    ResponseMode
	IdentityChannel IdentityChannel
	PKCE            PKCEMode

	DefaultScopes []string

	// SigningAlgs pins the accepted identity-token algorithms. "none" is never
	// acceptable and is not representable here.
	SigningAlgs []string

	// PolicyParam names the query parameter carrying a named authentication
	// policy, for providers that support several (e.g. "p" on Azure B2C-style
	// endpoints). Empty when unsupported.
	PolicyParam string
	// PolicyIssuers maps a policy name to its expected issuer, when each
	// policy issues under a distinct iss.
	PolicyIssuers map[string]string

	// AcceptJSON forces Accept: application/json on the token endpoint
	// (GitHub answers form-encoded otherwise).
	AcceptJSON bool
}

// ExpectedIssuers returns the iss values acceptable for this descriptor under
// the given policy (empty policy means the default issuer set).
func (d *Descriptor) ExpectedIssuers(policy string) []string {
	if policy != "" && d.PolicyIssuers != nil {
		if iss, ok := d.PolicyIssuers[policy]; ok {
			return []string{iss}
		}
	}
	out := make([]string, 0, 1+len(d.AltIssuers))
	if d.Issuer != "" {
		out = append(out, d.Issuer)
	}
	return append(out, d.AltIssuers...)
}

// NeedsDiscovery reports whether endpoint resolution from the issuer's
// well-known document is still pending.
func (d *Descriptor) NeedsDiscovery() bool {
	return d.Issuer != "" && (d.AuthEndpoint == "" || d.TokenEndpoint == "" || (d.IdentityChannel == ChannelIDToken && d.JWKSURI == ""))
}
