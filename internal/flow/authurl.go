package flow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dropDatabas3/janus/internal/provider"
	tokens "github.com/dropDatabas3/janus/internal/security/token"
)

// URLBuilder constructs provider-specific authorization URLs, minting the
// anti-forgery state/nonce (and PKCE verifier where applicable) as it goes.
type URLBuilder struct {
	registry *provider.Registry
	disc     *provider.Discoverer
	states   StateStore
}

// NewURLBuilder creates a builder.
func NewURLBuilder(reg *provider.Registry, disc *provider.Discoverer, states StateStore) *URLBuilder {
	return &URLBuilder{registry: reg, disc: disc, states: states}
}

// Build returns the authorization URL for providerID plus the issued request.
// extra carries optional provider parameters; the "policy" key selects a named
// authentication policy on providers that support several.
func (b *URLBuilder) Build(ctx context.Context, providerID, returnURL string, extra map[string]string) (string, *AuthorizationRequest, error) {
	entry, err := b.registry.Get(providerID)
	if err != nil {
		return "", nil, err
	}
	d, err := b.disc.Resolve(ctx, &entry.Descriptor)
	if err != nil {
		return "", nil, err
	}

	req := &AuthorizationRequest{
		Provider:    d.ID,
		ReturnURL:   returnURL,
		RedirectURI: entry.RedirectURL,
	}
	if policy, ok := extra["policy"]; ok && d.PolicyParam != "" {
		req.Policy = policy
	}
	if d.PKCE != provider.PKCEUnsupported {
		verifier, err := tokens.GeneratePKCEVerifier()
		if err != nil {
			return "", nil, fmt.Errorf("flow: pkce verifier: %w", err)
		}
		req.CodeVerifier = verifier
	}
	req, err = b.states.Issue(req)
	if err != nil {
		return "", nil, err
	}

	u, err := url.Parse(d.AuthEndpoint)
	if err != nil {
		return "", nil, fmt.Errorf("flow: auth endpoint: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", entry.ClientID)
	q.Set("redirect_uri", entry.RedirectURL)
	q.Set("scope", d.ScopeDelimiter.Join(entry.EffectiveScopes()))
	q.Set("state", req.State)
	if d.IdentityChannel == provider.ChannelIDToken {
		q.Set("nonce", req.Nonce)
	}
	if d.ResponseMode != provider.ResponseQuery && d.ResponseMode != "" {
		q.Set("response_mode", string(d.ResponseMode))
	}
	if req.CodeVerifier != "" {
		q.Set("code_challenge", tokens.S256Challenge(req.CodeVerifier))
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range extra {
		if k == "policy" {
			if d.PolicyParam != "" {
				q.Set(d.PolicyParam, v)
			}
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), req, nil
}
