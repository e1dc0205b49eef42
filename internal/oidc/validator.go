package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/janus/internal/provider"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// ValidationReason is the machine-readable sub-reason of a validation failure.
type ValidationReason string

const (
	ReasonMalformed        ValidationReason = "malformed"
	ReasonAlgorithm        ValidationReason = "bad_algorithm"
	ReasonUnknownKey       ValidationReason = "unknown_key"
	ReasonBadSignature     ValidationReason = "bad_signature"
	ReasonIssuerMismatch   ValidationReason = "issuer_mismatch"
	ReasonAudienceMismatch ValidationReason = "audience_mismatch"
	ReasonExpired          ValidationReason = "expired"
	ReasonNotYetValid      ValidationReason = "not_yet_valid"
	ReasonNonceMismatch    ValidationReason = "nonce_mismatch"
)

// ValidationError reports why an identity token was rejected. It is terminal
// and never downgraded to success.
type ValidationError struct {
	Reason ValidationReason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc: token validation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("oidc: token validation failed (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func fail(reason ValidationReason, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// Validator verifies identity tokens: signature against the provider's JWKS,
// then iss, aud, exp/nbf/iat within skew, then nonce.
type Validator struct {
	jwks *JWKSCache
	skew time.Duration
}

// NewValidator creates a validator. skew<=0 defaults to 300s.
func NewValidator(jwks *JWKSCache, skew time.Duration) *Validator {
	if skew <= 0 {
		skew = 300 * time.Second
	}
	return &Validator{jwks: jwks, skew: skew}
}

// Input carries everything one validation needs besides the token itself.
type Input struct {
	Descriptor    *provider.Descriptor // endpoints already resolved
	ClientID      string               // expected audience
	ExpectedNonce string               // from the matched authorization request
	Policy        string               // named policy, when the provider has several
}

// Validate runs the full pipeline and returns the token claims. There is no
// shortcut path: a token that cannot complete every step is rejected.
func (v *Validator) Validate(ctx context.Context, rawToken string, in Input) (map[string]any, error) {
	header, err := parseHeader(rawToken)
	if err != nil {
		return nil, fail(ReasonMalformed, err)
	}

	algs := in.Descriptor.SigningAlgs
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	if !contains(algs, header.Alg) {
		// cubre alg=none y cualquier downgrade: el algoritmo viene pineado por
		// descriptor, nunca del token
		return nil, fail(ReasonAlgorithm, fmt.Errorf("alg %q not in %v", header.Alg, algs))
	}

	key, err := v.jwks.KeyFor(ctx, in.Descriptor.ID, in.Descriptor.JWKSURI, header.Kid)
	if err != nil {
		if errors.Is(err, ErrUnknownKeyID) {
			return nil, fail(ReasonUnknownKey, err)
		}
		return nil, fail(ReasonBadSignature, err)
	}

	claims := jwtv5.MapClaims{}
	_, err = jwtv5.ParseWithClaims(rawToken, claims,
		func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods(algs),
		jwtv5.WithLeeway(v.skew),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwtv5.ErrTokenExpired):
			return nil, fail(ReasonExpired, err)
		case errors.Is(err, jwtv5.ErrTokenNotValidYet), errors.Is(err, jwtv5.ErrTokenUsedBeforeIssued):
			return nil, fail(ReasonNotYetValid, err)
		case errors.Is(err, jwtv5.ErrTokenMalformed):
			return nil, fail(ReasonMalformed, err)
		default:
			return nil, fail(ReasonBadSignature, err)
		}
	}

	iss, _ := claims["iss"].(string)
	if !contains(in.Descriptor.ExpectedIssuers(in.Policy), iss) {
		return nil, fail(ReasonIssuerMismatch, fmt.Errorf("iss %q", iss))
	}

	if !audienceContains(claims["aud"], in.ClientID) {
		return nil, fail(ReasonAudienceMismatch, fmt.Errorf("aud does not contain client_id"))
	}

	if in.ExpectedNonce != "" {
		if got, _ := claims["nonce"].(string); got != in.ExpectedNonce {
			return nil, fail(ReasonNonceMismatch, nil)
		}
	}

	return claims, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

func parseHeader(raw string) (*tokenHeader, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errors.New("not a compact JWS")
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("header b64: %w", err)
	}
	var h tokenHeader
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, fmt.Errorf("header json: %w", err)
	}
	if h.Alg == "" {
		return nil, errors.New("missing alg")
	}
	return &h, nil
}

func audienceContains(aud any, clientID string) bool {
	switch a := aud.(type) {
	case string:
		return a == clientID
	case []any:
		for _, v := range a {
			if s, _ := v.(string); s == clientID {
				return true
			}
		}
	case []string:
		for _, s := range a {
			if s == clientID {
				return true
			}
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
