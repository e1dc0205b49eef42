package oidc

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/janus/internal/provider"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

type tokenOpts struct {
	kid    string
	method jwtv5.SigningMethod
	claims jwtv5.MapClaims
}

func signToken(t *testing.T, key *rsa.PrivateKey, o tokenOpts) string {
	t.Helper()
	if o.method == nil {
		o.method = jwtv5.SigningMethodRS256
	}
	tok := jwtv5.NewWithClaims(o.method, o.claims)
	if o.kid != "" {
		tok.Header["kid"] = o.kid
	}
	raw, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func validatorFixture(t *testing.T) (*Validator, *rsa.PrivateKey, *provider.Descriptor) {
	t.Helper()
	key := testRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jwksJSON("kid-1", &key.PublicKey))
	}))
	t.Cleanup(srv.Close)

	d := &provider.Descriptor{
		ID:          "acme",
		Issuer:      "https://idp.acme.test",
		JWKSURI:     srv.URL,
		SigningAlgs: []string{"RS256"},
	}
	return NewValidator(NewJWKSCache(srv.Client(), time.Hour), 0), key, d
}

func baseClaims(now time.Time) jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss":   "https://idp.acme.test",
		"aud":   "client-123",
		"sub":   "user-1",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": "nonce-1",
		"email": "u@example.com",
	}
}

func TestValidateHappyPath(t *testing.T) {
	v, key, d := validatorFixture(t)

	raw := signToken(t, key, tokenOpts{kid: "kid-1", claims: baseClaims(time.Now())})
	claims, err := v.Validate(context.Background(), raw, Input{
		Descriptor: d, ClientID: "client-123", ExpectedNonce: "nonce-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if claims["sub"] != "user-1" || claims["email"] != "u@example.com" {
		t.Fatalf("claims = %v", claims)
	}
}

func TestValidateRejections(t *testing.T) {
	v, key, d := validatorFixture(t)
	otherKey := testRSAKey(t)
	now := time.Now()

	expired := baseClaims(now)
	expired["iat"] = now.Add(-2 * time.Hour).Unix()
	expired["exp"] = now.Add(-30 * time.Minute).Unix()

	badIss := baseClaims(now)
	badIss["iss"] = "https://evil.test"

	badAud := baseClaims(now)
	badAud["aud"] = "someone-else"

	badNonce := baseClaims(now)
	badNonce["nonce"] = "stale-nonce"

	cases := []struct {
		name   string
		token  string
		reason ValidationReason
	}{
		{"not a jws", "garbage", ReasonMalformed},
		{"wrong signing key", signToken(t, otherKey, tokenOpts{kid: "kid-1", claims: baseClaims(now)}), ReasonBadSignature},
		{"unknown kid", signToken(t, key, tokenOpts{kid: "kid-rotated", claims: baseClaims(now)}), ReasonUnknownKey},
		{"expired beyond skew", signToken(t, key, tokenOpts{kid: "kid-1", claims: expired}), ReasonExpired},
		{"issuer mismatch", signToken(t, key, tokenOpts{kid: "kid-1", claims: badIss}), ReasonIssuerMismatch},
		{"audience mismatch", signToken(t, key, tokenOpts{kid: "kid-1", claims: badAud}), ReasonAudienceMismatch},
		{"nonce mismatch", signToken(t, key, tokenOpts{kid: "kid-1", claims: badNonce}), ReasonNonceMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.token, Input{
				Descriptor: d, ClientID: "client-123", ExpectedNonce: "nonce-1",
			})
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if ve.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", ve.Reason, tc.reason)
			}
		})
	}
}

// El algoritmo viene pineado por descriptor: un token HS256 firmado con
// cualquier clave se rechaza antes de mirar la firma.
func TestValidateRejectsAlgorithmDowngrade(t *testing.T) {
	v, _, d := validatorFixture(t)

	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, baseClaims(time.Now()))
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString([]byte("hmac-secret"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = v.Validate(context.Background(), raw, Input{Descriptor: d, ClientID: "client-123"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != ReasonAlgorithm {
		t.Fatalf("got %v, want ReasonAlgorithm", err)
	}
}

func TestValidateSkewTolerance(t *testing.T) {
	v, key, d := validatorFixture(t)
	now := time.Now()

	// vencido hace 1 minuto: dentro de los 300s de skew
	claims := baseClaims(now)
	claims["exp"] = now.Add(-time.Minute).Unix()
	raw := signToken(t, key, tokenOpts{kid: "kid-1", claims: claims})

	if _, err := v.Validate(context.Background(), raw, Input{
		Descriptor: d, ClientID: "client-123", ExpectedNonce: "nonce-1",
	}); err != nil {
		t.Fatalf("token inside skew rejected: %v", err)
	}
}

func TestValidateAudienceList(t *testing.T) {
	v, key, d := validatorFixture(t)

	claims := baseClaims(time.Now())
	claims["aud"] = []string{"other", "client-123"}
	raw := signToken(t, key, tokenOpts{kid: "kid-1", claims: claims})

	if _, err := v.Validate(context.Background(), raw, Input{
		Descriptor: d, ClientID: "client-123", ExpectedNonce: "nonce-1",
	}); err != nil {
		t.Fatalf("aud list containing client rejected: %v", err)
	}
}

func TestValidateAltIssuer(t *testing.T) {
	v, key, d := validatorFixture(t)
	d.AltIssuers = []string{"idp.acme.test"}

	claims := baseClaims(time.Now())
	claims["iss"] = "idp.acme.test"
	raw := signToken(t, key, tokenOpts{kid: "kid-1", claims: claims})

	if _, err := v.Validate(context.Background(), raw, Input{
		Descriptor: d, ClientID: "client-123", ExpectedNonce: "nonce-1",
	}); err != nil {
		t.Fatalf("alt issuer rejected: %v", err)
	}
}

func TestValidateNoNonceExpected(t *testing.T) {
	v, key, d := validatorFixture(t)

	claims := baseClaims(time.Now())
	delete(claims, "nonce")
	raw := signToken(t, key, tokenOpts{kid: "kid-1", claims: claims})

	if _, err := v.Validate(context.Background(), raw, Input{
		Descriptor: d, ClientID: "client-123",
	}); err != nil {
		t.Fatalf("validation without expected nonce failed: %v", err)
	}
}
