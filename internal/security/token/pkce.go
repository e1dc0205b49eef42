package tokens

import (
	"crypto/rand"
	"encoding/base64"
)

// PKCE per RFC 7636. The verifier travels with the stored authorization
// request; only the S256 challenge appears on the wire.

const verifierBytes = 48 // 64 chars after base64url, within the 43..128 range

// GeneratePKCEVerifier genera un code_verifier aleatorio.
func GeneratePKCEVerifier() (string, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// S256Challenge deriva el code_challenge del verifier: base64url(sha256(verifier)),
// sin padding.
func S256Challenge(verifier string) string {
	return SHA256Base64URL(verifier)
}
