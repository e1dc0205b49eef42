// Package secrets resolves client secrets and other sensitive configuration
// values. Values may be plain literals, ${ENV} references, or secretbox
// ciphertext (nonce|ciphertext); resolution never logs the resolved value.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/dropDatabas3/janus/internal/security/secretbox"
)

// Provider resolves secret material for the flow layer.
type Provider interface {
	// Resolve turns a configured value into its plaintext secret.
	Resolve(value string) (string, error)

	// GetRequired resolves value, falling back to the env var envFallback when
	// value is empty. Returns an error when nothing resolves.
	GetRequired(value, envFallback string) (string, error)
}

// EnvProvider is the default Provider: environment plus secretbox.
type EnvProvider struct{}

// New returns the default secret provider.
func New() Provider { return EnvProvider{} }

// Resolve implements Provider.
func (EnvProvider) Resolve(value string) (string, error) {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return "", nil
	case strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}"):
		name := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		out := os.Getenv(name)
		if out == "" {
			return "", fmt.Errorf("secrets: env %s not set", name)
		}
		return out, nil
	case secretbox.Looks(v):
		out, err := secretbox.Decrypt(v)
		if err != nil {
			return "", fmt.Errorf("secrets: decrypt: %w", err)
		}
		return out, nil
	default:
		return v, nil
	}
}

// GetRequired implements Provider.
func (p EnvProvider) GetRequired(value, envFallback string) (string, error) {
	out, err := p.Resolve(value)
	if err != nil {
		return "", err
	}
	if out == "" && envFallback != "" {
		out = os.Getenv(envFallback)
	}
	if out == "" {
		return "", fmt.Errorf("secrets: required secret unresolved (fallback %s)", envFallback)
	}
	return out, nil
}
