package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknown: the provider id has no registered descriptor.
	ErrUnknown = errors.New("provider: unknown provider")
	// ErrDisabled: the provider exists but is disabled by configuration.
	ErrDisabled = errors.New("provider: disabled by configuration")
)

// Settings is the operator-supplied configuration for one provider.
// ClientSecret holds the raw configured value (literal, ${ENV} reference or
// secretbox ciphertext); it is resolved through the secret provider at use
// time, never at registry construction.
type Settings struct {
	ID           string
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Extra        map[string]string

	// Descriptor overrides or defines the static facts. Nil means "use the
	// builtin descriptor for ID".
	Descriptor *Descriptor
}

// Entry pairs a descriptor with its runtime credentials.
type Entry struct {
	Descriptor   Descriptor
	Enabled      bool
	ClientID     string
	ClientSecret string // unresolved config value
	RedirectURL  string
	Scopes       []string
	Extra        map[string]string
}

// EffectiveScopes returns the configured scopes or the descriptor defaults.
func (e *Entry) EffectiveScopes() []string {
	if len(e.Scopes) > 0 {
		return e.Scopes
	}
	return e.Descriptor.DefaultScopes
}

// Registry is the immutable provider lookup table, built once at startup.
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry builds the registry from settings. Unknown ids without a custom
// descriptor are rejected so misconfiguration fails at startup, not at login.
func NewRegistry(settings []Settings) (*Registry, error) {
	builtin := builtinDescriptors()
	entries := make(map[string]*Entry, len(settings))

	for _, s := range settings {
		id := strings.ToLower(strings.TrimSpace(s.ID))
		if id == "" {
			return nil, fmt.Errorf("provider: settings entry without id")
		}
		if _, dup := entries[id]; dup {
			return nil, fmt.Errorf("provider: duplicate settings for %q", id)
		}

		var desc Descriptor
		if s.Descriptor != nil {
			desc = *s.Descriptor
			desc.ID = id
		} else {
			d, ok := builtin[id]
			if !ok {
				return nil, fmt.Errorf("provider: %q is not builtin and has no descriptor", id)
			}
			desc = d
		}
		if desc.AuthEndpoint == "" && desc.Issuer == "" {
			return nil, fmt.Errorf("provider %q: need auth_endpoint or issuer", id)
		}
		if s.Enabled && s.ClientID == "" {
			return nil, fmt.Errorf("provider %q: client_id required", id)
		}

		entries[id] = &Entry{
			Descriptor:   desc,
			Enabled:      s.Enabled,
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			RedirectURL:  s.RedirectURL,
			Scopes:       s.Scopes,
			Extra:        s.Extra,
		}
	}
	return &Registry{entries: entries}, nil
}

// Get returns the entry for id. ErrUnknown when absent, ErrDisabled when the
// operator turned the provider off.
func (r *Registry) Get(id string) (*Entry, error) {
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	if !e.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, id)
	}
	return e, nil
}

// IDs returns the enabled provider ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.Enabled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
