package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/provider"
)

// fieldMap lists candidate claim paths per Identity field, first match wins.
// Paths are dot-separated for nested payloads (Facebook's picture.data.url).
type fieldMap struct {
	subject       []string
	email         []string
	emailVerified []string
	name          []string
	givenName     []string
	familyName    []string
	picture       []string
}

var standardOIDC = fieldMap{
	subject:       []string{"sub"},
	email:         []string{"email"},
	emailVerified: []string{"email_verified"},
	name:          []string{"name"},
	givenName:     []string{"given_name"},
	familyName:    []string{"family_name"},
	picture:       []string{"picture"},
}

var fieldMaps = map[string]fieldMap{
	"google": standardOIDC,
	"microsoft": {
		subject:       []string{"sub", "oid"},
		email:         []string{"email", "preferred_username"},
		emailVerified: []string{"email_verified"},
		name:          []string{"name"},
		givenName:     []string{"given_name"},
		familyName:    []string{"family_name"},
		picture:       []string{"picture"},
	},
	"github": {
		subject: []string{"id"},
		email:   []string{"email"},
		name:    []string{"name", "login"},
		picture: []string{"avatar_url"},
	},
	"facebook": {
		subject:    []string{"id"},
		email:      []string{"email"},
		name:       []string{"name"},
		givenName:  []string{"first_name"},
		familyName: []string{"last_name"},
		picture:    []string{"picture.data.url"},
	},
}

// Normalizer maps provider payloads into Identity. One instance serves all
// providers; the mapping table is selected by provider id.
type Normalizer struct {
	http *http.Client
}

// NewNormalizer creates a normalizer (nil client means a 10s-timeout default).
func NewNormalizer(hc *http.Client) *Normalizer {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Normalizer{http: hc}
}

// FromClaims normalizes already-validated identity-token claims.
func (n *Normalizer) FromClaims(providerID string, claims map[string]any) (*Identity, error) {
	return normalize(providerID, claims)
}

// FromUserInfo fetches the provider's profile endpoint with the access token
// and normalizes the response. For providers with a separate verified-emails
// endpoint (GitHub), an empty profile email falls back to it.
func (n *Normalizer) FromUserInfo(ctx context.Context, d *provider.Descriptor, accessToken string) (*Identity, error) {
	if d.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("identity: provider %s has no userinfo endpoint", d.ID)
	}
	payload, err := n.getJSON(ctx, d.UserInfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}

	id, err := normalize(d.ID, payload)
	if err != nil {
		return nil, err
	}

	if id.Email == "" && d.EmailsEndpoint != "" {
		email, verified, err := n.primaryEmail(ctx, d.EmailsEndpoint, accessToken)
		if err != nil {
			// perfil sin email es tolerable; el fallback es best effort
			logger.From(ctx).Debug("emails endpoint fallback failed",
				logger.Provider(d.ID), logger.Err(err))
		} else {
			id.Email = email
			id.EmailVerified = verified
		}
	}
	return id, nil
}

func (n *Normalizer) getJSON(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: userinfo http %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("identity: userinfo decode: %w", err)
	}
	return payload, nil
}

type emailEntry struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryEmail picks primary+verified, then any verified, then the first.
func (n *Normalizer) primaryEmail(ctx context.Context, endpoint, accessToken string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("emails http %d", resp.StatusCode)
	}
	var emails []emailEntry
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified, nil
	}
	return "", false, fmt.Errorf("no email entries")
}

func normalize(providerID string, payload map[string]any) (*Identity, error) {
	fm, ok := fieldMaps[providerID]
	if !ok {
		fm = standardOIDC
	}

	id := &Identity{
		Provider:      providerID,
		Subject:       firstString(payload, fm.subject),
		Email:         firstString(payload, fm.email),
		EmailVerified: firstBool(payload, fm.emailVerified),
		Name:          firstString(payload, fm.name),
		GivenName:     firstString(payload, fm.givenName),
		FamilyName:    firstString(payload, fm.familyName),
		Picture:       firstString(payload, fm.picture),
		RawClaims:     payload,
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("%w (provider %s)", ErrMissingSubject, providerID)
	}
	return id, nil
}

func firstString(payload map[string]any, paths []string) string {
	for _, p := range paths {
		if v, ok := lookup(payload, p); ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstBool(payload map[string]any, paths []string) bool {
	for _, p := range paths {
		if v, ok := lookup(payload, p); ok {
			switch b := v.(type) {
			case bool:
				return b
			case string:
				// algunos providers mandan "true"/"false" como string
				return strings.EqualFold(b, "true")
			}
		}
	}
	return false
}

// lookup traverses dot-separated paths through nested JSON objects.
func lookup(payload map[string]any, path string) (any, bool) {
	cur := any(payload)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// ids numéricos (GitHub) llegan como float64 del decoder
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
