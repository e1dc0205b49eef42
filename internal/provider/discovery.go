package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/janus/internal/observability/logger"
)

const discoveryTTL = 24 * time.Hour

type discoveryDoc struct {
	Issuer           string `json:"issuer"`
	AuthEndpoint     string `json:"authorization_endpoint"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

type discoveryEntry struct {
	doc     *discoveryDoc
	fetched time.Time
}

// Discoverer resolves descriptor endpoints from the issuer's
// openid-configuration document, caching per issuer for 24h.
type Discoverer struct {
	http *http.Client

	mu   sync.RWMutex
	docs map[string]discoveryEntry
}

// NewDiscoverer creates a resolver using the given HTTP client
// (nil means a 10s-timeout default).
func NewDiscoverer(hc *http.Client) *Discoverer {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discoverer{http: hc, docs: make(map[string]discoveryEntry)}
}

// Resolve returns a copy of d with endpoints filled from discovery when
// needed. Descriptors with pinned endpoints pass through untouched.
func (r *Discoverer) Resolve(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	if !d.NeedsDiscovery() {
		return d, nil
	}
	doc, err := r.document(ctx, d.Issuer)
	if err != nil {
		return nil, fmt.Errorf("provider %s: discovery: %w", d.ID, err)
	}

	out := *d
	if out.AuthEndpoint == "" {
		out.AuthEndpoint = doc.AuthEndpoint
	}
	if out.TokenEndpoint == "" {
		out.TokenEndpoint = doc.TokenEndpoint
	}
	if out.UserInfoEndpoint == "" && out.IdentityChannel == ChannelUserInfo {
		out.UserInfoEndpoint = doc.UserInfoEndpoint
	}
	if out.JWKSURI == "" {
		out.JWKSURI = doc.JWKSURI
	}
	if out.AuthEndpoint == "" || out.TokenEndpoint == "" {
		return nil, fmt.Errorf("provider %s: discovery document incomplete", d.ID)
	}
	return &out, nil
}

func (r *Discoverer) document(ctx context.Context, issuer string) (*discoveryDoc, error) {
	r.mu.RLock()
	e, ok := r.docs[issuer]
	r.mu.RUnlock()
	if ok && time.Since(e.fetched) < discoveryTTL {
		return e.doc, nil
	}

	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		// documento viejo mejor que ninguno
		if ok {
			logger.From(ctx).Warn("discovery refresh failed, using stale document",
				logger.Endpoint(url), logger.Err(err))
			return e.doc, nil
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("discovery http %d", resp.StatusCode)
	}
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.docs[issuer] = discoveryEntry{doc: &dd, fetched: time.Now()}
	r.mu.Unlock()
	return &dd, nil
}
