// Package oidc implements the identity-token validation pipeline: a
// per-provider JWKS cache with coalesced refresh, and the signature/claims
// validator that every identity token must pass before its claims are used.
package oidc

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/janus/internal/metrics"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKeyID: the kid is absent from the provider's key set even after a
// forced refresh.
var ErrUnknownKeyID = errors.New("oidc: unknown kid")

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

type jwksEntry struct {
	uri     string
	keys    map[string]crypto.PublicKey
	fetched time.Time
	etag    string
}

// JWKSCache is the shared, read-mostly key cache. Many validators read
// concurrently; refreshes (TTL or unknown-kid) are coalesced per provider with
// singleflight so a kid miss never turns into a refresh storm.
type JWKSCache struct {
	http         *http.Client
	ttl          time.Duration
	refreshFloor time.Duration

	mu      sync.RWMutex
	entries map[string]*jwksEntry
	sf      singleflight.Group

	stop chan struct{}
	done chan struct{}
}

// NewJWKSCache creates the cache. ttl<=0 defaults to 1h; the unknown-kid
// refresh floor is fixed at 30s.
func NewJWKSCache(hc *http.Client, ttl time.Duration) *JWKSCache {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSCache{
		http:         hc,
		ttl:          ttl,
		refreshFloor: 30 * time.Second,
		entries:      make(map[string]*jwksEntry),
	}
}

// KeyFor resolves the public key for (providerID, kid), fetching jwksURI on
// cache miss and forcing one coalesced refresh when the kid is unknown.
func (c *JWKSCache) KeyFor(ctx context.Context, providerID, jwksURI, kid string) (crypto.PublicKey, error) {
	c.mu.RLock()
	e := c.entries[providerID]
	var (
		key   crypto.PublicKey
		found bool
		fresh bool
		age   time.Duration
	)
	if e != nil {
		key, found = e.keys[kid]
		age = time.Since(e.fetched)
		fresh = age < c.ttl
	}
	c.mu.RUnlock()

	if found && fresh {
		return key, nil
	}
	// kid desconocido con entry reciente: respetar el floor para no martillar
	// el endpoint del provider ante tokens basura.
	if e != nil && !found && age < c.refreshFloor {
		return nil, fmt.Errorf("%w: %s (refresh floor)", ErrUnknownKeyID, kid)
	}

	if err := c.refresh(ctx, providerID, jwksURI); err != nil {
		// una entry vencida sigue siendo mejor que nada si el fetch falló
		if found {
			logger.From(ctx).Warn("jwks refresh failed, using stale key",
				logger.Provider(providerID), logger.Kid(kid), logger.Err(err))
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if e := c.entries[providerID]; e != nil {
		if k, ok := e.keys[kid]; ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
}

// refresh fetches the key set, coalescing concurrent callers per provider.
func (c *JWKSCache) refresh(ctx context.Context, providerID, jwksURI string) error {
	_, err, _ := c.sf.Do(providerID, func() (any, error) {
		c.mu.RLock()
		var etag string
		if e := c.entries[providerID]; e != nil {
			// alguien pudo refrescar mientras esperábamos el singleflight
			if time.Since(e.fetched) < c.refreshFloor {
				c.mu.RUnlock()
				return nil, nil
			}
			etag = e.etag
		}
		c.mu.RUnlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
		if err != nil {
			return nil, err
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("jwks fetch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			c.mu.Lock()
			if e := c.entries[providerID]; e != nil {
				e.fetched = time.Now()
			}
			c.mu.Unlock()
			metrics.JWKSRefreshes.WithLabelValues(providerID, "not_modified").Inc()
			return nil, nil
		}
		if resp.StatusCode/100 != 2 {
			metrics.JWKSRefreshes.WithLabelValues(providerID, "error").Inc()
			return nil, fmt.Errorf("jwks http %d", resp.StatusCode)
		}

		var doc jwksDoc
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("jwks decode: %w", err)
		}
		keys := make(map[string]crypto.PublicKey, len(doc.Keys))
		for _, k := range doc.Keys {
			if k.Use != "" && k.Use != "sig" {
				continue
			}
			pub, err := parseJWK(k)
			if err != nil {
				logger.From(ctx).Warn("skipping unparseable jwk",
					logger.Provider(providerID), logger.Kid(k.Kid), logger.Err(err))
				continue
			}
			keys[k.Kid] = pub
		}

		c.mu.Lock()
		c.entries[providerID] = &jwksEntry{
			uri:     jwksURI,
			keys:    keys,
			fetched: time.Now(),
			etag:    resp.Header.Get("ETag"),
		}
		c.mu.Unlock()
		metrics.JWKSRefreshes.WithLabelValues(providerID, "ok").Inc()
		return nil, nil
	})
	return err
}

// StartBackgroundRefresh re-fetches every known key set on the given interval
// until Close. Construct at startup, shut down explicitly; tests can skip it.
func (c *JWKSCache) StartBackgroundRefresh(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.mu.RLock()
				targets := make(map[string]string, len(c.entries))
				for id, e := range c.entries {
					targets[id] = e.uri
				}
				c.mu.RUnlock()
				for id, uri := range targets {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					if err := c.refresh(ctx, id, uri); err != nil {
						logger.L().Warn("background jwks refresh failed",
							logger.Provider(id), logger.Err(err))
					}
					cancel()
				}
			}
		}
	}()
}

// Close stops the background refresh, if running.
func (c *JWKSCache) Close() {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
}

func parseJWK(k jwk) (crypto.PublicKey, error) {
	switch {
	case strings.EqualFold(k.Kty, "RSA"):
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("rsa n: %w", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("rsa e: %w", err)
		}
		e := 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
		if e == 0 {
			e = 65537
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil

	case strings.EqualFold(k.Kty, "EC"):
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("ec x: %w", err)
		}
		yb, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("ec y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(xb), Y: new(big.Int).SetBytes(yb)}, nil

	case strings.EqualFold(k.Kty, "OKP") && k.Crv == "Ed25519":
		xb, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("okp x: %w", err)
		}
		return ed25519.PublicKey(xb), nil
	}
	return nil, fmt.Errorf("unsupported kty %q", k.Kty)
}
