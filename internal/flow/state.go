// Package flow implements the protocol state machine of the authorization-code
// flow: anti-forgery state issuance/consumption, provider-specific
// authorization URLs, and the code-for-token exchange.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/janus/internal/cache"
	"github.com/dropDatabas3/janus/internal/metrics"
	tokens "github.com/dropDatabas3/janus/internal/security/token"
)

// ErrStateMismatch: the state is unknown, expired, or already consumed.
// Treated as a security event (CSRF/replay), never retried.
var ErrStateMismatch = errors.New("flow: state mismatch")

// DefaultStateTTL bounds how long a pending login may wait for its callback.
const DefaultStateTTL = 10 * time.Minute

// AuthorizationRequest is the single-use record minted when a login starts and
// consumed exactly once by the matching callback.
type AuthorizationRequest struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	Provider     string    `json:"provider"`
	ReturnURL    string    `json:"return_url"`
	RedirectURI  string    `json:"redirect_uri"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Policy       string    `json:"policy,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StateStore issues and single-use-consumes authorization requests.
type StateStore interface {
	// Issue fills State, Nonce and the timestamps on req and persists it.
	Issue(req *AuthorizationRequest) (*AuthorizationRequest, error)

	// Consume atomically looks up and deletes the request for state. A state
	// consumes successfully exactly once; every later attempt (replay,
	// double-submit) fails with ErrStateMismatch.
	Consume(state string) (*AuthorizationRequest, error)
}

// CacheStateStore keeps pending requests in a TTL byte cache (memory or
// redis). Consume se apoya en el GetDel atómico del backend: de dos callbacks
// concurrentes con el mismo state gana exactamente uno, incluso entre nodos
// que comparten el redis; la expiración lazy se chequea en el lookup y el
// barrido periódico lo hace el janitor del backend.
type CacheStateStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStateStore creates a state store over c. ttl<=0 uses DefaultStateTTL.
func NewStateStore(c cache.Cache, ttl time.Duration) *CacheStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &CacheStateStore{cache: c, ttl: ttl}
}

const stateKeyPrefix = "authreq:"

// Issue implements StateStore.
func (s *CacheStateStore) Issue(req *AuthorizationRequest) (*AuthorizationRequest, error) {
	state, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, fmt.Errorf("flow: state: %w", err)
	}
	nonce, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, fmt.Errorf("flow: nonce: %w", err)
	}

	now := time.Now().UTC()
	req.State = state
	req.Nonce = nonce
	req.IssuedAt = now
	req.ExpiresAt = now.Add(s.ttl)

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal request: %w", err)
	}
	s.cache.Set(stateKeyPrefix+state, b, s.ttl)
	return req, nil
}

// Consume implements StateStore.
func (s *CacheStateStore) Consume(state string) (*AuthorizationRequest, error) {
	if state == "" {
		return nil, ErrStateMismatch
	}

	b, ok := s.cache.GetDel(stateKeyPrefix + state)
	if !ok {
		metrics.StateReplays.Inc()
		return nil, ErrStateMismatch
	}

	var req AuthorizationRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("%w: corrupt record", ErrStateMismatch)
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrStateMismatch
	}
	return &req, nil
}
