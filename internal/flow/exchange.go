package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/janus/internal/metrics"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/secrets"
)

// TokenSet holds the result of a code or refresh-token exchange. Instances
// live only in memory for the duration of the flow and are never logged.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	ExpiresIn    int
}

// InvalidGrantError: the provider rejected the code or refresh token. Terminal
// for this attempt; the caller must restart the flow.
type InvalidGrantError struct {
	Status int
	Body   string // provider error body, for diagnostics
}

func (e *InvalidGrantError) Error() string {
	return fmt.Sprintf("flow: provider rejected grant (http %d): %s", e.Status, e.Body)
}

// NetworkError: transport-level failure reaching the provider. Retryable.
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return fmt.Sprintf("flow: network: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

const (
	exchangeTimeout = 10 * time.Second
	maxRetries      = 2
	backoffBase     = 250 * time.Millisecond
)

// ExchangeClient performs the code->token POST against provider token
// endpoints. Network-level failures retry with capped exponential backoff;
// provider rejections (4xx) never do.
type ExchangeClient struct {
	http     *http.Client
	registry *provider.Registry
	disc     *provider.Discoverer
	secrets  secrets.Provider
}

// NewExchangeClient creates the client (nil hc means a bounded default).
func NewExchangeClient(hc *http.Client, reg *provider.Registry, disc *provider.Discoverer, sp secrets.Provider) *ExchangeClient {
	if hc == nil {
		hc = &http.Client{Timeout: exchangeTimeout}
	}
	return &ExchangeClient{http: hc, registry: reg, disc: disc, secrets: sp}
}

// Exchange trades an authorization code for tokens, carrying the PKCE
// verifier and the redirect URI recorded in the matched request.
func (c *ExchangeClient) Exchange(ctx context.Context, providerID, code string, req *AuthorizationRequest) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if req != nil {
		if req.RedirectURI != "" {
			form.Set("redirect_uri", req.RedirectURI)
		}
		if req.CodeVerifier != "" {
			form.Set("code_verifier", req.CodeVerifier)
		}
	}
	return c.post(ctx, providerID, form)
}

// Refresh redeems a refresh token for a fresh token set.
func (c *ExchangeClient) Refresh(ctx context.Context, providerID, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.post(ctx, providerID, form)
}

func (c *ExchangeClient) post(ctx context.Context, providerID string, form url.Values) (*TokenSet, error) {
	entry, err := c.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	d, err := c.disc.Resolve(ctx, &entry.Descriptor)
	if err != nil {
		return nil, err
	}
	secret, err := c.secrets.GetRequired(entry.ClientSecret, clientSecretEnv(providerID))
	if err != nil {
		return nil, fmt.Errorf("flow: client secret for %s: %w", providerID, err)
	}
	form.Set("client_id", entry.ClientID)
	form.Set("client_secret", secret)

	log := logger.From(ctx).With(logger.Component("flow.exchange"), logger.Provider(providerID))
	started := time.Now()
	defer func() {
		metrics.TokenExchangeLatency.WithLabelValues(providerID).Observe(float64(time.Since(started).Milliseconds()))
	}()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			log.Debug("retrying token exchange", logger.Attempt(attempt), logger.Duration(delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &NetworkError{Err: ctx.Err()}
			}
		}

		ts, err := c.doPost(ctx, d, entry, form)
		if err == nil {
			return ts, nil
		}
		// solo fallas de red se reintentan; el POST con un code es one-shot
		// del lado del provider, un 4xx/5xx ya es una respuesta
		if _, ok := err.(*NetworkError); !ok {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *ExchangeClient) doPost(ctx context.Context, d *provider.Descriptor, entry *provider.Entry, form url.Values) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("flow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.AcceptJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode >= 500 {
			return nil, &NetworkError{Err: fmt.Errorf("token endpoint http %d", resp.StatusCode)}
		}
		return nil, &InvalidGrantError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
		ExpiresIn    int    `json:"expires_in"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("flow: decode token response: %w", err)
	}
	// GitHub responde 200 con un body de error
	if tr.Error != "" {
		return nil, &InvalidGrantError{Status: resp.StatusCode, Body: tr.Error + ": " + tr.ErrorDesc}
	}
	if tr.AccessToken == "" {
		return nil, &InvalidGrantError{Status: resp.StatusCode, Body: "no access_token in response"}
	}

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

func clientSecretEnv(providerID string) string {
	return "JANUS_" + strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_CLIENT_SECRET"
}
