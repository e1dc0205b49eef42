package flow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/secrets"
)

func exchangeClient(t *testing.T, tokenURL string, acceptJSON bool) *ExchangeClient {
	t.Helper()
	reg, err := provider.NewRegistry([]provider.Settings{{
		ID:           "acme",
		Enabled:      true,
		ClientID:     "client-123",
		ClientSecret: "shhh",
		RedirectURL:  "https://rp.example/cb",
		Descriptor: &provider.Descriptor{
			AuthEndpoint:    "https://idp.test/authorize",
			TokenEndpoint:   tokenURL,
			IdentityChannel: provider.ChannelUserInfo,
			AcceptJSON:      acceptJSON,
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return NewExchangeClient(nil, reg, provider.NewDiscoverer(nil), secrets.New())
}

func TestExchangeSuccess(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = map[string]string{
			"grant_type":    r.Form.Get("grant_type"),
			"code":          r.Form.Get("code"),
			"redirect_uri":  r.Form.Get("redirect_uri"),
			"code_verifier": r.Form.Get("code_verifier"),
			"client_id":     r.Form.Get("client_id"),
			"client_secret": r.Form.Get("client_secret"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"id_token":      "idt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	ts, err := c.Exchange(context.Background(), "acme", "the-code", &AuthorizationRequest{
		RedirectURI:  "https://rp.example/cb",
		CodeVerifier: "the-verifier",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ts.AccessToken != "at-1" || ts.RefreshToken != "rt-1" || ts.IDToken != "idt-1" {
		t.Fatalf("token set = %+v", ts)
	}
	if gotForm["grant_type"] != "authorization_code" || gotForm["code"] != "the-code" {
		t.Fatalf("form = %v", gotForm)
	}
	if gotForm["redirect_uri"] != "https://rp.example/cb" || gotForm["code_verifier"] != "the-verifier" {
		t.Fatalf("request context not forwarded: %v", gotForm)
	}
	if gotForm["client_id"] != "client-123" || gotForm["client_secret"] != "shhh" {
		t.Fatalf("credentials not sent: %v", gotForm)
	}
}

func TestExchangeInvalidGrantNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	_, err := c.Exchange(context.Background(), "acme", "bad-code", nil)

	var ig *InvalidGrantError
	if !errors.As(err, &ig) {
		t.Fatalf("got %v, want InvalidGrantError", err)
	}
	if ig.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", ig.Status)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("token endpoint hit %d times, a rejection must not retry", got)
	}
}

func TestExchangeServerErrorRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	_, err := c.Exchange(context.Background(), "acme", "code", nil)

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("got %v, want NetworkError", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("token endpoint hit %d times, want initial + 2 retries", got)
	}
}

func TestExchangeRecoversAfterTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-2", "token_type": "Bearer"})
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	ts, err := c.Exchange(context.Background(), "acme", "code", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ts.AccessToken != "at-2" {
		t.Fatalf("access token = %q", ts.AccessToken)
	}
}

// Algunos providers responden 200 con un body de error.
func TestExchangeErrorBodyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, true)
	_, err := c.Exchange(context.Background(), "acme", "expired", nil)

	var ig *InvalidGrantError
	if !errors.As(err, &ig) {
		t.Fatalf("got %v, want InvalidGrantError", err)
	}
}

func TestExchangeEmptyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token_type": "Bearer"})
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	var ig *InvalidGrantError
	if _, err := c.Exchange(context.Background(), "acme", "code", nil); !errors.As(err, &ig) {
		t.Fatalf("got %v, want InvalidGrantError", err)
	}
}

func TestRefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-old" {
			t.Errorf("refresh form = %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"token_type":    "Bearer",
		})
	}))
	defer srv.Close()

	c := exchangeClient(t, srv.URL, false)
	ts, err := c.Refresh(context.Background(), "acme", "rt-old")
	if err != nil {
		t.Fatal(err)
	}
	if ts.RefreshToken != "rt-new" {
		t.Fatalf("rotated refresh token = %q", ts.RefreshToken)
	}
}
