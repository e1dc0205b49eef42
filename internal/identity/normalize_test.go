package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/janus/internal/provider"
)

func TestFromClaimsStandardOIDC(t *testing.T) {
	id, err := NewNormalizer(nil).FromClaims("google", map[string]any{
		"sub":            "108976543210",
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"given_name":     "Ada",
		"family_name":    "Lovelace",
		"picture":        "https://img.example/ada.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id.Provider != "google" || id.Subject != "108976543210" {
		t.Fatalf("identity = %+v", id)
	}
	if id.Email != "ada@example.com" || !id.EmailVerified {
		t.Fatalf("email = %q verified=%v", id.Email, id.EmailVerified)
	}
	if id.GivenName != "Ada" || id.FamilyName != "Lovelace" {
		t.Fatalf("names = %q %q", id.GivenName, id.FamilyName)
	}
}

func TestFromClaimsUnknownProviderFallsBackToOIDC(t *testing.T) {
	id, err := NewNormalizer(nil).FromClaims("acme", map[string]any{"sub": "x-1"})
	if err != nil {
		t.Fatal(err)
	}
	if id.Subject != "x-1" {
		t.Fatalf("subject = %q", id.Subject)
	}
}

func TestFromClaimsMissingSubject(t *testing.T) {
	_, err := NewNormalizer(nil).FromClaims("google", map[string]any{"email": "no-sub@example.com"})
	if !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("got %v, want ErrMissingSubject", err)
	}
}

func TestFromClaimsStringBooleans(t *testing.T) {
	id, err := NewNormalizer(nil).FromClaims("google", map[string]any{
		"sub": "1", "email": "x@example.com", "email_verified": "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !id.EmailVerified {
		t.Fatal(`email_verified "true" (string) not honored`)
	}
}

func TestFromUserInfoGitHubNumericID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/user":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":         583231,
				"login":      "octocat",
				"name":       "The Octocat",
				"avatar_url": "https://avatars.example/583231",
			})
		case "/user/emails":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"email": "old@example.com", "primary": false, "verified": true},
				{"email": "octo@example.com", "primary": true, "verified": true},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := &provider.Descriptor{
		ID:               "github",
		UserInfoEndpoint: srv.URL + "/user",
		EmailsEndpoint:   srv.URL + "/user/emails",
	}
	id, err := NewNormalizer(srv.Client()).FromUserInfo(context.Background(), d, "at-1")
	if err != nil {
		t.Fatal(err)
	}
	if id.Subject != "583231" {
		t.Fatalf("numeric id not stringified: %q", id.Subject)
	}
	if id.Email != "octo@example.com" || !id.EmailVerified {
		t.Fatalf("email fallback = %q verified=%v", id.Email, id.EmailVerified)
	}
	if id.Name != "The Octocat" || id.Picture != "https://avatars.example/583231" {
		t.Fatalf("profile = %+v", id)
	}
}

func TestFromUserInfoEmailsFallbackBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "login": "ghost"})
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	d := &provider.Descriptor{
		ID:               "github",
		UserInfoEndpoint: srv.URL + "/user",
		EmailsEndpoint:   srv.URL + "/user/emails",
	}
	// el endpoint de emails caído no tumba el login
	id, err := NewNormalizer(srv.Client()).FromUserInfo(context.Background(), d, "at")
	if err != nil {
		t.Fatal(err)
	}
	if id.Email != "" {
		t.Fatalf("email = %q, want empty", id.Email)
	}
	if id.Name != "ghost" {
		t.Fatalf("login fallback for name = %q", id.Name)
	}
}

func TestFromUserInfoFacebookNestedPicture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "10218",
			"name":       "Grace Hopper",
			"first_name": "Grace",
			"last_name":  "Hopper",
			"email":      "grace@example.com",
			"picture": map[string]any{
				"data": map[string]any{"url": "https://pic.example/grace.jpg"},
			},
		})
	}))
	defer srv.Close()

	d := &provider.Descriptor{ID: "facebook", UserInfoEndpoint: srv.URL}
	id, err := NewNormalizer(srv.Client()).FromUserInfo(context.Background(), d, "at")
	if err != nil {
		t.Fatal(err)
	}
	if id.Picture != "https://pic.example/grace.jpg" {
		t.Fatalf("nested picture = %q", id.Picture)
	}
	if id.GivenName != "Grace" || id.FamilyName != "Hopper" {
		t.Fatalf("names = %+v", id)
	}
}

func TestFromUserInfoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := &provider.Descriptor{ID: "github", UserInfoEndpoint: srv.URL}
	if _, err := NewNormalizer(srv.Client()).FromUserInfo(context.Background(), d, "bad"); err == nil {
		t.Fatal("userinfo 401 did not fail")
	}
}

func TestFromUserInfoNoEndpoint(t *testing.T) {
	d := &provider.Descriptor{ID: "acme"}
	if _, err := NewNormalizer(nil).FromUserInfo(context.Background(), d, "at"); err == nil {
		t.Fatal("missing endpoint did not fail")
	}
}
