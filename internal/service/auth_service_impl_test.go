package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	memcache "github.com/dropDatabas3/janus/internal/cache/memory"
	"github.com/dropDatabas3/janus/internal/flow"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/oidc"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/secrets"
	"github.com/dropDatabas3/janus/internal/session"
	"github.com/dropDatabas3/janus/internal/store/memory"
)

// fakeIdP is an httptest identity provider: OIDC-style token endpoint with
// signed id_tokens, plus a userinfo pair for a second, OAuth2-only provider.
type fakeIdP struct {
	t   *testing.T
	key *rsa.PrivateKey
	srv *httptest.Server

	mu    sync.Mutex
	nonce string // nonce a embeber en el próximo id_token
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIdP{t: t, key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/jwks", f.jwks)
	mux.HandleFunc("/social/token", f.socialToken)
	mux.HandleFunc("/social/me", f.socialMe)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) issuer() string { return "https://idp.acme.test" }

func (f *fakeIdP) setNonce(n string) {
	f.mu.Lock()
	f.nonce = n
	f.mu.Unlock()
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.Form.Get("grant_type") == "refresh_token" {
		if r.Form.Get("refresh_token") != "rt-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-2", "refresh_token": "rt-2", "token_type": "Bearer",
		})
		return
	}
	if r.Form.Get("code") != "good-code" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	f.mu.Lock()
	nonce := f.nonce
	f.mu.Unlock()

	now := time.Now()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, jwtv5.MapClaims{
		"iss":            f.issuer(),
		"aud":            "client-123",
		"sub":            "user-1",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"nonce":          nonce,
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
	})
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString(f.key)
	require.NoError(f.t, err)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "at-1", "refresh_token": "rt-1",
		"id_token": raw, "token_type": "Bearer", "expires_in": 3600,
	})
}

func (f *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA", "use": "sig", "alg": "RS256", "kid": "kid-1",
			"n": base64.RawURLEncoding.EncodeToString(f.key.PublicKey.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(f.key.PublicKey.E)).Bytes()),
		}},
	})
}

func (f *fakeIdP) socialToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.Form.Get("code") != "social-code" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "social-at", "token_type": "Bearer",
	})
}

func (f *fakeIdP) socialMe(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer social-at" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sub": "social-9", "name": "Ada L", "email": "ada@social.example",
	})
}

func newTestService(t *testing.T, idp *fakeIdP) AuthService {
	t.Helper()
	reg, err := provider.NewRegistry([]provider.Settings{
		{
			ID: "acme", Enabled: true, ClientID: "client-123", ClientSecret: "shhh",
			RedirectURL: "https://rp.example/cb",
			Descriptor: &provider.Descriptor{
				Issuer:          idp.issuer(),
				AuthEndpoint:    idp.srv.URL + "/authorize",
				TokenEndpoint:   idp.srv.URL + "/token",
				JWKSURI:         idp.srv.URL + "/jwks",
				IdentityChannel: provider.ChannelIDToken,
				SigningAlgs:     []string{"RS256"},
				PKCE:            provider.PKCERequired,
				DefaultScopes:   []string{"openid", "email"},
			},
		},
		{
			ID: "social", Enabled: true, ClientID: "cid-2", ClientSecret: "shhh2",
			RedirectURL: "https://rp.example/cb",
			Descriptor: &provider.Descriptor{
				AuthEndpoint:     idp.srv.URL + "/social/authorize",
				TokenEndpoint:    idp.srv.URL + "/social/token",
				UserInfoEndpoint: idp.srv.URL + "/social/me",
				IdentityChannel:  provider.ChannelUserInfo,
				PKCE:             provider.PKCEUnsupported,
				DefaultScopes:    []string{"profile"},
			},
		},
	})
	require.NoError(t, err)

	c := memcache.New(time.Minute)
	t.Cleanup(func() { c.Close() })
	states := flow.NewStateStore(c, time.Minute)
	disc := provider.NewDiscoverer(idp.srv.Client())
	store := memory.New()
	exchanger := flow.NewExchangeClient(idp.srv.Client(), reg, disc, secrets.New())

	return New(Deps{
		Registry:   reg,
		Discoverer: disc,
		States:     states,
		URLs:       flow.NewURLBuilder(reg, disc, states),
		Exchanger:  exchanger,
		Validator:  oidc.NewValidator(oidc.NewJWKSCache(idp.srv.Client(), time.Hour), 0),
		Normalizer: identity.NewNormalizer(idp.srv.Client()),
		Sessions:   session.NewManager(store, exchanger, time.Hour),
		Linker:     session.NewLinker(store),
	})
}

// begin starts a login and returns state + nonce from the authorization URL.
func begin(t *testing.T, svc AuthService, providerID, returnURL string) (state, nonce string) {
	t.Helper()
	res, err := svc.BeginLogin(context.Background(), BeginRequest{Provider: providerID, ReturnURL: returnURL})
	require.NoError(t, err)
	u, err := url.Parse(res.AuthorizationURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, res.State, q.Get("state"))
	return q.Get("state"), q.Get("nonce")
}

func TestCompleteLoginHappyPath(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	state, nonce := begin(t, svc, "acme", "/dashboard")
	idp.setNonce(nonce)

	res, err := svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.NoError(t, err)
	require.Equal(t, "/dashboard", res.ReturnURL)
	require.Equal(t, "user-1", res.Identity.Subject)
	require.Equal(t, "ada@example.com", res.Identity.Email)
	require.True(t, res.Identity.EmailVerified)

	sess, err := svc.ValidateSession(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", sess.Primary().Provider)
	require.Equal(t, "rt-1", sess.RefreshToken)
}

func TestCompleteLoginReplayRejected(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	state, nonce := begin(t, svc, "acme", "")
	idp.setNonce(nonce)

	_, err := svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.NoError(t, err)

	_, err = svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.ErrorIs(t, err, flow.ErrStateMismatch)
	require.Equal(t, CodeStateMismatch, Classify(err).Code)
}

func TestCompleteLoginWrongNonce(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)

	state, _ := begin(t, svc, "acme", "")
	idp.setNonce("nonce-from-another-flow")

	_, err := svc.CompleteLogin(context.Background(), CallbackRequest{State: state, Code: "good-code"})
	var ve *oidc.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, oidc.ReasonNonceMismatch, ve.Reason)
	require.Equal(t, CodeTokenValidation, Classify(err).Code)
}

func TestCompleteLoginProviderDenied(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)

	state, _ := begin(t, svc, "acme", "")
	_, err := svc.CompleteLogin(context.Background(), CallbackRequest{
		State: state, Error: "access_denied", ErrorDescription: "user cancelled",
	})
	var pd *ProviderDeniedError
	require.ErrorAs(t, err, &pd)
	require.Equal(t, "access_denied", pd.Code)

	c := Classify(err)
	require.Equal(t, CodeProviderDenied, c.Code)
	require.Equal(t, "access_denied", c.Reason)

	// el callback denegado también consumió el state
	_, err = svc.CompleteLogin(context.Background(), CallbackRequest{State: state, Code: "good-code"})
	require.ErrorIs(t, err, flow.ErrStateMismatch)
}

func TestCompleteLoginBadCode(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)

	state, nonce := begin(t, svc, "acme", "")
	idp.setNonce(nonce)

	_, err := svc.CompleteLogin(context.Background(), CallbackRequest{State: state, Code: "stolen"})
	var ig *flow.InvalidGrantError
	require.ErrorAs(t, err, &ig)
	require.Equal(t, CodeInvalidGrant, Classify(err).Code)
}

func TestCompleteLoginUserInfoChannel(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)

	state, nonce := begin(t, svc, "social", "")
	require.Empty(t, nonce, "userinfo-channel providers must not get a nonce")

	res, err := svc.CompleteLogin(context.Background(), CallbackRequest{State: state, Code: "social-code"})
	require.NoError(t, err)
	require.Equal(t, "social-9", res.Identity.Subject)
	require.Equal(t, "ada@social.example", res.Identity.Email)
}

// N logins en vuelo con N states distintos: cada callback consume el suyo y
// abre su propia sesión, sin pisarse.
func TestParallelLoginsDistinctStates(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	const n = 8
	states := make([]string, n)
	for i := range states {
		states[i], _ = begin(t, svc, "social", "")
	}

	results := make([]*LoginResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.CompleteLogin(ctx, CallbackRequest{State: states[i], Code: "social-code"})
		}(i)
	}
	close(start)
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "login %d", i)
		require.False(t, seen[results[i].Session.ID], "duplicate session id")
		seen[results[i].Session.ID] = true
	}
}

func TestRefreshSessionThroughProvider(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	state, nonce := begin(t, svc, "acme", "")
	idp.setNonce(nonce)
	res, err := svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.NoError(t, err)

	before := res.Session.ExpiresAt
	time.Sleep(5 * time.Millisecond)

	sess, err := svc.RefreshSession(ctx, res.Session.ID)
	require.NoError(t, err)
	require.True(t, sess.ExpiresAt.After(before))
	require.Equal(t, "rt-2", sess.RefreshToken, "rotated refresh token persisted")
}

func TestLinkAndUnlinkAccount(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	state, nonce := begin(t, svc, "acme", "")
	idp.setNonce(nonce)
	res, err := svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.NoError(t, err)

	// link de un segundo provider por el mismo pipeline de callback
	linkState, _ := begin(t, svc, "social", "")
	sess, err := svc.LinkAccount(ctx, res.Session.ID, CallbackRequest{State: linkState, Code: "social-code"}, false)
	require.NoError(t, err)
	require.Len(t, sess.Identities, 2)
	require.Equal(t, "acme", sess.Primary().Provider)

	sess, err = svc.UnlinkAccount(ctx, res.Session.ID, "social")
	require.NoError(t, err)
	require.Len(t, sess.Identities, 1)

	_, err = svc.UnlinkAccount(ctx, res.Session.ID, "acme")
	require.ErrorIs(t, err, session.ErrCannotUnlinkLastIdentity)
	require.Equal(t, CodeCannotUnlinkLast, Classify(err).Code)
}

func TestLogoutThenValidate(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	ctx := context.Background()

	state, nonce := begin(t, svc, "acme", "")
	idp.setNonce(nonce)
	res, err := svc.CompleteLogin(ctx, CallbackRequest{State: state, Code: "good-code"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, res.Session.ID))
	require.NoError(t, svc.Logout(ctx, res.Session.ID), "logout is idempotent")

	_, err = svc.ValidateSession(ctx, res.Session.ID)
	require.Equal(t, CodeSessionNotFound, Classify(err).Code)
}

func TestBeginLoginUnknownProvider(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)

	_, err := svc.BeginLogin(context.Background(), BeginRequest{Provider: "nope"})
	require.ErrorIs(t, err, provider.ErrUnknown)
	require.Equal(t, CodeUnknownProvider, Classify(err).Code)
}

func TestProvidersList(t *testing.T) {
	idp := newFakeIdP(t)
	svc := newTestService(t, idp)
	require.Equal(t, []string{"acme", "social"}, svc.Providers())
}

func TestClassifyUnknownErrorIsInternal(t *testing.T) {
	c := Classify(errors.New("boom"))
	require.Equal(t, CodeInternal, c.Code)
	require.Equal(t, http.StatusInternalServerError, c.Status)
}
