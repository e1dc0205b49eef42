package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/janus/internal/service"
	"github.com/dropDatabas3/janus/internal/store/core"
)

// passthroughParams are the optional start-query parameters forwarded to the
// provider's authorization endpoint.
var passthroughParams = []string{"policy", "prompt", "login_hint"}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.auth.Providers()})
}

func (s *Server) beginLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	extra := map[string]string{}
	for _, k := range passthroughParams {
		if v := q.Get(k); v != "" {
			extra[k] = v
		}
	}

	res, err := s.auth.BeginLogin(r.Context(), service.BeginRequest{
		Provider:  chi.URLParam(r, "provider"),
		ReturnURL: q.Get("return_url"),
		Extra:     extra,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, res.AuthorizationURL, http.StatusFound)
}

func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request) {
	req, err := callbackParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.auth.CompleteLogin(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    sessionView(res.Session),
		"return_url": res.ReturnURL,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	sess, err := s.auth.ValidateSession(r.Context(), sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(sess)})
}

func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	sess, err := s.auth.RefreshSession(r.Context(), sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(sess)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := s.sessionID(r); ok {
		if err := s.auth.Logout(r.Context(), sid); err != nil {
			writeError(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (s *Server) linkAccount(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	var body struct {
		State            string `json:"state"`
		Code             string `json:"code"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Replace          bool   `json:"replace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{
			"code": "invalid_request", "message": "malformed JSON body",
		}})
		return
	}

	sess, err := s.auth.LinkAccount(r.Context(), sid, service.CallbackRequest{
		State:            body.State,
		Code:             body.Code,
		Error:            body.Error,
		ErrorDescription: body.ErrorDescription,
	}, body.Replace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(sess)})
}

func (s *Server) unlinkAccount(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	sess, err := s.auth.UnlinkAccount(r.Context(), sid, chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(sess)})
}

// callbackParams extracts the provider response from query (GET) or form body
// (form_post).
func callbackParams(r *http.Request) (service.CallbackRequest, error) {
	if err := r.ParseForm(); err != nil {
		return service.CallbackRequest{}, err
	}
	return service.CallbackRequest{
		State:            r.Form.Get("state"),
		Code:             r.Form.Get("code"),
		Error:            r.Form.Get("error"),
		ErrorDescription: r.Form.Get("error_description"),
	}, nil
}

// sessionID reads the session id from the cookie or a Bearer header.
func (s *Server) sessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if v := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); v != "" {
			return v, true
		}
	}
	return "", false
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *core.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionView is what the facade exposes of a session; the refresh token
// never leaves the process.
func sessionView(sess *core.Session) map[string]any {
	return map[string]any{
		"id":               sess.ID,
		"identities":       sess.Identities,
		"created_at":       sess.CreatedAt.Format(time.RFC3339),
		"expires_at":       sess.ExpiresAt.Format(time.RFC3339),
		"last_accessed_at": sess.LastAccessedAt.Format(time.RFC3339),
	}
}
