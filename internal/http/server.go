// Package http is the thin HTTP facade over the auth service. Handlers only
// translate requests into service calls and classified errors into JSON; no
// protocol logic lives here.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/rate"
	"github.com/dropDatabas3/janus/internal/service"
)

// Pinger is the readiness probe of the backing session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the facade.
type Options struct {
	Addr         string
	CookieName   string // session cookie, default "janus_sid"
	CookieSecure bool
	Store        Pinger
	// Limiter opcional: limita por IP los inicios de login.
	Limiter rate.Limiter
	// CORSAllowedOrigins habilita CORS para estos origins. Vacío lo apaga.
	CORSAllowedOrigins []string
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	auth service.AuthService
	opts Options
	srv  *http.Server
}

// New builds the facade with its routes mounted.
func New(auth service.AuthService, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "janus_sid"
	}
	s := &Server{auth: auth, opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(cors(opts.CORSAllowedOrigins))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Get("/providers", s.listProviders)
		r.With(rateLimit(opts.Limiter)).Get("/{provider}/start", s.beginLogin)
		r.With(rateLimit(opts.Limiter)).Get("/{provider}/link/start", s.beginLogin)
		// el callback llega por query o por form_post según el provider
		r.Get("/callback", s.completeLogin)
		r.Post("/callback", s.completeLogin)
		r.Post("/logout", s.logout)
	})
	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/refresh", s.refreshSession)
		r.Post("/link", s.linkAccount)
		r.Delete("/link/{provider}", s.unlinkAccount)
	})

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.L().Info("http facade listening", logger.Component("http"), logger.String("addr", s.opts.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
