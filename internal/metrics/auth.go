package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Authentication-flow Prometheus metrics. Defined in a standalone package to
// avoid import cycles between the flow components and the HTTP facade.

var (
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_logins_total",
		Help: "Completed login attempts por provider y resultado",
	}, []string{"provider", "outcome"})

	TokenExchangeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "janus_token_exchange_latency_ms",
		Help:    "Latencia del intercambio code->token en milisegundos",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	}, []string{"provider"})

	JWKSRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_jwks_refreshes_total",
		Help: "Refrescos del cache JWKS por provider y resultado",
	}, []string{"provider", "result"})

	StateReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "janus_state_replays_total",
		Help: "Intentos de consumo de un state ya usado o desconocido (evento de seguridad)",
	})

	SessionRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_session_refreshes_total",
		Help: "Refrescos de sesión por resultado",
	}, []string{"outcome"})
)

// Register registers the auth metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		Logins, TokenExchangeLatency, JWKSRefreshes, StateReplays, SessionRefreshes,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
