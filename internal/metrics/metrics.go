package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GateDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minigate_gate_decision_total",
			Help: "Count of gate decisions (allow/deny) by step",
		},
		[]string{"step", "action"},
	)
	GateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minigate_gate_duration_seconds",
			Help:    "Latency of the request gate chain",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minigate_rate_limit_hits_total",
			Help: "Requests denied by the rate limiter, by tier",
		},
		[]string{"tier"},
	)
	Lockouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minigate_lockouts_total",
			Help: "Addresses locked out for repeated auth failures",
		},
	)
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minigate_auth_attempts_total",
			Help: "Telegram initData authentication attempts by result",
		},
		[]string{"result"},
	)
	SessionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minigate_sessions_issued_total",
			Help: "Session tokens minted",
		},
	)
	StoreBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minigate_store_breaker_state",
			Help: "User store circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
	ProxyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minigate_proxy_errors_total",
			Help: "Upstream proxy failures",
		},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "minigate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(GateDecision, GateDuration, RateLimitHits, Lockouts,
		AuthAttempts, SessionsIssued, StoreBreakerState, ProxyErrors, BuildInfo)
}
