// Package metrics provides a Prometheus metrics registry for the
// gateway.
//
// All metrics are scoped to a private registry (not the global
// default) so they don't interfere with host-level metrics when
// embedded in other applications. The /metrics HTTP handler is
// exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// hermes_inflight_requests
	inFlight prometheus.Gauge

	// hermes_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// hermes_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// hermes_upstream_attempts_total{provider,model,outcome}
	upstreamAttempts *prometheus.CounterVec

	// hermes_upstream_attempt_duration_seconds{provider,model}
	upstreamDuration *prometheus.HistogramVec

	// hermes_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// hermes_circuit_breaker_state{provider} — 0=closed,1=open,2=half_open
	circuitBreakerState *prometheus.GaugeVec

	// hermes_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// hermes_cooldown_penalties_total{provider,model}
	cooldownPenalties *prometheus.CounterVec

	// hermes_router_score{provider,model} — latest Thompson-sampled score
	routerScore *prometheus.GaugeVec

	// hermes_sync_total{provider,outcome}
	syncTotal *prometheus.CounterVec

	// hermes_log_batch_flush_total{trigger}
	logFlushTotal *prometheus.CounterVec

	// hermes_log_batch_dropped_total
	logDropped prometheus.Counter

	// hermes_rate_limit_total{result}
	rateLimitTotal *prometheus.CounterVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

// New builds and registers every metric against a private registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hermes_inflight_requests",
			Help: "Current number of in-flight chat completion requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_http_requests_total",
				Help: "Total HTTP requests handled, by route and status",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_http_request_duration_seconds",
				Help:    "End-to-end HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_upstream_attempts_total",
				Help: "Total upstream provider attempts, including retries",
			},
			[]string{"provider", "model", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_upstream_attempt_duration_seconds",
				Help:    "Upstream provider attempt duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_cache_operations_total",
				Help: "Provider/model cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hermes_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half_open)",
			},
			[]string{"provider"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"provider", "to_state"},
		),

		cooldownPenalties: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_cooldown_penalties_total",
				Help: "Cooldown penalties applied to a (provider, model) arm",
			},
			[]string{"provider", "model"},
		),

		routerScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hermes_router_score",
				Help: "Latest Thompson-sampled score for a (provider, model) arm",
			},
			[]string{"provider", "model"},
		),

		syncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_sync_total",
				Help: "Provider catalog sync runs by outcome",
			},
			[]string{"provider", "outcome"},
		),

		logFlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_log_batch_flush_total",
				Help: "Log rows flushed by trigger (size, interval, shutdown)",
			},
			[]string{"trigger"},
		),

		logDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_log_batch_dropped_total",
			Help: "Log rows dropped because the in-memory queue was full",
		}),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_rate_limit_total",
				Help: "Rate limit decisions by result (allowed, rejected)",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.cacheOps,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cooldownPenalties,
		r.routerScore,
		r.syncTotal,
		r.logFlushTotal,
		r.logDropped,
		r.rateLimitTotal,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records one HTTP request's route/status/duration.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveUpstreamAttempt records one proxied attempt against a provider.
func (r *Registry) ObserveUpstreamAttempt(provider, model, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, model, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func (r *Registry) CacheHit(op string)  { r.cacheOps.WithLabelValues(op, "hit").Inc() }
func (r *Registry) CacheMiss(op string) { r.cacheOps.WithLabelValues(op, "miss").Inc() }

// SetCircuitBreaker sets the breaker state gauge and increments a
// transition counter when the state actually changes.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != float64(state) {
		r.lastCBState[provider] = float64(state)
		r.cbTransitions.WithLabelValues(provider, strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCooldownPenalty(provider, model string) {
	r.cooldownPenalties.WithLabelValues(provider, model).Inc()
}

func (r *Registry) SetRouterScore(provider, model string, score float64) {
	r.routerScore.WithLabelValues(provider, model).Set(score)
}

func (r *Registry) RecordSync(provider, outcome string) {
	r.syncTotal.WithLabelValues(provider, outcome).Inc()
}

func (r *Registry) RecordLogFlush(trigger string, rows int) {
	r.logFlushTotal.WithLabelValues(trigger).Add(float64(rows))
}

func (r *Registry) RecordLogDropped() { r.logDropped.Inc() }

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

// Handler returns the fasthttp handler that serves /metrics.
func (r *Registry) Handler() fasthttp.RequestHandler { return r.metricsHandler }

// PromRegistry exposes the underlying registry for tests.
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
