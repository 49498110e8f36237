// Package httpapi wires the chat, models, health, admin, and
// server-sent-events surfaces onto a fasthttp server.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/auth"
	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/catalog"
	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/eventbus"
	"github.com/hermesgw/hermes/internal/metrics"
	"github.com/hermesgw/hermes/internal/orchestrator"
	"github.com/hermesgw/hermes/internal/slidingwindow"
	"github.com/hermesgw/hermes/internal/store"
	"github.com/hermesgw/hermes/internal/ttlcache"
)

// Version is the reported build version; overridden at link time is
// not wired up here since nothing in the corpus does so for this
// module's scale, but the field exists for the /health envelope.
const Version = "0.1.0"

// Server holds every dependency the HTTP surface needs.
type Server struct {
	store        *store.Store
	catalog      *catalog.Catalog
	orchestrator *orchestrator.Orchestrator
	auth         *auth.Authenticator
	limiter      *slidingwindow.Limiter
	bus          *eventbus.Bus
	breaker      *breaker.Breaker
	cooldown     *cooldown.Ledger
	cache        *ttlcache.Cache
	metrics      *metrics.Registry
	log          *slog.Logger
	corsOrigins  []string

	latency *latencyTracker
}

// New builds a Server from its component dependencies.
func New(
	st *store.Store,
	cat *catalog.Catalog,
	orch *orchestrator.Orchestrator,
	a *auth.Authenticator,
	limiter *slidingwindow.Limiter,
	bus *eventbus.Bus,
	br *breaker.Breaker,
	cooldownLedger *cooldown.Ledger,
	cache *ttlcache.Cache,
	reg *metrics.Registry,
	corsOrigins []string,
	log *slog.Logger,
) *Server {
	return &Server{
		store:        st,
		catalog:      cat,
		orchestrator: orch,
		auth:         a,
		limiter:      limiter,
		bus:          bus,
		breaker:      br,
		cooldown:     cooldownLedger,
		cache:        cache,
		metrics:      reg,
		corsOrigins:  corsOrigins,
		log:          log,
		latency:      newLatencyTracker(200),
	}
}

// Handler builds the full fasthttp handler: routes wrapped in the
// middleware chain (recovery, request-id, timing, security headers,
// CORS, rate-limit, auth where required).
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", s.withAuth(s.handleChatCompletions))
	r.GET("/v1/models", s.withAuth(s.handleModels))
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.metrics.Handler())
	r.GET("/admin/events", s.withAuth(s.handleEvents))

	s.registerAdminRoutes(r)

	return applyMiddleware(r.Handler,
		recovery(s.log),
		requestID,
		timing,
		securityHeaders,
		corsHandler(s.corsOrigins),
		s.rateLimit,
	)
}

// withAuth wraps a handler with the bearer-key check.
func (s *Server) withAuth(h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return s.authRequired(h)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(v)
	ctx.SetBody(body)
}

// latencyTracker keeps a capped ring of recent end-to-end request
// latencies (ms) for the /health percentile fields.
type latencyTracker struct {
	mu      sync.Mutex
	samples []float64
	cap     int
	next    int
}

func newLatencyTracker(cap int) *latencyTracker {
	return &latencyTracker{cap: cap}
}

func (t *latencyTracker) record(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) < t.cap {
		t.samples = append(t.samples, ms)
		return
	}
	t.samples[t.next] = ms
	t.next = (t.next + 1) % t.cap
}

// percentiles returns p50, p90, p99 over the current sample window.
func (t *latencyTracker) percentiles() (p50, p90, p99 float64) {
	t.mu.Lock()
	samples := append([]float64(nil), t.samples...)
	t.mu.Unlock()

	if len(samples) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(samples)
	pick := func(p float64) float64 {
		idx := int(p * float64(len(samples)-1))
		return samples[idx]
	}
	return pick(0.50), pick(0.90), pick(0.99)
}
