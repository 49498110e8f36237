package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/auth"
	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/catalog"
	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/dispatcher"
	"github.com/hermesgw/hermes/internal/eventbus"
	"github.com/hermesgw/hermes/internal/httpapi"
	"github.com/hermesgw/hermes/internal/logbatch"
	"github.com/hermesgw/hermes/internal/metrics"
	"github.com/hermesgw/hermes/internal/orchestrator"
	"github.com/hermesgw/hermes/internal/proxy"
	"github.com/hermesgw/hermes/internal/routerscore"
	"github.com/hermesgw/hermes/internal/slidingwindow"
	"github.com/hermesgw/hermes/internal/store"
	"github.com/hermesgw/hermes/internal/ttlcache"
)

// initInfra opens the persistent store and the in-process caches and
// ledgers that sit directly on top of it.
func (a *App) initInfra(ctx context.Context) error {
	st, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("store opened", slog.String("path", a.cfg.DBPath))

	a.cache = ttlcache.New(a.cfg.Cache.MaxSize, a.cfg.Cache.TTLProviders)

	a.cooldown = cooldown.New(
		a.cfg.Dispatcher.InitialPenalty,
		a.cfg.Dispatcher.MaxPenalty,
		a.cfg.Dispatcher.ResyncThreshold,
		a.cfg.Dispatcher.ResyncCooldown,
		a.resyncProvider,
	)

	a.breaker = breaker.New(
		a.cfg.Breaker.FailureThreshold,
		a.cfg.Breaker.RecoveryTimeout,
		a.cfg.Breaker.SuccessThreshold,
	)

	return nil
}

// initServices builds the catalog, dispatch pipeline, orchestrator,
// event bus, and log batcher — everything that sits between storage
// and the HTTP surface.
func (a *App) initServices(ctx context.Context) error {
	a.scorer = routerscore.New()
	a.catalog = catalog.New(a.store, a.cache, a.cooldown, a.log)

	a.dispatcher = dispatcher.New(a.catalog, a.cooldown, a.breaker, a.scorer, a.log)

	a.bus = eventbus.New()
	a.executor = proxy.New(a.scorer, a.breaker, a.catalog, a.bus, a.log)
	a.orch = orchestrator.New(a.dispatcher, a.executor, a.cooldown, a.cfg.Orchestrator.ChatMaxRetries, a.log)

	a.batcher = logbatch.New(a.store, a.cfg.LogBatch.BatchSize, a.cfg.LogBatch.FlushInterval, a.log)
	a.auth = auth.New(a.store, a.cfg.Secret)
	a.prom = metrics.New()

	a.limiter = slidingwindow.New(a.cfg.RateLimit.Max, float64(a.cfg.RateLimit.WindowSeconds), 12, 5*time.Minute)

	return nil
}

// initGateway builds the HTTP handler and the underlying fasthttp
// server that serves it.
func (a *App) initGateway(ctx context.Context) error {
	a.server = httpapi.New(
		a.store,
		a.catalog,
		a.orch,
		a.auth,
		a.limiter,
		a.bus,
		a.breaker,
		a.cooldown,
		a.cache,
		a.prom,
		a.cfg.CORSOrigins,
		a.log,
	)

	a.srv = &fasthttp.Server{
		Handler:      a.server.Handler(),
		Name:         "hermes",
		ReadTimeout:  0,
		WriteTimeout: 0,
	}

	return nil
}

// resyncProvider is the cooldown ledger's self-healing hook: once a
// provider's penalty crosses the resync threshold, trigger a fresh
// catalog sync for it in the background.
func (a *App) resyncProvider(providerID string) {
	a.catalog.TriggerResync(a.baseCtx, providerID)
}
