// Package app wires every subsystem into a single runnable gateway
// and coordinates its startup, run loop, and shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valyala/fasthttp"

	"github.com/hermesgw/hermes/internal/auth"
	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/catalog"
	"github.com/hermesgw/hermes/internal/config"
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

// App holds every long-lived subsystem and coordinates startup, the
// run loop, and shutdown.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	version string
	baseCtx context.Context

	store      *store.Store
	cache      *ttlcache.Cache
	cooldown   *cooldown.Ledger
	breaker    *breaker.Breaker
	scorer     *routerscore.Scorer
	catalog    *catalog.Catalog
	dispatcher *dispatcher.Dispatcher
	executor   *proxy.Executor
	orch       *orchestrator.Orchestrator
	bus        *eventbus.Bus
	batcher    *logbatch.Batcher
	auth       *auth.Authenticator
	prom       *metrics.Registry
	limiter    *slidingwindow.Limiter

	server *httpapi.Server
	srv    *fasthttp.Server
}

// New builds and wires every subsystem in dependency order — store,
// cache, cooldown ledger, circuit breaker, router scorer, catalog,
// dispatcher, event bus, proxy executor, orchestrator, log batcher,
// auth, metrics, rate limiter — and finally the HTTP surface. Any
// failure rolls back via Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (a *App, err error) {
	a = &App{cfg: cfg, log: log, version: version, baseCtx: ctx}

	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err = a.initInfra(ctx); err != nil {
		return nil, fmt.Errorf("infra: %w", err)
	}
	if err = a.initServices(ctx); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	if err = a.initGateway(ctx); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	return a, nil
}

// Run starts the HTTP server and background workers, blocking until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("gateway listening", slog.String("addr", addr))
		if err := a.srv.ListenAndServe(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.batcher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.catalog.StartPeriodicSync(gctx, time.Duration(a.cfg.Orchestrator.PeriodicSyncIntervalHours)*time.Hour)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.srv.Shutdown()
	})

	return g.Wait()
}

// Close releases every resource acquired during New, in reverse
// order. Safe to call on a partially built App.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
}
