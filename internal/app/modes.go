package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lmsrd/internal/asset/memtoken"
	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/engine"
	"github.com/alanyoungcy/lmsrd/internal/server"
	"github.com/alanyoungcy/lmsrd/internal/server/handler"
	"github.com/alanyoungcy/lmsrd/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 5 * time.Second

// MemoryMode runs the engine against the in-process token with no external
// services: no persistence, no cache, no distributed lock. Events reach
// WebSocket clients by wiring the hub straight into the engine as a sink.
func (a *App) MemoryMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting memory mode")

	token := memtoken.New()
	hub := ws.NewHub(nil, a.cfg.Mode, a.logger)

	eng := engine.New(
		engine.WithLogger(a.logger),
		engine.WithClaimWindow(a.cfg.Engine.ClaimWindow.Duration),
		engine.WithSink(deps.Notifier),
		engine.WithSink(hub),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	a.startHTTPServer(ctx, g, eng, token, deps, hub, token)
	return waitGroup(g)
}

// ServerMode adds the persistence and coordination layer: Postgres as the
// write-through journal and read stores, Redis for the distributed market
// lock, snapshot cache, rate limiter and the event stream feeding the hub.
// Settlement stays on the in-process token.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	token := memtoken.New()
	eng, err := a.buildPersistentEngine(ctx, deps, token)
	if err != nil {
		return err
	}
	seedCustodyBalances(ctx, eng, token)

	hub := ws.NewHub(deps.EventStream, a.cfg.Mode, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	a.startHTTPServer(ctx, g, eng, token, deps, hub, token)
	return waitGroup(g)
}

// FullMode is ServerMode plus external settlement and cold storage: the
// ERC-20 asset when the chain is enabled, and an archive worker that sweeps
// a market's event history to S3 once its residuals are withdrawn.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	var settle domain.SettlementAsset
	var minter handler.Minter
	if deps.ChainAsset != nil {
		settle = deps.ChainAsset
	} else {
		token := memtoken.New()
		settle = token
		minter = token
		a.logger.Warn("chain settlement disabled, using in-process token")
	}

	eng, err := a.buildPersistentEngine(ctx, deps, settle)
	if err != nil {
		return err
	}
	if token, ok := settle.(*memtoken.Token); ok {
		seedCustodyBalances(ctx, eng, token)
	}

	hub := ws.NewHub(deps.EventStream, a.cfg.Mode, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveWorker(ctx, deps) })
	}
	a.startHTTPServer(ctx, g, eng, settle, deps, hub, minter)
	return waitGroup(g)
}

// buildPersistentEngine constructs the engine with journaling and event
// streaming, then hydrates it from the stores.
func (a *App) buildPersistentEngine(ctx context.Context, deps *Dependencies, settle domain.SettlementAsset) (*engine.Engine, error) {
	eng := engine.New(
		engine.WithLogger(a.logger),
		engine.WithClaimWindow(a.cfg.Engine.ClaimWindow.Duration),
		engine.WithJournal(deps.Journal),
		engine.WithSink(deps.Notifier),
		engine.WithSink(deps.EventStream),
	)
	if err := eng.Restore(ctx, deps.MarketStore, deps.PositionStore, deps.EventStore, settle); err != nil {
		return nil, fmt.Errorf("app: restore state: %w", err)
	}
	return eng, nil
}

// seedCustodyBalances re-mints each restored market's pool into its custody
// account. The in-process token loses all balances on restart, which would
// otherwise fail the solvency check on every restored market.
func seedCustodyBalances(ctx context.Context, eng *engine.Engine, token *memtoken.Token) {
	for _, m := range eng.ListMarkets(ctx) {
		if m.Pool != nil && m.Pool.Sign() > 0 {
			token.Mint(m.CustodyAccount, m.Pool)
		}
	}
}

// startHTTPServer assembles the handlers and runs the HTTP server on the
// errgroup: one goroutine serves, a second shuts it down when the context
// is cancelled. minter may be nil; it enables the dev faucet route.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, eng *engine.Engine, settle domain.SettlementAsset, deps *Dependencies, hub *ws.Hub, minter handler.Minter) {
	if !a.cfg.Server.Enabled {
		a.logger.Warn("http server disabled")
		return
	}

	checks := make(map[string]handler.HealthCheck, len(deps.HealthChecks))
	for name, fn := range deps.HealthChecks {
		checks[name] = fn
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Status:    handler.NewStatusHandler(eng, a.cfg.Mode, time.Now().UTC(), a.logger),
		Markets:   handler.NewMarketHandler(eng, settle, deps.MarketLock, deps.MarketCache, a.logger),
		Positions: handler.NewPositionHandler(eng, deps.PositionStore, a.logger),
	}
	if minter != nil {
		handlers.Faucet = handler.NewFaucetHandler(minter, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminKey:    a.cfg.Server.AdminKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiveWorker subscribes to the event stream and archives a market's
// history to cold storage when its residuals are swept. Archive failures
// are logged and skipped; the event log stays in Postgres regardless.
func (a *App) runArchiveWorker(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.EventStream.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("app: archive worker subscribe: %w", err)
	}
	a.logger.Info("archive worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return fmt.Errorf("app: archive worker: event stream closed")
			}
			if ev.Type != domain.EventResidualWithdrawn {
				continue
			}
			location, err := deps.Archiver.ArchiveMarket(ctx, ev.MarketID)
			if err != nil {
				a.logger.Error("archive failed",
					slog.String("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.Info("market archived",
				slog.String("market_id", ev.MarketID),
				slog.String("location", location),
			)
		}
	}
}

// waitGroup waits for all goroutines and treats context cancellation as a
// clean shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
