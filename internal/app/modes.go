package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Sonnik9/gate-bob-deploy/internal/crypto"
	"github.com/Sonnik9/gate-bob-deploy/internal/executor"
	"github.com/Sonnik9/gate-bob-deploy/internal/notify"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
	"github.com/Sonnik9/gate-bob-deploy/internal/server"
	"github.com/Sonnik9/gate-bob-deploy/internal/server/handler"
	"github.com/Sonnik9/gate-bob-deploy/internal/server/ws"
	"github.com/Sonnik9/gate-bob-deploy/internal/service"
)

var _ service.Exchange = (*gate.Client)(nil)

// engine holds the trading components of one process.
type engine struct {
	client      *gate.Client
	instruments *service.Instruments
	book        *service.PositionBook
	prices      *service.PriceService
	riskOrders  *service.RiskOrderManager
	orders      *service.OrderService
	reconciler  *service.Reconciler
	executor    *executor.Executor
	trades      *service.TradeService
}

// TradeMode runs the execution engine without the HTTP API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runEngine(ctx, deps, false)
}

// FullMode runs the execution engine together with the HTTP API when the
// server is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runEngine(ctx, deps, a.cfg.Server.Enabled)
}

// ServerMode serves the read-only API (health, status, trade journal,
// metrics and the status stream) without trading.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	trades := a.tradeService(deps)
	a.scheduleJobs(ctx, g, nil, trades)
	a.startHTTPServer(ctx, g, deps, nil, trades)
	return g.Wait()
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, withHTTP bool) error {
	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}
	defer eng.orders.Wait()

	a.notify(ctx, deps, "startup", "gatebot started",
		fmt.Sprintf("mode=%s contracts=%d open=%d", a.cfg.Mode, eng.instruments.Len(), eng.book.OpenCount()))
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.notify(shutCtx, deps, "shutdown", "gatebot stopped", "mode="+a.cfg.Mode)
	}()

	g, ctx := errgroup.WithContext(ctx)
	eng.executor.Bind(ctx)

	g.Go(func() error {
		return eng.client.RunPing(ctx)
	})
	g.Go(func() error {
		return eng.reconciler.Run(ctx)
	})
	g.Go(func() error {
		return eng.executor.Run(ctx)
	})

	if a.cfg.Gate.StreamTickers && a.cfg.Gate.WsURL != "" {
		stream := gate.NewTickerStream(a.cfg.Gate.WsURL, eng.book.Symbols, eng.prices.HandleTicker, a.logger)
		g.Go(func() error {
			return stream.Run(ctx)
		})
	}

	if deps.Telegram != nil {
		g.Go(func() error {
			return deps.Telegram.Listen(ctx, eng.riskOrders)
		})
	}

	a.scheduleJobs(ctx, g, eng.instruments, eng.trades)

	if withHTTP {
		a.startHTTPServer(ctx, g, deps, eng, eng.trades)
	}

	return g.Wait()
}

// buildEngine loads the API secret, the contract list and the persisted
// slots, then constructs the services in dependency order.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Gate.ApiSecret,
		EncryptedPath: a.cfg.Gate.EncryptedSecretPath,
		Password:      a.cfg.Gate.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load api secret: %w", err)
	}

	client := gate.NewClient(gate.Config{
		BaseURL:           a.cfg.Gate.BaseURL,
		PingURL:           a.cfg.Gate.PingURL,
		Settle:            a.cfg.Gate.Settle,
		Key:               a.cfg.Gate.ApiKey,
		Secret:            secret,
		RequestTimeout:    a.cfg.Gate.RequestTimeout.Duration,
		RetryDelay:        a.cfg.Gate.RetryDelay.Duration,
		PingInterval:      a.cfg.Gate.PingInterval.Duration,
		RequestsPerSecond: a.cfg.Gate.RequestsPerSecond,
		Burst:             a.cfg.Gate.Burst,
	}, nil, a.logger)

	instruments := service.NewInstruments(client, a.cfg.Engine.DefaultMaxLeverage, a.logger)
	if deps.ContractCache != nil {
		instruments.SetCache(deps.ContractCache)
	}
	if err := instruments.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("app: load contracts: %w", err)
	}

	book := service.NewPositionBook(deps.Snapshots, a.logger)
	if err := book.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: restore positions: %w", err)
	}

	publisher := notify.NewPublisher(deps.Channels, a.logger)
	reporter := service.NewReporter(book, publisher, deps.StatusHistory, deps.SignalBus, a.logger)
	prices := service.NewPriceService(deps.PriceCache, client, 0, a.logger)
	risk := service.NewRiskService(a.cfg.Engine.RiskEpsilonPct, a.logger)

	riskOrders := service.NewRiskOrderManager(client, book, instruments, reporter, a.cfg.TradeProfile, deps.AuditStore,
		service.RiskOrderConfig{
			TriggerDelay:     a.cfg.Engine.TriggerDelay.Duration,
			CloseConfirmWait: a.cfg.Engine.CloseConfirmWait.Duration,
		}, a.logger)

	orders := service.NewOrderService(client, book, risk, riskOrders, reporter, deps.AuditStore,
		service.OrderConfig{
			FillPollInterval: a.cfg.Engine.FillPollInterval.Duration,
		}, a.logger)

	pnl := service.NewPnLReporter(client, service.PnLConfig{Attempts: a.cfg.Engine.PnLRetries}, a.logger)

	reconciler := service.NewReconciler(client, book, reporter, pnl, deps.Journal,
		service.ReconcilerConfig{
			Interval: a.cfg.Engine.PositionsInterval.Duration,
		}, a.logger)

	exec := executor.NewExecutor(book, instruments, prices, orders, reconciler, a.cfg.TradeProfile,
		deps.LockManager, deps.SignalBus,
		executor.Config{
			MaxConcurrent: a.cfg.Engine.MaxConcurrent,
			DedupCapacity: a.cfg.Engine.DedupCapacity,
			DedupTTL:      a.cfg.Engine.DedupTTL.Duration,
			LockTTL:       a.cfg.Engine.SignalLockTTL.Duration,
			BlackSymbols:  a.cfg.Engine.BlackSymbols,
		}, a.logger)

	a.logger.InfoContext(ctx, "engine ready",
		slog.Int("contracts", instruments.Len()),
		slog.Int("open_positions", book.OpenCount()),
	)

	return &engine{
		client:      client,
		instruments: instruments,
		book:        book,
		prices:      prices,
		riskOrders:  riskOrders,
		orders:      orders,
		reconciler:  reconciler,
		executor:    exec,
		trades:      a.tradeService(deps),
	}, nil
}

// tradeService returns nil when no journal is configured.
func (a *App) tradeService(deps *Dependencies) *service.TradeService {
	if deps.Journal == nil {
		return nil
	}
	return service.NewTradeService(deps.Journal, deps.Archiver, deps.AuditStore, a.logger)
}

// scheduleJobs registers the periodic jobs on a cron scheduler that stops
// with ctx. instruments and trades may be nil.
func (a *App) scheduleJobs(ctx context.Context, g *errgroup.Group, instruments *service.Instruments, trades *service.TradeService) {
	c := cron.New()
	jobs := 0

	if instruments != nil && a.cfg.Engine.InstrumentsCron != "" {
		if _, err := c.AddFunc(a.cfg.Engine.InstrumentsCron, func() {
			if err := instruments.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "scheduler: instruments refresh failed",
					slog.String("error", err.Error()),
				)
			}
		}); err != nil {
			a.logger.WarnContext(ctx, "scheduler: invalid instruments schedule",
				slog.String("schedule", a.cfg.Engine.InstrumentsCron),
				slog.String("error", err.Error()),
			)
		} else {
			jobs++
		}
	}

	if trades != nil && a.cfg.S3.Enabled && a.cfg.Engine.ArchiveCron != "" {
		retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
		if _, err := c.AddFunc(a.cfg.Engine.ArchiveCron, func() {
			if _, err := trades.Archive(ctx, retention); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "scheduler: trade archive failed",
					slog.String("error", err.Error()),
				)
			}
		}); err != nil {
			a.logger.WarnContext(ctx, "scheduler: invalid archive schedule",
				slog.String("schedule", a.cfg.Engine.ArchiveCron),
				slog.String("error", err.Error()),
			)
		} else {
			jobs++
		}
	}

	if jobs == 0 {
		return
	}

	c.Start()
	a.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", jobs))
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		a.logger.Info("scheduler stopped")
		return nil
	})
}

// startHTTPServer wires the API handlers and runs the server until ctx
// ends. eng and trades may be nil; their routes are then left out.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine,
	trades *service.TradeService,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	open, contracts := func() int { return 0 }, func() int { return 0 }
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
	}
	if eng != nil {
		open, contracts = eng.book.OpenCount, eng.instruments.Len
		handlers.Positions = handler.NewPositionHandler(eng.book, eng.riskOrders, a.logger)
		handlers.Signals = handler.NewSignalHandler(eng.executor, a.logger)
	}
	handlers.Status = handler.NewStatusHandler(a.cfg.Mode, startedAt, open, contracts)
	if trades != nil {
		handlers.Trades = handler.NewTradeHandler(trades, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitEvery.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// notify forwards an operator alert, logging delivery failures.
func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, msg string) {
	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
