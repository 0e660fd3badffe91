package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/qmtbot/internal/executor"
	"github.com/alanyoungcy/qmtbot/internal/grid"
	"github.com/alanyoungcy/qmtbot/internal/ledger"
	"github.com/alanyoungcy/qmtbot/internal/monitor"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
	"github.com/alanyoungcy/qmtbot/internal/server"
	"github.com/alanyoungcy/qmtbot/internal/server/handler"
	"github.com/alanyoungcy/qmtbot/internal/server/ws"
)

// core is the trading pipeline shared by every mode.
type core struct {
	ledger   *ledger.Ledger
	executor *executor.Executor
	monitor  *monitor.Monitor
}

// buildCore assembles ledger, engines, executor and monitor on top of deps
// and restores durable position state from the previous run.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	riskCfg := a.cfg.RiskSettings()

	l := ledger.New(deps.Broker, deps.PositionStore, riskCfg, a.cfg.LedgerSettings(), a.logger,
		ledger.WithGridStore(deps.GridStore),
	)
	if err := l.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	rules := sellrule.NewEngine(a.cfg.SellRuleSettings(), a.logger)
	exec := executor.New(deps.Broker, l, rules, a.cfg.ExecutorSettings(), a.logger,
		executor.WithTradeStore(deps.Trades),
		executor.WithAuditStore(deps.AuditStore),
		executor.WithRateLimiter(deps.RateLimiter),
		executor.WithNotifier(deps.Notifier),
	)
	mon := monitor.New(l, deps.Quotes, grid.NewEngine(a.cfg.GridSettings(), a.logger), rules, exec,
		riskCfg, a.cfg.MonitorSettings(), a.logger,
		monitor.WithLockManager(deps.LockManager),
		monitor.WithSignalBus(deps.SignalBus),
	)
	return &core{ledger: l, executor: exec, monitor: mon}, nil
}

// MonitorMode runs the monitoring loop headless: no API server.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps, c)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the monitoring loop together with the HTTP API and the
// websocket relay.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	} else {
		a.logger.WarnContext(ctx, "app: server disabled, running without API")
	}
	return ignoreCanceled(g.Wait())
}

func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error {
		return c.monitor.Run(ctx)
	})
	g.Go(func() error {
		return c.monitor.ListenCommands(ctx)
	})
	hour, minute, err := a.cfg.ArchiveClock()
	if err != nil {
		// Unreachable after Validate.
		a.logger.ErrorContext(ctx, "app: close-of-day job disabled", slog.String("error", err.Error()))
		return
	}
	job := newCloseOfDay(deps.Trades, deps.Notifier, hour, minute, a.logger)
	g.Go(func() error {
		return job.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
		Positions: func() int { return len(c.ledger.Snapshots()) },
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(a.cfg.ServerSettings(), server.Handlers{
		Health:    handler.NewHealthHandler(a.logger, deps.HealthChecks...),
		Positions: handler.NewPositionHandler(c.ledger, a.logger),
		Trades:    handler.NewTradeHandler(deps.Trades, a.logger),
		Commands:  handler.NewCommandHandler(c.monitor, c.executor, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt, c.monitor),
		Signals:   handler.NewSignalHandler(deps.SignalBus, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "app: http server listening",
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ignoreCanceled treats a context cancellation as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
