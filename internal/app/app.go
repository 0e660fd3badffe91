// Package app provides the top-level application lifecycle for the trading
// bot. It wires together the stores, caches, quote source, broker and
// notifications, and starts the goroutines required by the configured
// operating mode.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/config"
	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// PublishCommand sends an operator command to a running bot over the
// command channel. The bot applies it at the start of its next cycle.
func (a *App) PublishCommand(ctx context.Context, cmd domain.Command) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("app: encode command: %w", err)
	}
	if err := deps.SignalBus.Publish(ctx, domain.ChannelCommands, payload); err != nil {
		return fmt.Errorf("app: publish command: %w", err)
	}
	a.logger.InfoContext(ctx, "app: command published",
		slog.String("action", cmd.Action),
		slog.String("symbol", cmd.Symbol),
	)
	return nil
}

// Archive copies the trades of the Shanghai trading day containing day to
// object storage and returns how many were written.
func (a *App) Archive(ctx context.Context, day time.Time) (int64, error) {
	if !a.cfg.S3.Enabled {
		return 0, fmt.Errorf("app: archive: s3 is not enabled")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	return deps.Trades.ArchiveDay(ctx, day)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}
