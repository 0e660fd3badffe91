// Command qmtbot is the entry point for the A-share position monitor. It
// loads and validates configuration, wires dependencies, and either runs
// the bot or performs a one-shot operator action against a running one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/qmtbot/internal/app"
	"github.com/alanyoungcy/qmtbot/internal/config"
	"github.com/alanyoungcy/qmtbot/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "qmtbot",
		Short:         "A-share position monitor with risk exits, grid trading and sell rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot in the configured mode",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBot(cmd.Context(), configPath)
			},
		},
		newConfigCmd(&configPath),
		newCommandCmd(&configPath, "sell", "Sell the whole available position of SYMBOL on the next cycle"),
		newCommandCmd(&configPath, "reset-state", "Clear the durable risk state of SYMBOL"),
		newCommandCmd(&configPath, "reset-rules", "Clear the sell-rule cooldowns and pending orders of SYMBOL"),
		newArchiveCmd(&configPath),
	)
	return root
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := loadConfig(*configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(config.RedactedConfig(cfg))
			},
		},
	)
	return cmd
}

// newCommandCmd publishes an operator command for a running bot.
func newCommandCmd(configPath *string, use, short string) *cobra.Command {
	action := strings.ReplaceAll(use, "-", "_")
	return &cobra.Command{
		Use:   use + " SYMBOL",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a := app.New(cfg, newLogger(cfg))
			defer a.Close()
			return a.PublishCommand(cmd.Context(), domain.Command{
				Action: action,
				Symbol: strings.ToUpper(strings.TrimSpace(args[0])),
			})
		},
	}
}

func newArchiveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "archive [YYYY-MM-DD]",
		Short: "Archive one trading day of trades to object storage (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if len(args) == 1 {
				d, err := time.ParseInLocation("2006-01-02", args[0], domain.Shanghai)
				if err != nil {
					return fmt.Errorf("archive: day must be YYYY-MM-DD: %w", err)
				}
				day = d
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a := app.New(cfg, newLogger(cfg))
			defer a.Close()
			n, err := a.Archive(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d trades for %s\n", n, domain.TradingDay(day).Format("2006-01-02"))
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBot(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("qmtbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("qmtbot stopped")
	return nil
}
