package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/frm-dex/client/internal/config"
	"github.com/coldbell/frm-dex/client/internal/logging"
	"github.com/coldbell/frm-dex/client/internal/watcher"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadWatcherConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("watcher", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("watcher exited with error", "err", err)
		_ = closeLogger()
		os.Exit(1)
	}
	if err := closeLogger(); err != nil {
		bootstrapLogger.Error("failed to close logger", "err", err)
	}
}

func run(cfg config.WatcherConfig, logger *slog.Logger) error {
	if source, err := config.CurrentConfigSource(); err == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}
	logger.Info("starting watcher", startupAttrs(cfg)...)

	svc, err := watcher.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

// startupAttrs summarizes what this process will watch.
func startupAttrs(cfg config.WatcherConfig) []any {
	owners := make([]string, 0, len(cfg.Owners))
	for _, owner := range cfg.Owners {
		owners = append(owners, owner.String())
	}
	attrs := []any{
		"rpc", cfg.Chain.RPCURL,
		"commitment", cfg.Chain.Commitment,
		"program", cfg.Chain.DexProgramID.String(),
		"market", cfg.Chain.Market.String(),
		"owners", owners,
		"scan_open_orders", cfg.ScanOpenOrders,
		"poll_interval", cfg.PollInterval,
		"book_depth", cfg.BookDepth,
		"db", config.RedactDSN(cfg.DBDSN),
		"metrics_addr", cfg.MetricsAddr,
	}
	if cfg.SequencerPollEnabled {
		attrs = append(attrs, "sequencer", cfg.SequencerURL, "sequencer_poll_interval", cfg.SequencerPollInterval)
	}
	return attrs
}
