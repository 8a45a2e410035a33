package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/frm-dex/client/internal/config"
	"github.com/coldbell/frm-dex/client/internal/feedserver"
	"github.com/coldbell/frm-dex/client/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadFeedServerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("feed-server", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("feed-server exited with error", "err", err)
		_ = closeLogger()
		os.Exit(1)
	}
	if err := closeLogger(); err != nil {
		bootstrapLogger.Error("failed to close logger", "err", err)
	}
}

func run(cfg config.FeedServerConfig, logger *slog.Logger) error {
	if source, err := config.CurrentConfigSource(); err == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}
	logger.Info("starting feed-server", startupAttrs(cfg)...)

	svc, err := feedserver.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func startupAttrs(cfg config.FeedServerConfig) []any {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return []any{
		"listen_addr", cfg.ListenAddr,
		"db", config.RedactDSN(cfg.DBDSN),
		"push_interval", cfg.PushInterval,
		"allowed_origins", origins,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
	}
}
