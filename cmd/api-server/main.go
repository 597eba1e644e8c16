package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/solpool/internal/apiserver"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/config"
	"github.com/coldbell/solpool/internal/logging"
	"github.com/coldbell/solpool/internal/session"
	"github.com/coldbell/solpool/internal/store"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadAPIServerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("api-server", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := client.NewStack(cfg.Client, logger, false)
	if err != nil {
		logger.Error("failed to initialize client", "err", err)
		os.Exit(1)
	}

	monitor, err := session.NewMonitor(session.MonitorConfig{
		Logger:          logger,
		Reader:          stack.Conn,
		ProgramID:       cfg.Client.ProgramID,
		RefreshInterval: cfg.Client.RefreshInterval,
		Retry:           client.ReadRetry(cfg.Client.ReadRetry),
	})
	if err != nil {
		logger.Error("failed to initialize session monitor", "err", err)
		os.Exit(1)
	}

	deps := apiserver.Deps{
		Client:    stack.Client,
		Monitor:   monitor,
		Confirmer: stack.Conn,
	}
	if cfg.DBDSN != "" {
		st, err := store.New(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("failed to open store", "err", err)
			os.Exit(1)
		}
		deps.Store = st
	} else {
		logger.Warn("API_SERVER_DB_DSN is empty; pool history and submission log are disabled")
	}

	svc, err := apiserver.New(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to initialize api-server service", "err", err)
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error("api-server exited with error", "err", err)
		os.Exit(1)
	}
}
