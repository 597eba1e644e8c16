package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/config"
	"github.com/coldbell/solpool/internal/keeper"
	"github.com/coldbell/solpool/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadKeeperConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("keeper", cfg.Log)
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

	stack, err := client.NewStack(cfg.Client, logger, !cfg.DryRun)
	if err != nil {
		logger.Error("failed to initialize client", "err", err)
		os.Exit(1)
	}
	if stack.Wallet != nil {
		logger.Info("keeper wallet loaded", "wallet", stack.Wallet.PublicKey())
	}

	svc, err := keeper.New(keeper.Config{
		Logger:                logger,
		Reader:                stack.Conn,
		Selector:              stack.Client,
		ProgramID:             cfg.Client.ProgramID,
		PollInterval:          cfg.PollInterval,
		MinDepositors:         cfg.MinDepositors,
		MinRewardPoolLamports: cfg.MinRewardPoolLamports,
		SelectionCooldown:     cfg.Client.SelectionCooldown,
		DryRun:                cfg.DryRun,
		ReadRetry:             client.ReadRetry(cfg.Client.ReadRetry),
	})
	if err != nil {
		logger.Error("failed to initialize keeper service", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("keeper exited with error", "err", err)
		os.Exit(1)
	}
}
