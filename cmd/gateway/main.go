package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/logging"
	"github.com/pulsegate/backend/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		slog.Error("logging setup failed", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}
