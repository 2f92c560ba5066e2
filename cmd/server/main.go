package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mcoot/planning-poker/internal/api"
	"github.com/mcoot/planning-poker/internal/factory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("could not load .env file", slog.String("error", envErr.Error()))
	}

	app, err := factory.New(cfg.factoryConfig(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close application", slog.String("error", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewRouter(api.RouterConfig{
		Logger:         logger,
		RoomController: app.RoomController,
		HubManager:     app.HubManager,
		AllowedOrigins: cfg.AllowedOrigins,
	}))

	server := api.NewServer(mux, cfg.Server, logger)
	// Event streams only end when their hubs close
	server.OnShutdown(app.HubManager.Close)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go app.RoomController.RunJanitor(ctx, janitorInterval, cfg.pruneAfter())

	logger.Info("planning poker server",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.StorageType),
		slog.Duration("room_ttl", cfg.RoomTTL),
	)

	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
