package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/filip-herceg/reviewpoint-realtime/internal/adapters/kafka"
	"github.com/filip-herceg/reviewpoint-realtime/internal/api/routes"
	"github.com/filip-herceg/reviewpoint-realtime/internal/config"
	"github.com/filip-herceg/reviewpoint-realtime/internal/database"
	"github.com/filip-herceg/reviewpoint-realtime/internal/services"
	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting real-time gateway")

	// Presence tracking is optional: without Redis the gateway runs
	// standalone and only skips the online/offline bookkeeping.
	var presence websocket.PresenceTracker
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisConnection(&cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		presence = services.NewPresenceService(redisClient)
	}

	hub := websocket.NewHub(&websocket.Config{
		MaxConnectionsPerIdentity: cfg.Gateway.MaxConnectionsPerIdentity,
		MaxTotalConnections:       cfg.Gateway.MaxTotalConnections,
		ConnectionTimeout:         cfg.Gateway.ConnectionTimeout,
		SweepInterval:             cfg.Gateway.SweepInterval,
		RateLimitMaxMessages:      cfg.Gateway.RateLimitMaxMessages,
		RateLimitWindow:           cfg.Gateway.RateLimitWindow,
		MaxFrameSize:              cfg.Gateway.MaxFrameSize,
	}, presence)
	hub.Run()

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	if cfg.Kafka.Enabled {
		bridge := kafka.NewBridge(&cfg.Kafka, hub)
		defer bridge.Close()
		go bridge.Run(bridgeCtx)
	}

	router := routes.NewRouter(hub, cfg)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopBridge()
	hub.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
