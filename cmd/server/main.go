package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/maheshalyana/letterflow/internal/api"
	gateway "github.com/maheshalyana/letterflow/internal/api/websocket"
	"github.com/maheshalyana/letterflow/pkg/auth"
	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
	"github.com/maheshalyana/letterflow/pkg/common/config"
	"github.com/maheshalyana/letterflow/pkg/database"
	"github.com/maheshalyana/letterflow/pkg/observability"
	"github.com/maheshalyana/letterflow/pkg/relay"

	// Import PostgreSQL driver
	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", os.Getenv("LETTERFLOW_CONFIG"), "path to config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLoggerWithLevel("server", observability.ParseLogLevel(cfg.LogLevel))

	metricsClient := observability.NewNoopMetricsClient()
	defer func() {
		if err := metricsClient.Close(); err != nil {
			logger.Warn("Failed to close metrics client", map[string]interface{}{"error": err.Error()})
		}
	}()

	db, err := database.New(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}()

	var updateRelay gateway.UpdateRelay
	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Cache.Address, err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close Redis client", map[string]interface{}{"error": err.Error()})
			}
		}()
		r := relay.New(client, logger.WithPrefix("relay"), metricsClient)
		updateRelay = r
		logger.Info("Cross-instance update relay enabled", map[string]interface{}{
			"address":     cfg.Cache.Address,
			"instance_id": r.InstanceID(),
		})
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, db, cfg.Auth.Timeout, logger.WithPrefix("auth"))

	registry := gateway.NewRegistry(db, updateRelay, crdt.NodeID(instanceNode()), cfg.Persistence.FlushTimeout, logger.WithPrefix("registry"), gateway.NewMetricsCollector(metricsClient))
	wsServer := gateway.NewServer(registry, authService, cfg.WebSocket, logger.WithPrefix("websocket"), metricsClient)

	sweeper := gateway.NewSweeper(registry, db, cfg.Persistence.SweepInterval, cfg.Persistence.FlushTimeout, logger.WithPrefix("sweeper"))
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(sweeperCtx)
	}()

	apiServer := api.NewServer(wsServer, db, cfg.API, logger.WithPrefix("api"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", map[string]interface{}{"error": err.Error()})
	}

	// Stop the sweeper last; its shutdown pass flushes whatever the
	// draining sessions have not persisted yet.
	stopSweeper()
	select {
	case <-sweeperDone:
	case <-shutdownCtx.Done():
		logger.Warn("Sweeper did not finish its final pass in time", nil)
	}

	logger.Info("Shutdown complete", nil)
}

// instanceNode identifies this process in vector clocks for edits the server
// itself originates.
func instanceNode() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "server"
	}
	return "server-" + hostname
}
