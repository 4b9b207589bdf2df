// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/config"
	"github.com/localcity-market/messaging/internal/database"
	"github.com/localcity-market/messaging/internal/handler"
	natsclient "github.com/localcity-market/messaging/internal/nats"
	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/internal/redisbus"
	"github.com/localcity-market/messaging/internal/service"
	"github.com/localcity-market/messaging/internal/store"
	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Service:     "localcity-messaging",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server",
		zap.String("env", cfg.Environment),
		zap.String("fanout", cfg.FanoutBackend),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "localcity-messaging", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open database
	db, err := database.Open(database.Config{
		Driver:   cfg.DatabaseDriver,
		URL:      cfg.DatabaseURL,
		LogLevel: cfg.DatabaseLogLevel,
	})
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	conversationStore := store.NewConversationStore(db)
	messageStore := store.NewMessageStore(db)
	userDirectory := store.NewUserDirectory(db)

	hub := realtime.NewHub(cfg.WSSendBuffer, log.Named("hub"))
	checks := map[string]handler.Pinger{"database": conversationStore}

	// Room events go through a relay when more than one instance serves clients.
	var emitter service.Emitter = hub
	switch cfg.FanoutBackend {
	case config.FanoutNATS:
		natsClient, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		relay := natsclient.NewRelay(natsClient, cfg.NATSSubjectPrefix, hub, log)
		if err := relay.Start(); err != nil {
			log.Fatal("failed to start NATS relay", zap.Error(err))
		}
		defer relay.Close()

		emitter = relay
		checks["nats"] = natsClient

	case config.FanoutRedis:
		rdb, err := redisbus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()

		relay := redisbus.NewRelay(rdb, cfg.RedisChannelPrefix, hub, log)
		if err := relay.Start(ctx); err != nil {
			log.Fatal("failed to start Redis relay", zap.Error(err))
		}
		defer relay.Close()

		emitter = relay
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})

	case config.FanoutLocal:
	default:
		log.Fatal("unknown fan-out backend", zap.String("backend", cfg.FanoutBackend))
	}

	// Initialize services
	resolver := service.NewResolver(conversationStore, messageStore, userDirectory, emitter, log.Named("resolver"))
	messagingSvc := service.NewMessagingService(resolver, conversationStore, messageStore, userDirectory, emitter, log.Named("messaging"))

	// Create router
	r := handler.NewRouter(handler.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
	}, handler.Handlers{
		Health:        handler.NewHealthHandler(checks),
		Conversations: handler.NewConversationHandler(messagingSvc, log),
		Messages:      handler.NewMessageHandler(messagingSvc, log),
		Stream:        handler.NewStreamHandler(hub, cfg.SSEHeartbeat, log),
		WS:            handler.NewWSHandler(hub, cfg.JWTSecret, cfg.WSOriginPatterns, cfg.WSPingInterval, log),
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
