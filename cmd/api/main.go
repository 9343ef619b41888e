// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/auth"
	"github.com/pawpal/conversation-service/internal/config"
	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/handler"
	natsclient "github.com/pawpal/conversation-service/internal/nats"
	"github.com/pawpal/conversation-service/internal/presence"
	"github.com/pawpal/conversation-service/internal/realtime"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/internal/store"
	"github.com/pawpal/conversation-service/internal/store/memory"
	mongostore "github.com/pawpal/conversation-service/internal/store/mongo"
	"github.com/pawpal/conversation-service/internal/subscription"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/tracing"
)

const serviceName = "pawpal-conversation-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("bus_driver", cfg.BusDriver),
	)

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	readiness := map[string]handler.Check{}

	// Message store and user directory
	messageStore, directory, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	readiness["store"] = messageStore.Ping

	// Event bus
	bus, closeBus, busReady, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()
	readiness["bus"] = busReady

	// Services
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, directory)
	messageSvc := service.NewMessageService(messageStore, directory, bus, log)
	conversationSvc := service.NewConversationService(messageStore, directory, log)

	// Push channel
	hub := realtime.NewHub(messageSvc, directory, verifier, presence.NewRegistry(), bus, realtime.Options{
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)
	if err := hub.Start(); err != nil {
		return fmt.Errorf("failed to start realtime hub: %w", err)
	}
	defer hub.Close()

	// Pull channel subscriptions
	broker := subscription.NewBroker(bus, cfg.WSSendBuffer, log)
	if err := broker.Start(); err != nil {
		return fmt.Errorf("failed to start subscription broker: %w", err)
	}
	defer broker.Close()

	router := handler.NewRouter(handler.RouterConfig{
		Logger:            log,
		Verifier:          verifier,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Health:            handler.NewHealthHandler(readiness),
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, log),
		Streams:           handler.NewStreamHandler(broker, cfg.SSEHeartbeatInterval, log),
		WebSocket:         hub.ServeWS,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.MessageStore, users.Directory, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		directory := users.NewMemoryDirectory()
		if cfg.DevUsersFile != "" {
			loaded, err := users.LoadMemoryDirectory(cfg.DevUsersFile)
			if err != nil {
				return nil, nil, nil, err
			}
			directory = loaded
		}
		log.Warn("using in-memory message store, data is lost on restart")
		return memory.NewMessageStore(), directory, func() {}, nil
	}

	db, err := mongostore.NewDB(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	closeDB := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			log.Warn("failed to disconnect from MongoDB", zap.Error(err))
		}
	}

	messageStore := mongostore.NewMessageStore(db)
	if err := messageStore.EnsureIndexes(ctx); err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	return messageStore, users.NewMongoDirectory(db), closeDB, nil
}

func openBus(ctx context.Context, cfg *config.Config, log *logger.Logger) (events.Bus, func(), handler.Check, error) {
	if cfg.BusDriver == config.DriverMemory {
		return events.NewLocalBus(log), func() {}, func(context.Context) error { return nil }, nil
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     serviceName,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}

	// Ensure JetStream stream exists
	bus := natsclient.NewBus(natsClient)
	if err := bus.EnsureStream(ctx); err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return bus, natsClient.Close, natsClient.Ping, nil
}
