// Package main is the entry point for the assistant core API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/apiclient"
	"github.com/eva-ai/platform/internal/auth"
	"github.com/eva-ai/platform/internal/config"
	"github.com/eva-ai/platform/internal/events"
	"github.com/eva-ai/platform/internal/handler"
	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/internal/kv"
	"github.com/eva-ai/platform/internal/llm"
	"github.com/eva-ai/platform/internal/middleware"
	"github.com/eva-ai/platform/pkg/logger"
	"github.com/eva-ai/platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "eva-assistant-core", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the key-value backend shared by credentials and chat history
	store, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open storage backend", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Credentials and backend client
	creds := auth.NewCredentialStore(store, log)
	refresher := auth.NewHTTPRefresher(cfg.AuthRefreshURL, creds)
	backendClient := apiclient.NewClient(apiclient.Config{
		BaseURL:        cfg.BackendBaseURL,
		Timeout:        cfg.BackendTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, creds, refresher, log,
		apiclient.WithAuthFailureHandler(func() {
			log.Warn("authentication lost, clients must re-login",
				zap.String("redirect", cfg.LoginRedirectURL))
		}),
	)

	// Optional NATS event feed
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.Connect(events.Config{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, event feed disabled", zap.Error(err))
		} else {
			defer publisher.Close()
		}
	}

	// Optional LLM client for assistant replies
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		if client, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey); err != nil {
			log.Warn("failed to create Anthropic client, assistant replies disabled", zap.Error(err))
		} else {
			llmClient = client
		}
	} else if cfg.OpenAIAPIKey != "" {
		if client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey); err != nil {
			log.Warn("failed to create OpenAI client, assistant replies disabled", zap.Error(err))
		} else {
			llmClient = client
		}
	}

	// History store
	historyOpts := []history.Option{}
	if publisher != nil {
		historyOpts = append(historyOpts, history.WithEventSink(publisher))
	}
	historySvc := history.NewService(store, log, historyOpts...)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(backendClient, publisher)
	conversationHandler := handler.NewConversationHandler(historySvc, log)
	messageHandler := handler.NewMessageHandler(historySvc, llmClient, log)
	historyHandler := handler.NewHistoryHandler(historySvc, log)
	backendHandler := handler.NewBackendHandler(backendClient, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Post("/bulk-delete", conversationHandler.BulkDelete)
			r.Get("/statistics", conversationHandler.Statistics)
			r.Get("/search", conversationHandler.Search)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Add)
			})
		})

		// Whole-store history operations
		r.Route("/history", func(r chi.Router) {
			r.Get("/export", historyHandler.Export)
			r.Post("/import", historyHandler.Import)
			r.Delete("/", historyHandler.Clear)
		})

		// Upstream backend passthrough
		r.Get("/backend/*", backendHandler.Proxy)
	})

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
			log.Error("server error", zap.Error(err))
			os.Exit(1)
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

func openStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.StorageBackend {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return nil, err
		}
		return kv.NewSQLiteStore(filepath.Join(cfg.StoragePath, "eva.db"))
	default:
		return kv.NewFileStore(cfg.StoragePath)
	}
}
