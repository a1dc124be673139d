package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/config"
	"wafflebrain/internal/handlers"
	"wafflebrain/internal/ingest"
	"wafflebrain/internal/integrations/gcs"
	"wafflebrain/internal/jobs"
	"wafflebrain/internal/logging"
	"wafflebrain/internal/media"
	"wafflebrain/internal/middleware"
	"wafflebrain/internal/services"
	"wafflebrain/internal/storage"
)

type ServiceBundle struct {
	Config         *config.Config
	Store          *storage.PostgresStore
	Bucket         gcs.Client
	Broker         *services.AnswerBroker
	StatsCollector *jobs.StatsCollector
	Verifier       *auth.Verifier
	SearchHandler  *handlers.SearchHandler
	CaptionHandler *handlers.CaptionHandler
	StarterHandler *handlers.StarterHandler
	CatchupHandler *handlers.CatchupHandler
	WebhookHandler *handlers.WebhookHandler
}

func initializeServices() *ServiceBundle {
	slog.Info("Loading configuration...")

	// Load and validate configuration with retry
	var cfg *config.Config
	for {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid configuration, retrying in 30s", "error", err)
			time.Sleep(30 * time.Second)
			continue
		}
		break
	}

	slog.Info("Initializing services...")

	// Database connection and schema bootstrap with retry
	var store *storage.PostgresStore
	for {
		var err error
		store, err = storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to initialize database, retrying in 30s", "error", err)
			time.Sleep(30 * time.Second)
			continue
		}
		break
	}

	// Media bucket client with retry
	var bucket gcs.Client
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var err error
		bucket, err = gcs.New(ctx, cfg.MediaBucket)
		cancel()
		if err != nil {
			slog.Error("Failed to initialize media bucket client, retrying in 30s", "error", err)
			time.Sleep(30 * time.Second)
			continue
		}
		break
	}

	aiClient := services.NewAIClient(cfg.OpenAIAPIKey, cfg.ChatModel)
	transcoder := media.NewTranscoder(cfg.FFmpegPath, cfg.FFprobePath)

	// Search queries repeat, so they go through the cached embedder.
	// Ingestion and caption chunks are one-shot and embed directly.
	embeddingService := services.NewEmbeddingService(aiClient, cfg.EmbeddingCacheTTL)
	broker := services.NewAnswerBroker(aiClient, cfg.AnswerRetention)

	pipeline := ingest.NewPipeline(store, bucket, transcoder, aiClient, aiClient, aiClient, cfg.WorkDir)

	searchService := services.NewSearchService(store, embeddingService, broker)
	captionService := services.NewCaptionService(store, transcoder, aiClient, aiClient, aiClient)
	starterService := services.NewStarterService(store, aiClient, cfg.StarterThrottle)
	catchupService := services.NewCatchupService(store, aiClient, cfg.CatchupCacheTTL)

	slog.Info("All services initialized successfully")

	return &ServiceBundle{
		Config:         cfg,
		Store:          store,
		Bucket:         bucket,
		Broker:         broker,
		StatsCollector: jobs.NewStatsCollector(store),
		Verifier:       auth.NewVerifier(cfg.AuthJWTSecret),
		SearchHandler:  handlers.NewSearchHandler(searchService, broker),
		CaptionHandler: handlers.NewCaptionHandler(captionService, cfg.WorkDir),
		StarterHandler: handlers.NewStarterHandler(starterService),
		CatchupHandler: handlers.NewCatchupHandler(catchupService),
		WebhookHandler: handlers.NewWebhookHandler(cfg.StorageWebhookSecret, cfg.MediaBucket, pipeline),
	}
}

func main() {
	// Setup structured logging before anything can fail
	boot := config.Load()
	logging.Setup(boot.LogLevel, boot.LogFormat)

	slog.Info("Starting wafflebrain", slog.String("environment", boot.Environment))

	// Initialize all services with retry logic (includes config validation)
	bundle := initializeServices()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background jobs
	go bundle.StatsCollector.Start(ctx)

	// Setup HTTP server with middleware
	router := mux.NewRouter()

	router.Use(middleware.Logging)
	router.Use(middleware.Metrics)

	authRequired := middleware.RequireAuth(bundle.Verifier)
	apiLimit := middleware.APIRateLimit()
	webhookLimit := middleware.WebhookRateLimit()

	// API routes: bearer-authenticated, per-IP rate limited
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(apiLimit)
	apiRouter.Use(authRequired)
	apiRouter.HandleFunc("/search/waffles", bundle.SearchHandler.HandleSearch).Methods("POST")
	apiRouter.HandleFunc("/search/ai-stream/{searchId}", bundle.SearchHandler.HandleAnswerStream).Methods("GET")
	apiRouter.HandleFunc("/catchup/{groupId}", bundle.CatchupHandler.HandleCatchup).Methods("GET")

	// Generation endpoints predate the /api prefix; the mobile client still
	// calls them at the root.
	router.Handle("/generate-captions",
		apiLimit(authRequired(http.HandlerFunc(bundle.CaptionHandler.HandleGenerateCaptions)))).Methods("POST")
	router.Handle("/ai/convo-starter",
		apiLimit(authRequired(http.HandlerFunc(bundle.StarterHandler.HandleConvoStarter)))).Methods("POST")

	// Storage webhook: HMAC-verified in the handler, no bearer token
	router.Handle("/process-full-video",
		webhookLimit(http.HandlerFunc(bundle.WebhookHandler.HandleStorageEvent))).Methods("POST")

	// System routes
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer pingCancel()
		if err := bundle.Store.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:        ":" + bundle.Config.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: answer streams stay open for minutes and webhook
		// ingestion can outlive any fixed cap. Both bound their own work with
		// per-call contexts.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		slog.Info("Server starting", slog.String("port", bundle.Config.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	// Cancel context to stop background jobs
	cancel()
	bundle.StatsCollector.Stop()

	// Shutdown server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := bundle.Store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}

	slog.Info("Server exited gracefully")
}
