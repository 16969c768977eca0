package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/expense-insight/internal/analysis"
	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/api/handlers"
	"github.com/dvloznov/expense-insight/internal/api/middleware"
	"github.com/dvloznov/expense-insight/internal/config"
	"github.com/dvloznov/expense-insight/internal/jobs/inmemory"
	"github.com/dvloznov/expense-insight/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config (or set CONFIG_PATH env)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Initialize logger
	log := logger.NewWithConfig(cfg.Log.Level, cfg.Log.Console)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if cfg.Reports.Bucket == "" {
		log.Warn().Msg("No reports bucket configured - job results will not be archived")
	}
	if cfg.Server.APIToken == "" {
		log.Warn().Msg("No API token configured - endpoints are unauthenticated")
	}

	ctx := logger.WithContext(context.Background(), log)

	svc, source, err := analysis.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger source")
	}
	defer source.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithBackoff(cfg.Jobs.Backoff),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, svc.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	// Initialize handlers
	anomalyHandler := handlers.NewAnomalyHandler(svc, log)
	rcaHandler := handlers.NewRCAHandler(svc, log)
	ledgerHandler := handlers.NewLedgerHandler(svc, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	// Create router
	mux := http.NewServeMux()

	get := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				h(w, r)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})
	}

	// Anomaly endpoints
	get("/api/anomaly/detect", anomalyHandler.Detect)
	get("/api/anomaly/statistical", anomalyHandler.Method(anomaly.MethodStatistical))
	get("/api/anomaly/ml", anomalyHandler.Method(anomaly.MethodML))
	get("/api/anomaly/trends", anomalyHandler.Method(anomaly.MethodTrend))

	// Root cause endpoints
	get("/api/rca", rcaHandler.Pair)
	get("/api/rca/dynamic", rcaHandler.Dynamic)

	// Ledger endpoints
	get("/api/ledger/profile", ledgerHandler.Profile)
	get("/api/ledger/breakdown", ledgerHandler.Breakdown)

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			jobsHandler.ListJobs(w, r)
		case http.MethodPost:
			jobsHandler.Submit(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	get("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(cfg.Server.APIToken, "/health")(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("ledger_source", cfg.Ledger.Source).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
