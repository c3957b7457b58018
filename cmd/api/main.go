package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/api/handlers"
	"github.com/dvloznov/recurring-tracker/internal/api/middleware"
	"github.com/dvloznov/recurring-tracker/internal/app"
	"github.com/dvloznov/recurring-tracker/internal/config"
	"github.com/dvloznov/recurring-tracker/internal/jobs"
	"github.com/dvloznov/recurring-tracker/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (or set RECURRING_CONFIG)")
		port       = flag.Int("port", 0, "HTTP server port (overrides api.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != 0 {
		cfg.API.Port = *port
	}

	// Initialize logger
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid log config")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, app.Options{Extraction: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Uploads are queued when they can be stored, otherwise processed inline.
	var (
		uploader  handlers.Uploader
		publisher jobs.Publisher
	)
	jobQueue, jobStore := a.NewQueue()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if a.GCS != nil {
		uploader, publisher = a.GCS, jobQueue
		if err := jobQueue.Start(workerCtx, a.JobHandler()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads are processed synchronously and not stored")
	}

	statementsHandler := handlers.NewStatementsHandler(a.Repo, uploader, publisher, a.Processor, cfg.Storage.MaxUploadBytes)
	recurringHandler := handlers.NewRecurringHandler(a.Repo)
	jobsHandler := handlers.NewJobsHandler(jobStore)

	handler := middleware.Chain(handlers.NewRouter(statementsHandler, recurringHandler, jobsHandler), log)

	// Create HTTP server
	addr := ":" + strconv.Itoa(cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Worker.JobTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Str("backend", cfg.Store.Backend).Msg("Starting API server")
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

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
