// Package app wires configuration into the collaborators shared by the
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/recurring-tracker/internal/config"
	"github.com/dvloznov/recurring-tracker/internal/extraction"
	"github.com/dvloznov/recurring-tracker/internal/gcsuploader"
	infraBQ "github.com/dvloznov/recurring-tracker/internal/infra/bigquery"
	"github.com/dvloznov/recurring-tracker/internal/infra/filestore"
	"github.com/dvloznov/recurring-tracker/internal/jobs"
	"github.com/dvloznov/recurring-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/notionsync"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// App holds the long-lived clients of a binary. Close releases them.
type App struct {
	Config    *config.Config
	Repo      pipeline.Repository
	BigQuery  *infraBQ.Repository // nil for the file backend
	GCS       *gcsuploader.Client // nil without a bucket
	Processor *pipeline.Processor

	closers []func() error
}

// Options select which optional clients New creates.
type Options struct {
	// Extraction creates the Gemini parser, required to process PDFs.
	Extraction bool
}

// New builds the repository, storage and processor from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}

	switch cfg.Store.Backend {
	case config.BackendBigQuery:
		repo, err := infraBQ.NewRepository(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset, cfg.GCP.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Repo, a.BigQuery = repo, repo
		a.closers = append(a.closers, repo.Close)
	case config.BackendFile:
		store, err := filestore.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Repo = store
	default:
		return nil, fmt.Errorf("app.New: unknown store backend %q", cfg.Store.Backend)
	}
	log.Debug().Str("backend", cfg.Store.Backend).Msg("Repository ready")

	deps := pipeline.Deps{
		Repo:        a.Repo,
		HistoryDays: cfg.Recurrence.HistoryDays,
	}

	detector, err := recurrence.NewDetector(cfg.RecurrencePolicy())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	deps.Detector = detector

	if cfg.Storage.Bucket != "" {
		gcs, err := gcsuploader.NewClient(ctx, cfg.Storage.Bucket, cfg.GCP.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.GCS = gcs
		a.closers = append(a.closers, gcs.Close)
		deps.Storage = gcs
	}

	if opts.Extraction {
		parser, err := extraction.NewGeminiParser(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		deps.Parser = parser
	}

	a.Processor, err = pipeline.NewProcessor(deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	return a, nil
}

// NewQueue creates a job queue and store sized from the worker config.
func (a *App) NewQueue() (*inmemory.Queue, *inmemory.Store) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(inmemory.QueueConfig{
		Workers:    a.Config.Worker.Count,
		BufferSize: a.Config.Worker.QueueSize,
		MaxRetries: a.Config.Worker.MaxRetries,
	}, store)
	return queue, store
}

// JobHandler returns the handler that runs statement jobs through the processor.
func (a *App) JobHandler() jobs.JobHandler {
	return jobs.NewProcessStatementHandler(a.Processor, a.Config.Worker.JobTimeout)
}

// NotionClient returns a Notion client, or an error when Notion is not configured.
func (a *App) NotionClient() (*notionsync.NotionClient, error) {
	if a.Config.Notion.Token == "" || a.Config.Notion.DatabaseID == "" {
		return nil, fmt.Errorf("notion.token and notion.database_id are required")
	}
	return notionsync.NewNotionClient(a.Config.Notion.Token), nil
}

// Close releases all clients.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
