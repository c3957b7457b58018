package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/app"
	"github.com/dvloznov/recurring-tracker/internal/config"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/extraction"
	"github.com/dvloznov/recurring-tracker/internal/gcsuploader"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/notionsync"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "detect":
		runDetect(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "summary":
		runSummary(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "sync-notion":
		runSyncNotion(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Recurring Payments CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  detect       Detect recurring payments in an extracted transactions JSON file")
	fmt.Println("  ingest       Extract and process a statement PDF (local file or gs:// URI)")
	fmt.Println("  summary      Print a user's recurring payment summary")
	fmt.Println("  history      List a user's processed statements")
	fmt.Println("  sync-notion  Mirror a user's recurring payments into Notion")
	fmt.Println("  migrate      Apply pending BigQuery schema migrations")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// command holds what every subcommand needs once its flags are parsed.
type command struct {
	cfg *config.Config
	log zerolog.Logger
	ctx context.Context
}

// newFlagSet returns a flag set with the shared --config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file (or set RECURRING_CONFIG)")
	return fs, configPath
}

func setup(configPath string) command {
	cfg, err := config.Load(configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid log config")
	}
	return command{cfg: cfg, log: log, ctx: logger.WithContext(context.Background(), log)}
}

func (c command) app(opts app.Options) *app.App {
	a, err := app.New(c.ctx, c.cfg, opts)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return a
}

func runDetect(args []string) {
	fs, configPath := newFlagSet("detect")
	userID := fs.String("user", "", "User ID (required)")
	file := fs.String("file", "", "Path to a transactions JSON file in the extraction format (required)")
	statementID := fs.String("statement-id", "", "Statement ID (defaults to one derived from the file contents)")
	fs.Parse(args)

	c := setup(*configPath)
	if *userID == "" || *file == "" {
		c.log.Fatal().Msg("Error: --user and --file are required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to read transactions file")
	}
	out, err := extraction.DecodeOutput(string(data))
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to decode transactions file")
	}

	checksum := domain.Checksum(data)
	stmt := domain.Statement{
		ID:       *statementID,
		UserID:   *userID,
		Filename: filepath.Base(*file),
		Checksum: checksum,
	}
	if stmt.ID == "" {
		stmt.ID = domain.StatementIDFor(*userID, checksum)
	}

	a := c.app(app.Options{})
	defer a.Close()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Worker.JobTimeout)
	defer cancel()

	state, err := a.Processor.ProcessTransactions(ctx, stmt, extraction.DecodeTransactions(out, stmt.ID, *userID))
	if err != nil {
		c.log.Fatal().Err(err).Msg("Detection failed")
	}
	printResult(state)
}

func runIngest(args []string) {
	fs, configPath := newFlagSet("ingest")
	userID := fs.String("user", "", "User ID (required)")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the statement PDF")
	file := fs.String("file", "", "Path to a local statement PDF")
	timeout := fs.Duration("timeout", 0, "Per-statement timeout (defaults to worker.job_timeout)")
	fs.Parse(args)

	c := setup(*configPath)
	if *userID == "" || (*gcsURI == "") == (*file == "") {
		c.log.Fatal().Msg("Error: --user and exactly one of --gcs-uri or --file are required")
	}
	if *timeout <= 0 {
		*timeout = c.cfg.Worker.JobTimeout
	}

	a := c.app(app.Options{Extraction: true})
	defer a.Close()

	ctx, cancel := context.WithTimeout(c.ctx, *timeout)
	defer cancel()

	var (
		state *pipeline.PipelineState
		err   error
	)
	if *gcsURI != "" {
		if a.GCS == nil {
			c.log.Fatal().Msg("Error: storage.bucket must be configured to read from GCS")
		}
		c.log.Info().Str("gcs_uri", *gcsURI).Msg("Starting ingestion")
		state, err = a.Processor.ProcessStatement(ctx, *userID, *gcsURI)
	} else {
		state, err = ingestLocal(ctx, a, *userID, *file)
	}
	if err != nil {
		c.log.Fatal().Err(err).Msg("Ingestion failed")
	}
	printResult(state)
}

// ingestLocal validates a local PDF, stores it when a bucket is configured,
// and processes it.
func ingestLocal(ctx context.Context, a *app.App, userID, path string) (*pipeline.PipelineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	filename := filepath.Base(path)
	if err := domain.ValidateUpload(filename, int64(len(data)), a.Config.Storage.MaxUploadBytes); err != nil {
		return nil, err
	}

	var uri string
	if a.GCS != nil {
		objectName := gcsuploader.ObjectName(userID, domain.Checksum(data), filename)
		if uri, err = a.GCS.Upload(ctx, objectName, bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}

	log := logger.FromContext(ctx)
	log.Info().Str("file", path).Str("gcs_uri", uri).Msg("Starting ingestion")
	return a.Processor.ProcessUpload(ctx, userID, filename, uri, data)
}

func runSummary(args []string) {
	fs, configPath := newFlagSet("summary")
	userID := fs.String("user", "", "User ID (required)")
	asJSON := fs.Bool("json", false, "Print the recurring payments as JSON")
	fs.Parse(args)

	c := setup(*configPath)
	if *userID == "" {
		c.log.Fatal().Msg("Error: --user is required")
	}

	a := c.app(app.Options{})
	defer a.Close()

	payments, err := a.Repo.ListRecurringPayments(c.ctx, *userID)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to list recurring payments")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payments); err != nil {
			c.log.Fatal().Err(err).Msg("Failed to encode payments")
		}
		return
	}
	fmt.Print(recurrence.FormatSummary(recurrence.BuildSummary(payments)))
}

func runHistory(args []string) {
	fs, configPath := newFlagSet("history")
	userID := fs.String("user", "", "User ID (required)")
	fs.Parse(args)

	c := setup(*configPath)
	if *userID == "" {
		c.log.Fatal().Msg("Error: --user is required")
	}

	a := c.app(app.Options{})
	defer a.Close()

	statements, err := a.Repo.ListStatements(c.ctx, *userID)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to list statements")
	}

	fmt.Printf("\n=== Statements (%d) ===\n", len(statements))
	for i, s := range statements {
		fmt.Printf("\n%d. %s\n", i+1, s.Filename)
		fmt.Printf("   ID:       %s\n", s.ID)
		fmt.Printf("   Uploaded: %s\n", s.UploadedAt.Format(time.RFC3339))
		if s.SourceURI != "" {
			fmt.Printf("   GCS URI:  %s\n", s.SourceURI)
		}
		fmt.Printf("   Transactions: %d\n", s.TransactionCount)
		fmt.Printf("   Debits:   %s\n", s.TotalDebits.StringFixed(2))
		fmt.Printf("   Credits:  %s\n", s.TotalCredits.StringFixed(2))
		fmt.Printf("   Net flow: %s\n", s.NetFlow().StringFixed(2))
		if s.PeriodStart.IsValid() {
			fmt.Printf("   Period:   %s to %s\n", s.PeriodStart, s.PeriodEnd)
		}
	}
	fmt.Println()
}

func runSyncNotion(args []string) {
	fs, configPath := newFlagSet("sync-notion")
	userID := fs.String("user", "", "User ID (required)")
	dryRun := fs.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	fs.Parse(args)

	c := setup(*configPath)
	if *userID == "" {
		c.log.Fatal().Msg("Error: --user is required")
	}

	a := c.app(app.Options{})
	defer a.Close()

	notionClient, err := a.NotionClient()
	if err != nil {
		c.log.Fatal().Err(err).Msg("Notion is not configured")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Minute)
	defer cancel()

	res, err := notionsync.SyncRecurringPayments(ctx, a.Repo, notionClient, c.cfg.Notion.DatabaseID, *userID, *dryRun)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}

func runMigrate(args []string) {
	fs, configPath := newFlagSet("migrate")
	appliedBy := fs.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	fs.Parse(args)

	c := setup(*configPath)
	if c.cfg.Store.Backend != config.BackendBigQuery {
		c.log.Fatal().Msg("Error: migrations require store.backend=bigquery")
	}

	a := c.app(app.Options{})
	defer a.Close()

	applied, err := a.BigQuery.Migrate(c.ctx, *appliedBy)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Migration failed")
	}
	fmt.Printf("Applied %d migration(s) to %s.%s\n", applied, c.cfg.GCP.ProjectID, c.cfg.GCP.Dataset)
}

func printResult(state *pipeline.PipelineState) {
	res := state.Result
	fmt.Printf("\nStatement %s: %d transaction(s)\n", state.Statement.ID, len(state.Transactions))
	fmt.Printf("Debits: %s, credits: %s, net flow: %s\n",
		state.Statement.TotalDebits.StringFixed(2), state.Statement.TotalCredits.StringFixed(2), state.Statement.NetFlow().StringFixed(2))
	fmt.Printf("Created: %d, updated: %d, attributed: %d\n",
		len(res.Changeset.Created), len(res.Changeset.Updated), len(res.Changeset.Attributions))

	for _, d := range res.Diagnostics {
		fmt.Printf("  ! %s\n", d)
	}

	fmt.Println()
	fmt.Print(recurrence.FormatSummary(recurrence.BuildSummary(res.Recurring)))
}
