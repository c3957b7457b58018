package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/app"
	"github.com/dvloznov/recurring-tracker/internal/config"
	"github.com/dvloznov/recurring-tracker/internal/jobs"
	"github.com/dvloznov/recurring-tracker/internal/logger"
)

// pollInterval is how often the worker checks for finished jobs.
const pollInterval = 500 * time.Millisecond

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (or set RECURRING_CONFIG)")
		input      = flag.String("input", "-", `File of "<user_id> <gs://uri>" lines, "-" for stdin`)
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid log config")
	}

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, app.Options{Extraction: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open input")
		}
		defer f.Close()
		r = f
	}

	requests, err := readRequests(r)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}

	jobQueue, jobStore := a.NewQueue()
	log.Info().Int("statements", len(requests)).Msg("Starting worker service")

	if err := jobQueue.Start(ctx, a.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	var ids []string
	for _, req := range requests {
		job := &jobs.ProcessStatementJob{UserID: req.userID, GCSURI: req.uri}
		if err := jobQueue.PublishProcessStatement(ctx, job); err != nil {
			log.Error().Err(err).Str("gcs_uri", req.uri).Msg("Failed to enqueue statement")
			continue
		}
		ids = append(ids, job.JobID)
	}

	failed := waitForJobs(ctx, jobStore, ids)

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	for _, id := range ids {
		if job, err := jobStore.GetJob(shutdownCtx, id); err == nil {
			fmt.Printf("%s\t%s\t%s\tcreated=%d updated=%d recurring=%d\t%s\n",
				job.Status, job.UserID, job.GCSURI, job.Created, job.Updated, job.Recurring, job.Error)
		}
	}

	log.Info().Int("jobs", len(ids)).Int("failed", failed).Msg("Worker service exited")
	if failed > 0 || len(ids) < len(requests) {
		os.Exit(1)
	}
}

type request struct {
	userID string
	uri    string
}

// readRequests parses "<user_id> <gs://uri>" lines. Blank lines and lines
// starting with # are ignored.
func readRequests(r io.Reader) ([]request, error) {
	var out []request
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<user_id> <gs://uri>\", got %q", n, line)
		}
		out = append(out, request{userID: fields[0], uri: fields[1]})
	}
	return out, sc.Err()
}

// waitForJobs blocks until every job finished or ctx is done and returns the
// number of failed jobs.
func waitForJobs(ctx context.Context, store jobs.JobStore, ids []string) int {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		failed, pending := 0, 0
		for _, id := range ids {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				pending++
				continue
			}
			switch job.Status {
			case jobs.JobStatusCompleted:
			case jobs.JobStatusFailed:
				failed++
			default:
				pending++
			}
		}
		if pending == 0 {
			return failed
		}

		select {
		case <-ctx.Done():
			return failed + pending
		case <-ticker.C:
		}
	}
}
