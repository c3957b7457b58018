package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/google/uuid"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d (%s) not started: %w", i+1, step.Name(), err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Storage     Storage // required only for ProcessStatement
	Parser      Parser  // required for ProcessStatement and ProcessUpload
	Repo        Repository
	Detector    *recurrence.Detector
	HistoryDays int

	Now   func() time.Time // defaults to time.Now
	NewID func() string    // defaults to uuid.NewString
}

// Processor runs statements through extraction, detection and persistence.
// Statements of one user are processed one at a time; different users run
// concurrently.
type Processor struct {
	deps  Deps
	locks *userLocks
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps) (*Processor, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("NewProcessor: repository is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("NewProcessor: detector is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Processor{deps: deps, locks: newUserLocks()}, nil
}

// ProcessStatement fetches a statement PDF from storage, e.g.
// "gs://bucket/path/to/statement.pdf", and processes it.
func (p *Processor) ProcessStatement(ctx context.Context, userID, uri string) (*PipelineState, error) {
	if p.deps.Storage == nil || p.deps.Parser == nil {
		return nil, fmt.Errorf("ProcessStatement: storage and parser are required")
	}
	state := &PipelineState{UserID: userID, SourceURI: uri}
	pl := NewPipeline(
		&FetchStatementStep{Storage: p.deps.Storage},
		&IdentifyStatementStep{Now: p.deps.Now},
		&ParseStatementStep{Parser: p.deps.Parser},
		&DecodeTransactionsStep{},
		p.loadPriorStep(),
		&DetectRecurringStep{Detector: p.deps.Detector},
		p.commitStep(),
	)
	return p.run(ctx, pl, state)
}

// ProcessUpload processes PDF bytes that are already in memory. sourceURI
// may be empty when the file was not stored.
func (p *Processor) ProcessUpload(ctx context.Context, userID, filename, sourceURI string, pdf []byte) (*PipelineState, error) {
	if p.deps.Parser == nil {
		return nil, fmt.Errorf("ProcessUpload: parser is required")
	}
	state := &PipelineState{UserID: userID, SourceURI: sourceURI, Filename: filename, PDFBytes: pdf}
	pl := NewPipeline(
		&IdentifyStatementStep{Now: p.deps.Now},
		&ParseStatementStep{Parser: p.deps.Parser},
		&DecodeTransactionsStep{},
		p.loadPriorStep(),
		&DetectRecurringStep{Detector: p.deps.Detector},
		p.commitStep(),
	)
	return p.run(ctx, pl, state)
}

// ProcessTransactions runs detection and persistence over transactions that
// were extracted elsewhere. stmt.ID must be stable across reprocessing.
func (p *Processor) ProcessTransactions(ctx context.Context, stmt domain.Statement, txs []domain.Transaction) (*PipelineState, error) {
	if stmt.ID == "" || stmt.UserID == "" {
		return nil, fmt.Errorf("ProcessTransactions: statement ID and user ID are required")
	}
	owned := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		tx.StatementID = stmt.ID
		tx.UserID = stmt.UserID
		owned[i] = tx
	}
	state := &PipelineState{
		UserID:       stmt.UserID,
		SourceURI:    stmt.SourceURI,
		Filename:     stmt.Filename,
		Statement:    stmt,
		Transactions: owned,
	}
	pl := NewPipeline(
		p.loadPriorStep(),
		&DetectRecurringStep{Detector: p.deps.Detector},
		p.commitStep(),
	)
	return p.run(ctx, pl, state)
}

func (p *Processor) loadPriorStep() PipelineStep {
	return &LoadPriorStateStep{Repo: p.deps.Repo, HistoryDays: p.deps.HistoryDays, Now: p.deps.Now}
}

func (p *Processor) commitStep() PipelineStep {
	return &CommitStep{Repo: p.deps.Repo, Now: p.deps.Now, NewID: p.deps.NewID}
}

func (p *Processor) run(ctx context.Context, pl *Pipeline, state *PipelineState) (*PipelineState, error) {
	log := logger.FromContext(ctx).With().Str("user_id", state.UserID).Logger()
	ctx = logger.WithContext(ctx, log)

	// Loading prior state and committing must not interleave with another
	// statement of the same user.
	unlock, err := p.locks.lock(ctx, state.UserID)
	if err != nil {
		return state, fmt.Errorf("waiting for user %s: %w", state.UserID, err)
	}
	defer unlock()

	start := p.deps.Now()
	if err := pl.Execute(ctx, state); err != nil {
		log.Error().Err(err).Str("source_uri", state.SourceURI).Msg("Statement processing failed")
		return state, err
	}

	log.Info().
		Str("statement_id", state.Statement.ID).
		Int("recurring_payments", len(state.Result.Recurring)).
		Dur("elapsed", p.deps.Now().Sub(start)).
		Msg("Statement processed")
	return state, nil
}
