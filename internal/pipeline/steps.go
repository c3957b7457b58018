package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/extraction"
	"github.com/dvloznov/recurring-tracker/internal/gcsuploader"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/google/uuid"
)

// PipelineStep represents a single step in the statement pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	UserID    string
	SourceURI string
	Filename  string
	PDFBytes  []byte

	Statement    domain.Statement
	ModelOutput  *extraction.Output
	Transactions []domain.Transaction

	Prior  recurrence.PriorState
	Result *recurrence.Result
	Commit *Commit
}

// Step 1: FetchStatementStep fetches the PDF bytes from storage.
type FetchStatementStep struct {
	Storage Storage
}

func (s *FetchStatementStep) Name() string { return "fetch statement" }

func (s *FetchStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.Storage.Fetch(ctx, state.SourceURI)
	if err != nil {
		return err
	}
	state.PDFBytes = data
	if state.Filename == "" {
		state.Filename = gcsuploader.FilenameFromURI(state.SourceURI)
	}
	return nil
}

// Step 2: IdentifyStatementStep derives the statement identity from the file
// checksum, so the same file always maps to the same statement.
type IdentifyStatementStep struct {
	Now func() time.Time
}

func (s *IdentifyStatementStep) Name() string { return "identify statement" }

func (s *IdentifyStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.PDFBytes) == 0 {
		return fmt.Errorf("IdentifyStatementStep: empty statement file")
	}

	checksum := domain.Checksum(state.PDFBytes)
	state.Statement = domain.Statement{
		ID:         domain.StatementIDFor(state.UserID, checksum),
		UserID:     state.UserID,
		SourceURI:  state.SourceURI,
		Filename:   state.Filename,
		Checksum:   checksum,
		UploadedAt: s.Now().UTC(),
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("statement_id", state.Statement.ID).
		Str("checksum", checksum).
		Msg("Statement identified")
	return nil
}

// Step 3: ParseStatementStep calls the statement parser with the PDF.
type ParseStatementStep struct {
	Parser Parser
}

func (s *ParseStatementStep) Name() string { return "parse statement" }

func (s *ParseStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	out, err := s.Parser.ParseStatement(ctx, state.PDFBytes)
	if err != nil {
		return err
	}
	state.ModelOutput = out
	return nil
}

// Step 4: DecodeTransactionsStep turns model output into domain transactions.
type DecodeTransactionsStep struct{}

func (s *DecodeTransactionsStep) Name() string { return "decode transactions" }

func (s *DecodeTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Transactions = extraction.DecodeTransactions(state.ModelOutput, state.Statement.ID, state.UserID)
	log := logger.FromContext(ctx)
	log.Info().
		Str("statement_id", state.Statement.ID).
		Int("transactions", len(state.Transactions)).
		Msg("Transactions decoded")
	return nil
}

// Step 5: LoadPriorStateStep loads the user's existing records, attributions
// and recent unmatched transactions. HistoryDays counts back from the
// earliest dated transaction of the batch; a batch without dates counts
// back from Now.
type LoadPriorStateStep struct {
	Repo        Repository
	HistoryDays int // 0 loads all unmatched history
	Now         func() time.Time
}

func (s *LoadPriorStateStep) Name() string { return "load prior state" }

func (s *LoadPriorStateStep) Execute(ctx context.Context, state *PipelineState) error {
	var since civil.Date
	if s.HistoryDays > 0 {
		anchor, ok := earliestDate(state.Transactions)
		if !ok {
			anchor = civil.DateOf(s.Now())
		}
		since = anchor.AddDays(-s.HistoryDays)
	}

	prior, err := s.Repo.LoadPriorState(ctx, state.UserID, since)
	if err != nil {
		return err
	}
	state.Prior = prior
	return nil
}

func earliestDate(txs []domain.Transaction) (civil.Date, bool) {
	var first civil.Date
	for _, tx := range txs {
		if !tx.Date.IsValid() {
			continue
		}
		if !first.IsValid() || tx.Date.Before(first) {
			first = tx.Date
		}
	}
	return first, first.IsValid()
}

// Step 6: DetectRecurringStep runs recurrence detection over the batch.
type DetectRecurringStep struct {
	Detector *recurrence.Detector
}

func (s *DetectRecurringStep) Name() string { return "detect recurring payments" }

func (s *DetectRecurringStep) Execute(ctx context.Context, state *PipelineState) error {
	batch := recurrence.Batch{UserID: state.UserID, Transactions: state.Transactions}
	state.Result = s.Detector.Detect(ctx, batch, state.Prior)

	log := logger.FromContext(ctx)
	for _, d := range state.Result.Diagnostics {
		log.Info().Str("statement_id", state.Statement.ID).Str("diagnostic", d.String()).Msg("Detection diagnostic")
	}
	return nil
}

// Step 7: CommitStep assigns persistence fields and writes the statement
// and changeset atomically.
type CommitStep struct {
	Repo  Repository
	Now   func() time.Time
	NewID func() string
}

func (s *CommitStep) Name() string { return "commit" }

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	c := BuildCommit(state.Statement, state.Transactions, state.Prior, state.Result, s.Now().UTC(), s.NewID)
	if err := s.Repo.CommitStatement(ctx, c); err != nil {
		return err
	}
	state.Commit = c
	state.Statement = c.Statement

	// Created records now carry their IDs.
	state.Result.Changeset.Created = c.Created
	state.Result.Changeset.Updated = c.Updated
	written := make(map[string]domain.RecurringPayment, len(c.Created)+len(c.Updated))
	for _, p := range append(append([]domain.RecurringPayment{}, c.Created...), c.Updated...) {
		written[p.NormalizedKey] = p
	}
	for i, p := range state.Result.Recurring {
		if w, ok := written[p.NormalizedKey]; ok {
			state.Result.Recurring[i] = w
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("statement_id", state.Statement.ID).
		Int("created", len(c.Created)).
		Int("updated", len(c.Updated)).
		Int("attributions", len(c.Attributions)).
		Msg("Statement committed")
	return nil
}

// BuildCommit assembles the write set of one statement pass. New records get
// an ID from newID; timestamps are set to now. The statement figures are
// tallied over the transactions that are stored.
func BuildCommit(
	stmt domain.Statement,
	txs []domain.Transaction,
	prior recurrence.PriorState,
	res *recurrence.Result,
	now time.Time,
	newID func() string,
) *Commit {
	if newID == nil {
		newID = uuid.NewString
	}

	keys := make(map[string]string)
	for _, a := range prior.Attributions {
		keys[a.TransactionID.String()] = a.NormalizedKey
	}
	for id, key := range res.Changeset.AttributedIDs() {
		keys[id] = key
	}

	c := &Commit{
		Statement:    stmt,
		Attributions: res.Changeset.Attributions,
	}

	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if len(tx.MissingFields()) > 0 {
			continue
		}
		id := tx.ID().String()
		if seen[id] {
			continue
		}
		seen[id] = true

		key, ok := keys[id]
		c.Transactions = append(c.Transactions, StatementTransaction{
			Transaction:   tx,
			IsRecurring:   ok,
			NormalizedKey: key,
		})
	}

	stored := make([]domain.Transaction, len(c.Transactions))
	for i, st := range c.Transactions {
		stored[i] = st.Transaction
	}
	c.Statement.Tally(stored)

	for _, p := range res.Changeset.Created {
		p.ID = newID()
		p.CreatedAt = now
		p.UpdatedAt = now
		c.Created = append(c.Created, p)
	}
	for _, p := range res.Changeset.Updated {
		p.UpdatedAt = now
		c.Updated = append(c.Updated, p)
	}
	return c
}
