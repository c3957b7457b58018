package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// Store is a pipeline.Repository backed by a single JSON snapshot file.
// Every commit rewrites the file through a temp file and a rename, so a
// crash never leaves a half-written snapshot. Commits are serialized.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ pipeline.Repository = (*Store)(nil)

// New creates a store at path. The file is created on the first commit.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore.New: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore.New: creating directory: %w", err)
	}
	return &Store{path: path}, nil
}

// LoadSnapshot reads the snapshot at path. A missing file yields an empty snapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("LoadSnapshot: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("LoadSnapshot: decoding %s: %w", path, err)
	}
	return snap, nil
}

// SaveSnapshot writes snap to path+".tmp" and renames it over path.
func SaveSnapshot(path string, snap Snapshot, now time.Time) error {
	snap.Meta = Meta{Storage: "json_snapshot", Version: snapshotVersion, SavedAt: now.UTC()}
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("SaveSnapshot: creating temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("SaveSnapshot: encoding: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("SaveSnapshot: closing temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("SaveSnapshot: renaming: %w", err)
	}
	return nil
}

// LoadPriorState implements pipeline.Repository.
func (s *Store) LoadPriorState(ctx context.Context, userID string, since civil.Date) (recurrence.PriorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prior recurrence.PriorState
	snap, err := LoadSnapshot(s.path)
	if err != nil {
		return prior, fmt.Errorf("LoadPriorState: %w", err)
	}

	attributed := make(map[string]bool)
	for _, a := range snap.Attributions {
		if a.UserID != userID {
			continue
		}
		attr := a.toDomain()
		prior.Attributions = append(prior.Attributions, attr)
		attributed[attr.TransactionID.String()] = true
	}

	for _, p := range snap.Payments {
		if p.UserID == userID {
			prior.Payments = append(prior.Payments, p.toDomain())
		}
	}
	sortPayments(prior.Payments)

	for _, t := range snap.Transactions {
		if t.UserID != userID || t.IsRecurring || attributed[t.id().String()] {
			continue
		}
		if since.IsValid() && t.Date.Before(since) {
			continue
		}
		prior.Unmatched = append(prior.Unmatched, t.toDomain())
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("user_id", userID).
		Int("payments", len(prior.Payments)).
		Int("attributions", len(prior.Attributions)).
		Int("unmatched", len(prior.Unmatched)).
		Msg("Loaded prior state from snapshot")
	return prior, nil
}

// CommitStatement implements pipeline.Repository.
func (s *Store) CommitStatement(ctx context.Context, c *pipeline.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := LoadSnapshot(s.path)
	if err != nil {
		return fmt.Errorf("CommitStatement: %w", err)
	}

	applyCommit(&snap, c)

	if err := SaveSnapshot(s.path, snap, time.Now()); err != nil {
		return fmt.Errorf("CommitStatement: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("statement_id", c.Statement.ID).
		Str("path", s.path).
		Msg("Snapshot written")
	return nil
}

// applyCommit mutates snap. Applying the same commit again is a no-op.
func applyCommit(snap *Snapshot, c *pipeline.Commit) {
	stmt := statementRecordFrom(c.Statement)
	replaced := false
	for i, existing := range snap.Statements {
		if existing.ID == stmt.ID {
			stmt.UploadedAt = existing.UploadedAt
			snap.Statements[i] = stmt
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Statements = append(snap.Statements, stmt)
	}

	kept := snap.Transactions[:0]
	for _, t := range snap.Transactions {
		if t.StatementID != c.Statement.ID {
			kept = append(kept, t)
		}
	}
	snap.Transactions = kept
	for _, t := range c.Transactions {
		snap.Transactions = append(snap.Transactions, transactionRecordFrom(t))
	}

	for _, p := range append(append([]domain.RecurringPayment{}, c.Created...), c.Updated...) {
		rec := paymentRecordFrom(p)
		found := false
		for i, existing := range snap.Payments {
			if existing.UserID == rec.UserID && existing.NormalizedKey == rec.NormalizedKey {
				rec.ID = existing.ID
				rec.CreatedAt = existing.CreatedAt
				snap.Payments[i] = rec
				found = true
				break
			}
		}
		if !found {
			snap.Payments = append(snap.Payments, rec)
		}
	}

	attributed := make(map[string]bool, len(snap.Attributions))
	for _, a := range snap.Attributions {
		attributed[a.toDomain().TransactionID.String()] = true
	}
	keys := make(map[string]string)
	for _, a := range c.Attributions {
		id := a.TransactionID.String()
		keys[id] = a.NormalizedKey
		if attributed[id] {
			continue
		}
		attributed[id] = true
		snap.Attributions = append(snap.Attributions, attributionRecordFrom(a))
	}

	// Earlier statements' transactions can be attributed by this pass.
	for i, t := range snap.Transactions {
		if key, ok := keys[t.id().String()]; ok {
			snap.Transactions[i].IsRecurring = true
			snap.Transactions[i].NormalizedKey = key
		}
	}
}

// ListStatements implements pipeline.Repository.
func (s *Store) ListStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := LoadSnapshot(s.path)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}

	var out []domain.Statement
	for _, r := range snap.Statements {
		if r.UserID == userID {
			out = append(out, r.toDomain())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// ListRecurringPayments implements pipeline.Repository.
func (s *Store) ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := LoadSnapshot(s.path)
	if err != nil {
		return nil, fmt.Errorf("ListRecurringPayments: %w", err)
	}

	var out []domain.RecurringPayment
	for _, r := range snap.Payments {
		if r.UserID == userID {
			out = append(out, r.toDomain())
		}
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(ps []domain.RecurringPayment) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].NormalizedKey < ps[j].NormalizedKey })
}
