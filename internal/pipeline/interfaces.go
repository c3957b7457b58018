package pipeline

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/extraction"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Storage provides read access to uploaded statement files.
// This interface enables mocking and testing of storage functionality.
type Storage interface {
	// Fetch downloads file bytes from the given storage URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Parser extracts raw transactions from a statement PDF.
type Parser = extraction.StatementParser

// Repository persists statements, transactions and recurring payments.
type Repository interface {
	// LoadPriorState returns the user's recurring payments, all attributions,
	// and transactions never attributed whose date is on or after since.
	// An invalid since means no date limit.
	LoadPriorState(ctx context.Context, userID string, since civil.Date) (recurrence.PriorState, error)

	// CommitStatement atomically writes a processed statement.
	CommitStatement(ctx context.Context, c *Commit) error

	// ListStatements returns the user's statements, newest first.
	ListStatements(ctx context.Context, userID string) ([]domain.Statement, error)

	// ListRecurringPayments returns the user's recurring payments ordered by key.
	ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error)
}

// StatementTransaction is a transaction as stored with its statement.
type StatementTransaction struct {
	domain.Transaction
	IsRecurring   bool
	NormalizedKey string // set when IsRecurring
}

// Commit is everything a single statement pass writes. Repositories apply it
// in one transaction; applying the same Commit twice has no further effect.
type Commit struct {
	Statement    domain.Statement
	Transactions []StatementTransaction
	Created      []domain.RecurringPayment
	Updated      []domain.RecurringPayment
	Attributions []domain.Attribution
}
