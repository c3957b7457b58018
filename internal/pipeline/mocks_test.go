package pipeline_test

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/extraction"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// MockRepository is a mock implementation of Repository for testing.
// Without overrides it starts empty and records every commit.
type MockRepository struct {
	LoadPriorStateFunc        func(ctx context.Context, userID string, since civil.Date) (recurrence.PriorState, error)
	CommitStatementFunc       func(ctx context.Context, c *pipeline.Commit) error
	ListStatementsFunc        func(ctx context.Context, userID string) ([]domain.Statement, error)
	ListRecurringPaymentsFunc func(ctx context.Context, userID string) ([]domain.RecurringPayment, error)

	Commits   []*pipeline.Commit
	LastSince civil.Date
}

func (m *MockRepository) LoadPriorState(ctx context.Context, userID string, since civil.Date) (recurrence.PriorState, error) {
	m.LastSince = since
	if m.LoadPriorStateFunc != nil {
		return m.LoadPriorStateFunc(ctx, userID, since)
	}
	return recurrence.PriorState{}, nil
}

func (m *MockRepository) CommitStatement(ctx context.Context, c *pipeline.Commit) error {
	if m.CommitStatementFunc != nil {
		return m.CommitStatementFunc(ctx, c)
	}
	m.Commits = append(m.Commits, c)
	return nil
}

func (m *MockRepository) ListStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	if m.ListStatementsFunc != nil {
		return m.ListStatementsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error) {
	if m.ListRecurringPaymentsFunc != nil {
		return m.ListRecurringPaymentsFunc(ctx, userID)
	}
	return nil, nil
}

// MockStorage is a mock implementation of Storage for testing.
type MockStorage struct {
	FetchFunc func(ctx context.Context, uri string) ([]byte, error)
}

func (m *MockStorage) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, uri)
	}
	return []byte("%PDF-1.4 mock statement"), nil
}

// MockParser is a mock implementation of Parser for testing.
type MockParser struct {
	ParseStatementFunc func(ctx context.Context, pdf []byte) (*extraction.Output, error)
}

func (m *MockParser) ParseStatement(ctx context.Context, pdf []byte) (*extraction.Output, error) {
	if m.ParseStatementFunc != nil {
		return m.ParseStatementFunc(ctx, pdf)
	}
	return &extraction.Output{}, nil
}

var (
	_ pipeline.Repository = (*MockRepository)(nil)
	_ pipeline.Storage    = (*MockStorage)(nil)
	_ pipeline.Parser     = (*MockParser)(nil)
)
