package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	statementsTable   = "statements"
	transactionsTable = "transactions"
	paymentsTable     = "recurring_payments"
	attributionsTable = "attributions"
)

// Repository is the BigQuery implementation of pipeline.Repository. It holds
// a shared BigQuery client to avoid creating a new connection for each
// operation; call Close when done.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ pipeline.Repository = (*Repository)(nil)

// NewRepository creates a repository for projectID.datasetID. credentialsFile
// is optional; when empty, Application Default Credentials are used.
func NewRepository(ctx context.Context, projectID, datasetID, credentialsFile string) (*Repository, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted name of a table.
func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.projectID, r.datasetID, name)
}

// readAll drains a query into rows of type T.
func readAll[T any](ctx context.Context, q *bigquery.Query) ([]*T, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}

	var rows []*T
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

// LoadPriorState implements pipeline.Repository.
func (r *Repository) LoadPriorState(ctx context.Context, userID string, since civil.Date) (recurrence.PriorState, error) {
	var prior recurrence.PriorState

	payments, err := r.ListRecurringPayments(ctx, userID)
	if err != nil {
		return prior, fmt.Errorf("LoadPriorState: %w", err)
	}
	prior.Payments = payments

	q := r.client.Query(fmt.Sprintf(`
		SELECT user_id, normalized_key, transaction_key, statement_id, transaction_date, description, amount
		FROM %s
		WHERE user_id = @user_id
	`, r.table(attributionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}
	attributions, err := readAll[AttributionRow](ctx, q)
	if err != nil {
		return prior, fmt.Errorf("LoadPriorState: attributions: %w", err)
	}
	for _, row := range attributions {
		prior.Attributions = append(prior.Attributions, row.toDomain())
	}

	q = r.client.Query(fmt.Sprintf(`
		SELECT
			t.statement_id,
			t.user_id,
			t.transaction_key,
			t.transaction_date,
			t.description,
			t.amount,
			t.balance,
			t.currency,
			t.category,
			t.is_recurring,
			t.normalized_key
		FROM %s t
		WHERE t.user_id = @user_id
		  AND NOT t.is_recurring
		  AND (@since IS NULL OR t.transaction_date >= @since)
		  AND NOT EXISTS (
			SELECT 1 FROM %s a
			WHERE a.user_id = t.user_id AND a.transaction_key = t.transaction_key
		  )
		ORDER BY t.transaction_date, t.transaction_key
	`, r.table(transactionsTable), r.table(attributionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "since", Value: bigquery.NullDate{Date: since, Valid: since.IsValid()}},
	}
	unmatched, err := readAll[TransactionRow](ctx, q)
	if err != nil {
		return prior, fmt.Errorf("LoadPriorState: unmatched transactions: %w", err)
	}
	for _, row := range unmatched {
		prior.Unmatched = append(prior.Unmatched, row.toDomain())
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("user_id", userID).
		Int("payments", len(prior.Payments)).
		Int("attributions", len(prior.Attributions)).
		Int("unmatched", len(prior.Unmatched)).
		Msg("Loaded prior state from BigQuery")
	return prior, nil
}

// ListStatements implements pipeline.Repository.
func (r *Repository) ListStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT statement_id, user_id, source_uri, filename, checksum, uploaded_ts,
			transaction_count, total_debits, total_credits, period_start, period_end
		FROM %s
		WHERE user_id = @user_id
		ORDER BY uploaded_ts DESC
	`, r.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	rows, err := readAll[StatementRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	out := make([]domain.Statement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListRecurringPayments implements pipeline.Repository.
func (r *Repository) ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			recurring_payment_id,
			user_id,
			normalized_key,
			merchant_name,
			category,
			average_amount,
			total_amount,
			frequency,
			confidence,
			last_payment_date,
			transaction_count,
			created_ts,
			updated_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY normalized_key
	`, r.table(paymentsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	rows, err := readAll[RecurringPaymentRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListRecurringPayments: %w", err)
	}
	out := make([]domain.RecurringPayment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
