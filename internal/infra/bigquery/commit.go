package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
)

// commitScript writes one statement pass in a single multi-statement
// transaction. Every statement is keyed so that rerunning the script with the
// same parameters leaves the tables unchanged.
const commitScript = `
BEGIN TRANSACTION;

MERGE {{statements}} T
USING (SELECT @statement_id AS statement_id) S
ON T.statement_id = S.statement_id
WHEN MATCHED THEN
  UPDATE SET source_uri = NULLIF(@source_uri, ''), filename = NULLIF(@filename, ''),
    transaction_count = @transaction_count,
    total_debits = CAST(@total_debits AS NUMERIC), total_credits = CAST(@total_credits AS NUMERIC),
    period_start = @period_start, period_end = @period_end
WHEN NOT MATCHED THEN
  INSERT (statement_id, user_id, source_uri, filename, checksum, uploaded_ts,
    transaction_count, total_debits, total_credits, period_start, period_end)
  VALUES (@statement_id, @user_id, NULLIF(@source_uri, ''), NULLIF(@filename, ''), @checksum, @uploaded_ts,
    @transaction_count, CAST(@total_debits AS NUMERIC), CAST(@total_credits AS NUMERIC), @period_start, @period_end);

DELETE FROM {{transactions}} WHERE statement_id = @statement_id;

INSERT INTO {{transactions}} (
  statement_id, user_id, transaction_key, transaction_date, description,
  amount, balance, currency, category, is_recurring, normalized_key
)
SELECT
  @statement_id, @user_id, t.transaction_key, t.transaction_date, t.description,
  CAST(t.amount AS NUMERIC), SAFE_CAST(NULLIF(t.balance, '') AS NUMERIC),
  NULLIF(t.currency, ''), NULLIF(t.category, ''), t.is_recurring, NULLIF(t.normalized_key, '')
FROM UNNEST(@transactions) AS t;

MERGE {{recurring_payments}} T
USING UNNEST(@payments) S
ON T.user_id = S.user_id AND T.normalized_key = S.normalized_key
WHEN MATCHED THEN
  UPDATE SET
    merchant_name = S.merchant_name,
    category = NULLIF(S.category, ''),
    average_amount = CAST(S.average_amount AS NUMERIC),
    total_amount = CAST(S.total_amount AS NUMERIC),
    frequency = S.frequency,
    confidence = S.confidence,
    last_payment_date = S.last_payment_date,
    transaction_count = S.transaction_count,
    updated_ts = S.updated_ts
WHEN NOT MATCHED THEN
  INSERT (
    recurring_payment_id, user_id, normalized_key, merchant_name, category,
    average_amount, total_amount, frequency, confidence, last_payment_date,
    transaction_count, created_ts, updated_ts
  )
  VALUES (
    S.recurring_payment_id, S.user_id, S.normalized_key, S.merchant_name, NULLIF(S.category, ''),
    CAST(S.average_amount AS NUMERIC), CAST(S.total_amount AS NUMERIC), S.frequency, S.confidence,
    S.last_payment_date, S.transaction_count, S.created_ts, S.updated_ts
  );

INSERT INTO {{attributions}} (
  user_id, normalized_key, transaction_key, statement_id, transaction_date, description, amount
)
SELECT a.user_id, a.normalized_key, a.transaction_key, a.statement_id, a.transaction_date, a.description,
  CAST(a.amount AS NUMERIC)
FROM UNNEST(@attributions) AS a
WHERE NOT EXISTS (
  SELECT 1 FROM {{attributions}} x
  WHERE x.user_id = a.user_id AND x.transaction_key = a.transaction_key
);

UPDATE {{transactions}} t
SET is_recurring = TRUE, normalized_key = a.normalized_key
FROM UNNEST(@attributions) AS a
WHERE t.user_id = a.user_id AND t.transaction_key = a.transaction_key;

COMMIT TRANSACTION;
`

// renderCommitScript substitutes fully qualified table names.
func (r *Repository) renderCommitScript() string {
	return strings.NewReplacer(
		"{{statements}}", r.table(statementsTable),
		"{{transactions}}", r.table(transactionsTable),
		"{{recurring_payments}}", r.table(paymentsTable),
		"{{attributions}}", r.table(attributionsTable),
	).Replace(commitScript)
}

// commitParameters maps a commit onto the script's named parameters.
func commitParameters(c *pipeline.Commit) []bigquery.QueryParameter {
	txs := make([]transactionParam, 0, len(c.Transactions))
	for _, t := range c.Transactions {
		txs = append(txs, transactionParamFrom(t))
	}
	payments := make([]paymentParam, 0, len(c.Created)+len(c.Updated))
	for _, p := range c.Created {
		payments = append(payments, paymentParamFrom(p))
	}
	for _, p := range c.Updated {
		payments = append(payments, paymentParamFrom(p))
	}
	attributions := make([]attributionParam, 0, len(c.Attributions))
	for _, a := range c.Attributions {
		attributions = append(attributions, attributionParamFrom(a))
	}

	return []bigquery.QueryParameter{
		{Name: "statement_id", Value: c.Statement.ID},
		{Name: "user_id", Value: c.Statement.UserID},
		{Name: "source_uri", Value: c.Statement.SourceURI},
		{Name: "filename", Value: c.Statement.Filename},
		{Name: "checksum", Value: c.Statement.Checksum},
		{Name: "uploaded_ts", Value: c.Statement.UploadedAt},
		{Name: "transaction_count", Value: c.Statement.TransactionCount},
		{Name: "total_debits", Value: c.Statement.TotalDebits.String()},
		{Name: "total_credits", Value: c.Statement.TotalCredits.String()},
		{Name: "period_start", Value: nullDate(c.Statement.PeriodStart)},
		{Name: "period_end", Value: nullDate(c.Statement.PeriodEnd)},
		{Name: "transactions", Value: txs},
		{Name: "payments", Value: payments},
		{Name: "attributions", Value: attributions},
	}
}

// CommitStatement implements pipeline.Repository.
func (r *Repository) CommitStatement(ctx context.Context, c *pipeline.Commit) error {
	q := r.client.Query(r.renderCommitScript())
	q.Parameters = commitParameters(c)

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("CommitStatement: run script: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("CommitStatement: wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("CommitStatement: job error: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("statement_id", c.Statement.ID).
		Str("job_id", job.ID()).
		Int("transactions", len(c.Transactions)).
		Int("payments", len(c.Created)+len(c.Updated)).
		Msg("Commit script finished")
	return nil
}
