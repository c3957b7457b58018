package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/shopspring/decimal"
)

// numericScale is the fractional precision of BigQuery NUMERIC.
const numericScale = 9

type StatementRow struct {
	StatementID string              `bigquery:"statement_id"` // REQUIRED
	UserID      string              `bigquery:"user_id"`      // REQUIRED
	SourceURI   bigquery.NullString `bigquery:"source_uri"`   // NULLABLE
	Filename    bigquery.NullString `bigquery:"filename"`     // NULLABLE
	Checksum    string              `bigquery:"checksum"`     // REQUIRED
	UploadedTS  time.Time           `bigquery:"uploaded_ts"`  // REQUIRED

	TransactionCount bigquery.NullInt64 `bigquery:"transaction_count"`
	TotalDebits      *big.Rat           `bigquery:"total_debits"`  // NULLABLE NUMERIC
	TotalCredits     *big.Rat           `bigquery:"total_credits"` // NULLABLE NUMERIC
	PeriodStart      bigquery.NullDate  `bigquery:"period_start"`
	PeriodEnd        bigquery.NullDate  `bigquery:"period_end"`
}

type TransactionRow struct {
	StatementID    string     `bigquery:"statement_id"`    // REQUIRED
	UserID         string     `bigquery:"user_id"`         // REQUIRED
	TransactionKey string     `bigquery:"transaction_key"` // REQUIRED, domain.TransactionID.String()
	Date           civil.Date `bigquery:"transaction_date"`

	Description string   `bigquery:"description"`
	Amount      *big.Rat `bigquery:"amount"`  // REQUIRED NUMERIC
	Balance     *big.Rat `bigquery:"balance"` // NULLABLE NUMERIC

	Currency bigquery.NullString `bigquery:"currency"`
	Category bigquery.NullString `bigquery:"category"`

	IsRecurring   bool                `bigquery:"is_recurring"`
	NormalizedKey bigquery.NullString `bigquery:"normalized_key"`
}

type RecurringPaymentRow struct {
	PaymentID     string              `bigquery:"recurring_payment_id"` // REQUIRED
	UserID        string              `bigquery:"user_id"`              // REQUIRED
	NormalizedKey string              `bigquery:"normalized_key"`       // REQUIRED, unique per user
	MerchantName  string              `bigquery:"merchant_name"`
	Category      bigquery.NullString `bigquery:"category"`

	AverageAmount *big.Rat `bigquery:"average_amount"` // NUMERIC
	TotalAmount   *big.Rat `bigquery:"total_amount"`   // NUMERIC

	Frequency        string     `bigquery:"frequency"`
	Confidence       float64    `bigquery:"confidence"`
	LastPaymentDate  civil.Date `bigquery:"last_payment_date"`
	TransactionCount int64      `bigquery:"transaction_count"`

	CreatedTS time.Time `bigquery:"created_ts"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

type AttributionRow struct {
	UserID         string     `bigquery:"user_id"`
	NormalizedKey  string     `bigquery:"normalized_key"`
	TransactionKey string     `bigquery:"transaction_key"`
	StatementID    string     `bigquery:"statement_id"`
	Date           civil.Date `bigquery:"transaction_date"`
	Description    string     `bigquery:"description"`
	Amount         *big.Rat   `bigquery:"amount"`
}

// Query parameter shapes. Amounts travel as strings and are cast to NUMERIC
// inside the script; an empty string means NULL.

type transactionParam struct {
	TransactionKey string     `bigquery:"transaction_key"`
	Date           civil.Date `bigquery:"transaction_date"`
	Description    string     `bigquery:"description"`
	Amount         string     `bigquery:"amount"`
	Balance        string     `bigquery:"balance"`
	Currency       string     `bigquery:"currency"`
	Category       string     `bigquery:"category"`
	IsRecurring    bool       `bigquery:"is_recurring"`
	NormalizedKey  string     `bigquery:"normalized_key"`
}

type paymentParam struct {
	PaymentID        string     `bigquery:"recurring_payment_id"`
	UserID           string     `bigquery:"user_id"`
	NormalizedKey    string     `bigquery:"normalized_key"`
	MerchantName     string     `bigquery:"merchant_name"`
	Category         string     `bigquery:"category"`
	AverageAmount    string     `bigquery:"average_amount"`
	TotalAmount      string     `bigquery:"total_amount"`
	Frequency        string     `bigquery:"frequency"`
	Confidence       float64    `bigquery:"confidence"`
	LastPaymentDate  civil.Date `bigquery:"last_payment_date"`
	TransactionCount int64      `bigquery:"transaction_count"`
	CreatedTS        time.Time  `bigquery:"created_ts"`
	UpdatedTS        time.Time  `bigquery:"updated_ts"`
}

type attributionParam struct {
	UserID         string     `bigquery:"user_id"`
	NormalizedKey  string     `bigquery:"normalized_key"`
	TransactionKey string     `bigquery:"transaction_key"`
	StatementID    string     `bigquery:"statement_id"`
	Date           civil.Date `bigquery:"transaction_date"`
	Description    string     `bigquery:"description"`
	Amount         string     `bigquery:"amount"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullDate(d civil.Date) bigquery.NullDate {
	return bigquery.NullDate{Date: d, Valid: d.IsValid()}
}

func decimalFromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.RequireFromString(r.FloatString(numericScale))
}

func nullDecimalFromRat(r *big.Rat) decimal.NullDecimal {
	if r == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimalFromRat(r))
}

func (r *StatementRow) toDomain() domain.Statement {
	return domain.Statement{
		ID:         r.StatementID,
		UserID:     r.UserID,
		SourceURI:  r.SourceURI.StringVal,
		Filename:   r.Filename.StringVal,
		Checksum:   r.Checksum,
		UploadedAt: r.UploadedTS,

		TransactionCount: r.TransactionCount.Int64,
		TotalDebits:      decimalFromRat(r.TotalDebits),
		TotalCredits:     decimalFromRat(r.TotalCredits),
		PeriodStart:      r.PeriodStart.Date,
		PeriodEnd:        r.PeriodEnd.Date,
	}
}

func (r *TransactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		StatementID: r.StatementID,
		UserID:      r.UserID,
		Date:        r.Date,
		Description: r.Description,
		Amount:      nullDecimalFromRat(r.Amount),
		Balance:     nullDecimalFromRat(r.Balance),
		Currency:    r.Currency.StringVal,
		Category:    r.Category.StringVal,
	}
}

func (r *RecurringPaymentRow) toDomain() domain.RecurringPayment {
	return domain.RecurringPayment{
		ID:               r.PaymentID,
		UserID:           r.UserID,
		NormalizedKey:    r.NormalizedKey,
		MerchantName:     r.MerchantName,
		Category:         r.Category.StringVal,
		AverageAmount:    decimalFromRat(r.AverageAmount),
		TotalAmount:      decimalFromRat(r.TotalAmount),
		Frequency:        domain.ParseFrequency(r.Frequency),
		Confidence:       r.Confidence,
		LastPaymentDate:  r.LastPaymentDate,
		TransactionCount: r.TransactionCount,
		CreatedAt:        r.CreatedTS,
		UpdatedAt:        r.UpdatedTS,
	}
}

func (r *AttributionRow) toDomain() domain.Attribution {
	return domain.Attribution{
		TransactionID: domain.TransactionID{
			StatementID: r.StatementID,
			Date:        r.Date,
			Description: r.Description,
			Amount:      decimalFromRat(r.Amount),
		},
		UserID:        r.UserID,
		NormalizedKey: r.NormalizedKey,
	}
}

func transactionParamFrom(t pipeline.StatementTransaction) transactionParam {
	p := transactionParam{
		TransactionKey: t.ID().String(),
		Date:           t.Date,
		Description:    t.Description,
		Amount:         t.Amount.Decimal.String(),
		Currency:       t.Currency,
		Category:       t.Category,
		IsRecurring:    t.IsRecurring,
		NormalizedKey:  t.NormalizedKey,
	}
	if t.Balance.Valid {
		p.Balance = t.Balance.Decimal.String()
	}
	return p
}

func paymentParamFrom(p domain.RecurringPayment) paymentParam {
	return paymentParam{
		PaymentID:        p.ID,
		UserID:           p.UserID,
		NormalizedKey:    p.NormalizedKey,
		MerchantName:     p.MerchantName,
		Category:         p.Category,
		AverageAmount:    p.AverageAmount.Round(numericScale).String(),
		TotalAmount:      p.TotalAmount.String(),
		Frequency:        string(p.Frequency),
		Confidence:       p.Confidence,
		LastPaymentDate:  p.LastPaymentDate,
		TransactionCount: p.TransactionCount,
		CreatedTS:        p.CreatedAt,
		UpdatedTS:        p.UpdatedAt,
	}
}

func attributionParamFrom(a domain.Attribution) attributionParam {
	return attributionParam{
		UserID:         a.UserID,
		NormalizedKey:  a.NormalizedKey,
		TransactionKey: a.TransactionID.String(),
		StatementID:    a.TransactionID.StatementID,
		Date:           a.TransactionID.Date,
		Description:    a.TransactionID.Description,
		Amount:         a.TransactionID.Amount.String(),
	}
}
