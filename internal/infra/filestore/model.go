package filestore

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/shopspring/decimal"
)

// snapshotVersion is bumped when the file layout changes.
const snapshotVersion = 1

// Meta describes the snapshot file itself.
type Meta struct {
	Storage string    `json:"storage"`
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
}

// Snapshot is the complete persisted state of all users.
type Snapshot struct {
	Meta         Meta                `json:"_meta"`
	Statements   []StatementRecord   `json:"statements"`
	Transactions []TransactionRecord `json:"transactions"`
	Payments     []PaymentRecord     `json:"recurring_payments"`
	Attributions []AttributionRecord `json:"attributions"`
}

// StatementRecord is the stored form of domain.Statement.
type StatementRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceURI  string    `json:"source_uri,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Checksum   string    `json:"checksum"`
	UploadedAt time.Time `json:"uploaded_at"`

	TransactionCount int64           `json:"transaction_count"`
	TotalDebits      decimal.Decimal `json:"total_debits"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	PeriodStart      *civil.Date     `json:"period_start,omitempty"` // nil when no dated transactions
	PeriodEnd        *civil.Date     `json:"period_end,omitempty"`
}

// TransactionRecord is a stored statement transaction.
type TransactionRecord struct {
	StatementID   string              `json:"statement_id"`
	UserID        string              `json:"user_id"`
	Date          civil.Date          `json:"date"`
	Description   string              `json:"description"`
	Amount        decimal.Decimal     `json:"amount"`
	Balance       decimal.NullDecimal `json:"balance"`
	Currency      string              `json:"currency,omitempty"`
	Category      string              `json:"category,omitempty"`
	IsRecurring   bool                `json:"is_recurring"`
	NormalizedKey string              `json:"normalized_key,omitempty"`
}

// PaymentRecord is the stored form of domain.RecurringPayment.
type PaymentRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	NormalizedKey    string          `json:"normalized_key"`
	MerchantName     string          `json:"merchant_name"`
	Category         string          `json:"category,omitempty"`
	AverageAmount    decimal.Decimal `json:"average_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Frequency        string          `json:"frequency"`
	Confidence       float64         `json:"confidence"`
	LastPaymentDate  civil.Date      `json:"last_payment_date"`
	TransactionCount int64           `json:"transaction_count"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AttributionRecord links one stored transaction to one recurring payment.
type AttributionRecord struct {
	UserID        string          `json:"user_id"`
	NormalizedKey string          `json:"normalized_key"`
	StatementID   string          `json:"statement_id"`
	Date          civil.Date      `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
}

func statementRecordFrom(s domain.Statement) StatementRecord {
	return StatementRecord{
		ID:         s.ID,
		UserID:     s.UserID,
		SourceURI:  s.SourceURI,
		Filename:   s.Filename,
		Checksum:   s.Checksum,
		UploadedAt: s.UploadedAt,

		TransactionCount: s.TransactionCount,
		TotalDebits:      s.TotalDebits,
		TotalCredits:     s.TotalCredits,
		PeriodStart:      optionalDate(s.PeriodStart),
		PeriodEnd:        optionalDate(s.PeriodEnd),
	}
}

func (r StatementRecord) toDomain() domain.Statement {
	s := domain.Statement{
		ID:         r.ID,
		UserID:     r.UserID,
		SourceURI:  r.SourceURI,
		Filename:   r.Filename,
		Checksum:   r.Checksum,
		UploadedAt: r.UploadedAt,

		TransactionCount: r.TransactionCount,
		TotalDebits:      r.TotalDebits,
		TotalCredits:     r.TotalCredits,
	}
	if r.PeriodStart != nil && r.PeriodEnd != nil {
		s.PeriodStart, s.PeriodEnd = *r.PeriodStart, *r.PeriodEnd
	}
	return s
}

func optionalDate(d civil.Date) *civil.Date {
	if !d.IsValid() {
		return nil
	}
	return &d
}

func transactionRecordFrom(t pipeline.StatementTransaction) TransactionRecord {
	return TransactionRecord{
		StatementID:   t.StatementID,
		UserID:        t.UserID,
		Date:          t.Date,
		Description:   t.Description,
		Amount:        t.Amount.Decimal,
		Balance:       t.Balance,
		Currency:      t.Currency,
		Category:      t.Category,
		IsRecurring:   t.IsRecurring,
		NormalizedKey: t.NormalizedKey,
	}
}

func (r TransactionRecord) toDomain() domain.Transaction {
	return domain.Transaction{
		StatementID: r.StatementID,
		UserID:      r.UserID,
		Date:        r.Date,
		Description: r.Description,
		Amount:      decimal.NewNullDecimal(r.Amount),
		Balance:     r.Balance,
		Currency:    r.Currency,
		Category:    r.Category,
	}
}

func (r TransactionRecord) id() domain.TransactionID {
	return domain.TransactionID{
		StatementID: r.StatementID,
		Date:        r.Date,
		Description: r.Description,
		Amount:      r.Amount,
	}
}

func paymentRecordFrom(p domain.RecurringPayment) PaymentRecord {
	return PaymentRecord{
		ID:               p.ID,
		UserID:           p.UserID,
		NormalizedKey:    p.NormalizedKey,
		MerchantName:     p.MerchantName,
		Category:         p.Category,
		AverageAmount:    p.AverageAmount,
		TotalAmount:      p.TotalAmount,
		Frequency:        string(p.Frequency),
		Confidence:       p.Confidence,
		LastPaymentDate:  p.LastPaymentDate,
		TransactionCount: p.TransactionCount,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (r PaymentRecord) toDomain() domain.RecurringPayment {
	return domain.RecurringPayment{
		ID:               r.ID,
		UserID:           r.UserID,
		NormalizedKey:    r.NormalizedKey,
		MerchantName:     r.MerchantName,
		Category:         r.Category,
		AverageAmount:    r.AverageAmount,
		TotalAmount:      r.TotalAmount,
		Frequency:        domain.ParseFrequency(r.Frequency),
		Confidence:       r.Confidence,
		LastPaymentDate:  r.LastPaymentDate,
		TransactionCount: r.TransactionCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func attributionRecordFrom(a domain.Attribution) AttributionRecord {
	return AttributionRecord{
		UserID:        a.UserID,
		NormalizedKey: a.NormalizedKey,
		StatementID:   a.TransactionID.StatementID,
		Date:          a.TransactionID.Date,
		Description:   a.TransactionID.Description,
		Amount:        a.TransactionID.Amount,
	}
}

func (r AttributionRecord) toDomain() domain.Attribution {
	return domain.Attribution{
		TransactionID: domain.TransactionID{
			StatementID: r.StatementID,
			Date:        r.Date,
			Description: r.Description,
			Amount:      r.Amount,
		},
		UserID:        r.UserID,
		NormalizedKey: r.NormalizedKey,
	}
}
