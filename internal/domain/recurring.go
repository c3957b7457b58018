package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Frequency is the cadence label of a recurring payment.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
	FrequencyIrregular Frequency = "irregular"
)

// ParseFrequency maps a stored label back to a Frequency.
// Unknown labels map to FrequencyIrregular.
func ParseFrequency(s string) Frequency {
	switch f := Frequency(s); f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return f
	default:
		return FrequencyIrregular
	}
}

// RecurringPayment is one inferred recurring merchant relationship for one
// user. It is unique per (UserID, NormalizedKey).
type RecurringPayment struct {
	ID            string // assigned by persistence on create
	UserID        string
	NormalizedKey string // grouping key, never displayed

	MerchantName string // most frequent raw description at creation
	Category     string

	AverageAmount decimal.Decimal
	TotalAmount   decimal.Decimal // exact sum of all attributed amounts

	Frequency  Frequency
	Confidence float64

	LastPaymentDate  civil.Date
	TransactionCount int64 // cumulative across passes, never decreases

	CreatedAt time.Time // set by persistence
	UpdatedAt time.Time // set by persistence
}

// Attribution records that a raw transaction contributed to the recurring
// payment identified by (UserID, NormalizedKey).
type Attribution struct {
	TransactionID TransactionID
	UserID        string
	NormalizedKey string
}
