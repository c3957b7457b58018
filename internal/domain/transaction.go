package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction represents one transaction extracted from a bank statement.
// This is a domain struct, not a storage row; repositories map it into
// their own schema.
//
// Date and Amount are required. An invalid Date or a null Amount marks the
// record as malformed; it is kept so the detector can report it.
type Transaction struct {
	StatementID string // owning statement
	UserID      string // owning user

	Date        civil.Date          // parsed from "date" (YYYY-MM-DD)
	Description string              // from "description", raw
	Amount      decimal.NullDecimal // from "amount" (IN = positive, OUT = negative)
	Balance     decimal.NullDecimal // from "balance" or null
	Currency    string              // from "currency", informational only

	Category string // from "category", assigned upstream or empty
}

// MissingFields lists the required fields that are absent.
func (t Transaction) MissingFields() []string {
	var missing []string
	if !t.Date.IsValid() {
		missing = append(missing, "date")
	}
	if !t.Amount.Valid {
		missing = append(missing, "amount")
	}
	return missing
}

// ID returns the deduplication identity of the transaction.
// Only meaningful when MissingFields is empty.
func (t Transaction) ID() TransactionID {
	return TransactionID{
		StatementID: t.StatementID,
		Date:        t.Date,
		Description: t.Description,
		Amount:      t.Amount.Decimal,
	}
}

// TransactionID identifies one raw transaction across processing passes.
type TransactionID struct {
	StatementID string
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
}

// String returns a canonical form usable as a map key or storage key.
// Amounts compare by value, so "9.990" and "9.99" produce the same key.
func (id TransactionID) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", id.StatementID, id.Date.String(), id.Description, id.Amount.String())
}
