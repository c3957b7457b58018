package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// statementNamespace scopes statement IDs derived from file checksums.
var statementNamespace = uuid.MustParse("6f1c7c1e-3c1b-4f0e-9a57-2f0d4b8a9e11")

// Statement is one uploaded bank statement.
type Statement struct {
	ID         string
	UserID     string
	SourceURI  string // e.g. gs://bucket/path/statement.pdf
	Filename   string
	Checksum   string // hex SHA-256 of the file bytes
	UploadedAt time.Time

	// Figures over the statement's stored transactions, set by Tally.
	TransactionCount int64
	TotalDebits      decimal.Decimal // sum of negative amounts
	TotalCredits     decimal.Decimal // sum of positive amounts
	PeriodStart      civil.Date
	PeriodEnd        civil.Date
}

// Tally recomputes the statement figures from txs. Transactions without a
// date or amount are not counted.
func (s *Statement) Tally(txs []Transaction) {
	s.TransactionCount = 0
	s.TotalDebits = decimal.Zero
	s.TotalCredits = decimal.Zero
	s.PeriodStart = civil.Date{}
	s.PeriodEnd = civil.Date{}

	for _, tx := range txs {
		if !tx.Date.IsValid() || !tx.Amount.Valid {
			continue
		}
		s.TransactionCount++
		if tx.Amount.Decimal.IsNegative() {
			s.TotalDebits = s.TotalDebits.Add(tx.Amount.Decimal)
		} else {
			s.TotalCredits = s.TotalCredits.Add(tx.Amount.Decimal)
		}
		if !s.PeriodStart.IsValid() || tx.Date.Before(s.PeriodStart) {
			s.PeriodStart = tx.Date
		}
		if !s.PeriodEnd.IsValid() || tx.Date.After(s.PeriodEnd) {
			s.PeriodEnd = tx.Date
		}
	}
}

// NetFlow returns credits plus debits.
func (s Statement) NetFlow() decimal.Decimal {
	return s.TotalCredits.Add(s.TotalDebits)
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StatementIDFor derives a stable statement ID from the user and file checksum.
// Uploading the same file twice yields the same ID, which keeps transaction
// identities stable across reprocessing.
func StatementIDFor(userID, checksum string) string {
	return uuid.NewSHA1(statementNamespace, []byte(userID+":"+checksum)).String()
}

var (
	// ErrNotPDF is returned for uploads that are not PDF files.
	ErrNotPDF = errors.New("only PDF statements are supported")

	// ErrFileTooLarge is returned for uploads above the size limit.
	ErrFileTooLarge = errors.New("statement file is too large")
)

// ValidateUpload checks the name and size of an uploaded statement.
// A limit of zero disables the size check.
func ValidateUpload(filename string, size, limit int64) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return fmt.Errorf("%w: %q", ErrNotPDF, filename)
	}
	if limit > 0 && size > limit {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, size, limit)
	}
	return nil
}
