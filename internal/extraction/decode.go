package extraction

import (
	"encoding/json"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// DecodeTransactions maps model output onto domain transactions of one
// statement. Unparseable dates and amounts are left invalid rather than
// dropped, so detection can report them.
func DecodeTransactions(out *Output, statementID, userID string) []domain.Transaction {
	if out == nil {
		return nil
	}

	txs := make([]domain.Transaction, 0, len(out.Transactions))
	for _, raw := range out.Transactions {
		txs = append(txs, domain.Transaction{
			StatementID: statementID,
			UserID:      userID,
			Date:        parseDate(raw.Date),
			Description: strings.TrimSpace(raw.Description),
			Amount:      parseAmount(raw.Amount),
			Balance:     parseAmount(raw.Balance),
			Currency:    strings.ToUpper(strings.TrimSpace(raw.Currency)),
			Category:    normalizeCategory(raw.Category),
		})
	}
	return txs
}

func parseDate(s string) civil.Date {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil || !d.IsValid() {
		return civil.Date{}
	}
	return d
}

// parseAmount accepts JSON numbers and numeric strings such as "-1,234.50"
// or "£9.99".
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.NullDecimal{}
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.NullDecimal{}
		}
		s = cleanNumber(str)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.TrimLeft(s, "£$€")
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}
	if neg {
		return "-" + s
	}
	return s
}

// normalizeCategory lower-cases and trims a model-assigned category.
func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
