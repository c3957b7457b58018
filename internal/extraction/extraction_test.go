package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

const sampleResponse = `{
  "account_info": {"account_number": "****1234", "bank_name": "Barclays", "statement_period": "Jan 2024"},
  "transactions": [
    {"date": "2024-01-15", "description": "NETFLIX.COM", "amount": -9.99, "balance": 1234.56, "category": "Entertainment", "currency": "gbp"},
    {"date": "2024-01-16", "description": "SALARY", "amount": "2,500.00", "balance": null, "category": "income"},
    {"date": "15/01/2024", "description": "BROKEN DATE", "amount": -1},
    {"date": "2024-01-17", "description": "BROKEN AMOUNT", "amount": "n/a"}
  ]
}`

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go:\n{\"a\":{\"b\":2}}\nThanks!", `{"a":{"b":2}}`},
		{"no object", "sorry", "sorry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.raw); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeOutput_Invalid(t *testing.T) {
	if _, err := DecodeOutput("not json at all"); err == nil {
		t.Error("expected an error for a response without JSON")
	}
}

func TestDecodeTransactions(t *testing.T) {
	out, err := DecodeOutput("```json\n" + sampleResponse + "\n```")
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if out.AccountInfo.BankName != "Barclays" {
		t.Errorf("BankName = %q, want Barclays", out.AccountInfo.BankName)
	}

	txs := DecodeTransactions(out, "stmt-1", "user-1")
	if len(txs) != 4 {
		t.Fatalf("expected 4 transactions, got %d", len(txs))
	}

	first := txs[0]
	if first.Date != (civil.Date{Year: 2024, Month: 1, Day: 15}) {
		t.Errorf("Date = %s, want 2024-01-15", first.Date)
	}
	if !first.Amount.Valid || !first.Amount.Decimal.Equal(decimal.RequireFromString("-9.99")) {
		t.Errorf("Amount = %v, want -9.99", first.Amount)
	}
	if !first.Balance.Valid || !first.Balance.Decimal.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("Balance = %v, want 1234.56", first.Balance)
	}
	if first.Currency != "GBP" || first.Category != "entertainment" {
		t.Errorf("unexpected currency/category %q/%q", first.Currency, first.Category)
	}
	if first.StatementID != "stmt-1" || first.UserID != "user-1" {
		t.Errorf("unexpected ownership %q/%q", first.StatementID, first.UserID)
	}

	if !txs[1].Amount.Decimal.Equal(decimal.RequireFromString("2500")) || txs[1].Balance.Valid {
		t.Errorf("unexpected salary amounts %v / %v", txs[1].Amount, txs[1].Balance)
	}

	if diff := cmp.Diff([]string{"date"}, txs[2].MissingFields()); diff != "" {
		t.Errorf("broken date MissingFields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"amount"}, txs[3].MissingFields()); diff != "" {
		t.Errorf("broken amount MissingFields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
		want  string
	}{
		{`-9.99`, true, "-9.99"},
		{`"-1,234.50"`, true, "-1234.5"},
		{`"£9.99"`, true, "9.99"},
		{`"-£9.99"`, true, "-9.99"},
		{`null`, false, ""},
		{``, false, ""},
		{`"abc"`, false, ""},
		{`true`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := parseAmount(json.RawMessage(tt.raw))
			if got.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.valid)
			}
			if tt.valid && !got.Decimal.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("parseAmount(%s) = %s, want %s", tt.raw, got.Decimal, tt.want)
			}
		})
	}
}

type fakeGenerator struct {
	text      string
	err       error
	gotModel  string
	gotConfig *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotConfig = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiParser_ParseStatement(t *testing.T) {
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	gen := &fakeGenerator{text: sampleResponse}
	p := &GeminiParser{models: gen, model: "test-model"}

	out, err := p.ParseStatement(ctx, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if len(out.Transactions) != 4 {
		t.Errorf("expected 4 transactions, got %d", len(out.Transactions))
	}
	if gen.gotModel != "test-model" {
		t.Errorf("model = %q, want test-model", gen.gotModel)
	}
	if gen.gotConfig == nil || gen.gotConfig.ResponseMIMEType != "application/json" {
		t.Error("expected a JSON response MIME type")
	}
}

func TestGeminiParser_Errors(t *testing.T) {
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	boom := errors.New("quota exceeded")

	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"generate fails", &fakeGenerator{err: boom}},
		{"empty response", &fakeGenerator{text: ""}},
		{"invalid json", &fakeGenerator{text: "{not json}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &GeminiParser{models: tt.gen, model: "m"}
			if _, err := p.ParseStatement(ctx, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}

	p := &GeminiParser{models: &fakeGenerator{err: boom}, model: "m"}
	if _, err := p.ParseStatement(ctx, nil); !errors.Is(err, boom) {
		t.Errorf("expected the generator error to be wrapped, got %v", err)
	}
}
