package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/recurring-tracker/internal/logger"
	"google.golang.org/genai"
)

// StatementParser extracts raw transactions from a statement PDF.
type StatementParser interface {
	ParseStatement(ctx context.Context, pdf []byte) (*Output, error)
}

// Output is the JSON document the model is asked to return.
type Output struct {
	AccountInfo  AccountInfo      `json:"account_info"`
	Transactions []RawTransaction `json:"transactions"`
}

// AccountInfo is informational and not used for detection.
type AccountInfo struct {
	AccountNumber   string `json:"account_number"`
	BankName        string `json:"bank_name"`
	StatementPeriod string `json:"statement_period"`
}

// RawTransaction is one transaction as emitted by the model. Numbers are kept
// raw so a single bad value does not fail the whole document.
type RawTransaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Balance     json.RawMessage `json:"balance"`
	Category    string          `json:"category"`
	Currency    string          `json:"currency"`
}

const statementPrompt = "You are a bank statement parser. Extract transaction data from the attached bank statement and return structured JSON.\n\n" +
	"For each transaction, extract:\n" +
	"- date (YYYY-MM-DD format)\n" +
	"- description (merchant or transaction description as printed)\n" +
	"- amount (negative for debits, positive for credits)\n" +
	"- balance (running balance if available, otherwise null)\n" +
	"- category (guess based on description: groceries, utilities, entertainment, transport, insurance, subscription, rent, dining, etc.)\n" +
	"- currency (ISO code such as \"GBP\", if identifiable)\n\n" +
	"Return JSON in this exact format:\n" +
	"{\n" +
	"  \"account_info\": {\n" +
	"    \"account_number\": \"masked account number if found\",\n" +
	"    \"bank_name\": \"bank name if identifiable\",\n" +
	"    \"statement_period\": \"date range if found\"\n" +
	"  },\n" +
	"  \"transactions\": [\n" +
	"    {\"date\": \"2024-01-15\", \"description\": \"GROCERY STORE PURCHASE\", \"amount\": -45.67, \"balance\": 1234.56, \"category\": \"groceries\", \"currency\": \"GBP\"}\n" +
	"  ]\n" +
	"}\n\n" +
	"Only include actual transactions, not headers or summary information.\n" +
	"If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed amount.\n" +
	"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n"

// contentGenerator is the subset of genai.Models used by GeminiParser.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiParser extracts transactions with a Gemini model.
type GeminiParser struct {
	models contentGenerator
	model  string
}

// NewGeminiParser creates a parser. An empty apiKey leaves credentials and
// backend selection to the genai environment variables.
func NewGeminiParser(ctx context.Context, apiKey, model string) (*GeminiParser, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiParser: create genai client: %w", err)
	}
	return &GeminiParser{models: client.Models, model: model}, nil
}

// ParseStatement sends the PDF to the model and decodes its JSON answer.
func (p *GeminiParser) ParseStatement(ctx context.Context, pdf []byte) (*Output, error) {
	log := logger.FromContext(ctx)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdf,
					},
				},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}

	log.Debug().Str("model", p.model).Int("pdf_bytes", len(pdf)).Msg("Sending statement to model")

	resp, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("ParseStatement: generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("ParseStatement: empty response from model")
	}

	out, err := DecodeOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("ParseStatement: %w", err)
	}

	log.Info().
		Str("bank_name", out.AccountInfo.BankName).
		Int("transactions", len(out.Transactions)).
		Msg("Statement parsed by model")
	return out, nil
}

// DecodeOutput parses a model response, tolerating code fences and text
// around the JSON object.
func DecodeOutput(raw string) (*Output, error) {
	clean := cleanModelJSON(raw)

	var out Output
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("DecodeOutput: unmarshal JSON: %w", err)
	}
	return &out, nil
}

// cleanModelJSON keeps the span from the first '{' to the last '}' after
// dropping Markdown fences.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
