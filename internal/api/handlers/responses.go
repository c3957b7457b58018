package handlers

import (
	"time"

	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// StatementResponse is the JSON form of a statement.
type StatementResponse struct {
	StatementID string    `json:"statement_id"`
	UserID      string    `json:"user_id"`
	SourceURI   string    `json:"source_uri,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Checksum    string    `json:"checksum"`
	UploadedAt  time.Time `json:"uploaded_at"`

	TransactionCount int64  `json:"transaction_count"`
	TotalDebits      string `json:"total_debits"`
	TotalCredits     string `json:"total_credits"`
	NetFlow          string `json:"net_flow"`
	PeriodStart      string `json:"period_start,omitempty"`
	PeriodEnd        string `json:"period_end,omitempty"`
}

func statementResponse(s domain.Statement) StatementResponse {
	r := StatementResponse{
		StatementID: s.ID,
		UserID:      s.UserID,
		SourceURI:   s.SourceURI,
		Filename:    s.Filename,
		Checksum:    s.Checksum,
		UploadedAt:  s.UploadedAt,

		TransactionCount: s.TransactionCount,
		TotalDebits:      s.TotalDebits.StringFixed(2),
		TotalCredits:     s.TotalCredits.StringFixed(2),
		NetFlow:          s.NetFlow().StringFixed(2),
	}
	if s.PeriodStart.IsValid() {
		r.PeriodStart = s.PeriodStart.String()
		r.PeriodEnd = s.PeriodEnd.String()
	}
	return r
}

// PaymentResponse is the JSON form of a recurring payment. Amounts are
// decimal strings.
type PaymentResponse struct {
	ID                string  `json:"recurring_payment_id"`
	NormalizedKey     string  `json:"normalized_key"`
	MerchantName      string  `json:"merchant_name"`
	Category          string  `json:"category,omitempty"`
	AverageAmount     string  `json:"average_amount"`
	TotalAmount       string  `json:"total_amount"`
	MonthlyEquivalent string  `json:"monthly_equivalent"`
	Frequency         string  `json:"frequency"`
	Confidence        float64 `json:"confidence"`
	LastPaymentDate   string  `json:"last_payment_date"`
	TransactionCount  int64   `json:"transaction_count"`
	Emoji             string  `json:"emoji"`
}

func paymentResponse(p domain.RecurringPayment) PaymentResponse {
	return PaymentResponse{
		ID:                p.ID,
		NormalizedKey:     p.NormalizedKey,
		MerchantName:      p.MerchantName,
		Category:          p.Category,
		AverageAmount:     p.AverageAmount.StringFixed(2),
		TotalAmount:       p.TotalAmount.StringFixed(2),
		MonthlyEquivalent: recurrence.MonthlyEquivalent(p.AverageAmount, p.Frequency).Abs().StringFixed(2),
		Frequency:         string(p.Frequency),
		Confidence:        p.Confidence,
		LastPaymentDate:   p.LastPaymentDate.String(),
		TransactionCount:  p.TransactionCount,
		Emoji:             recurrence.CategoryEmoji(p.Category),
	}
}

func paymentResponses(payments []domain.RecurringPayment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentResponse(p))
	}
	return out
}

// SummaryResponse is the JSON form of recurrence.Summary.
type SummaryResponse struct {
	TotalMonthly string            `json:"total_monthly"`
	Count        int               `json:"count"`
	Largest      *PaymentResponse  `json:"largest,omitempty"`
	Payments     []PaymentResponse `json:"payments"`
}

func summaryResponse(s recurrence.Summary) SummaryResponse {
	resp := SummaryResponse{
		TotalMonthly: s.TotalMonthly.StringFixed(2),
		Count:        s.Count,
		Payments:     make([]PaymentResponse, 0, len(s.Items)),
	}
	for _, item := range s.Items {
		resp.Payments = append(resp.Payments, paymentResponse(item.Payment))
	}
	if s.Largest != nil {
		largest := paymentResponse(s.Largest.Payment)
		resp.Largest = &largest
	}
	return resp
}

// ProcessResponse reports a statement processed synchronously.
type ProcessResponse struct {
	StatementID string            `json:"statement_id"`
	GCSURI      string            `json:"gcs_uri,omitempty"`
	Created     []PaymentResponse `json:"created"`
	Updated     []PaymentResponse `json:"updated"`
	Recurring   []PaymentResponse `json:"recurring"`
	Diagnostics []string          `json:"diagnostics"`
}

func processResponse(state *pipeline.PipelineState) ProcessResponse {
	resp := ProcessResponse{
		StatementID: state.Statement.ID,
		GCSURI:      state.SourceURI,
		Diagnostics: []string{},
	}
	if state.Result == nil {
		resp.Created, resp.Updated, resp.Recurring = []PaymentResponse{}, []PaymentResponse{}, []PaymentResponse{}
		return resp
	}
	resp.Created = paymentResponses(state.Result.Changeset.Created)
	resp.Updated = paymentResponses(state.Result.Changeset.Updated)
	resp.Recurring = paymentResponses(state.Result.Recurring)
	for _, d := range state.Result.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, d.String())
	}
	return resp
}
