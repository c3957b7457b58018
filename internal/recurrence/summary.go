package recurrence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SummaryItem is one recurring payment in a summary.
type SummaryItem struct {
	Payment           domain.RecurringPayment
	MonthlyEquivalent decimal.Decimal // absolute; zero for irregular payments
	Emoji             string
}

// Summary is a read-only view over a user's recurring payments.
type Summary struct {
	TotalMonthly decimal.Decimal // absolute monthly-equivalent total
	Count        int
	Largest      *SummaryItem // by absolute average amount; nil when empty
	Items        []SummaryItem
}

var (
	weeksPerMonth      = decimal.NewFromInt(52).Div(decimal.NewFromInt(12))
	fortnightsPerMonth = decimal.NewFromInt(26).Div(decimal.NewFromInt(12))
)

// MonthlyEquivalent converts an amount at frequency f into a monthly amount.
// Irregular amounts have no monthly equivalent and yield zero.
func MonthlyEquivalent(amount decimal.Decimal, f domain.Frequency) decimal.Decimal {
	switch f {
	case domain.FrequencyWeekly:
		return amount.Mul(weeksPerMonth)
	case domain.FrequencyBiweekly:
		return amount.Mul(fortnightsPerMonth)
	case domain.FrequencyMonthly:
		return amount
	case domain.FrequencyQuarterly:
		return amount.Div(decimal.NewFromInt(3))
	case domain.FrequencyAnnual:
		return amount.Div(decimal.NewFromInt(12))
	default:
		return decimal.Zero
	}
}

// BuildSummary aggregates payments into a Summary. Items are ordered by
// monthly equivalent, largest first.
func BuildSummary(payments []domain.RecurringPayment) Summary {
	s := Summary{TotalMonthly: decimal.Zero}
	for _, p := range payments {
		monthly := MonthlyEquivalent(p.AverageAmount, p.Frequency).Abs()
		s.Items = append(s.Items, SummaryItem{
			Payment:           p,
			MonthlyEquivalent: monthly,
			Emoji:             CategoryEmoji(p.Category),
		})
		s.TotalMonthly = s.TotalMonthly.Add(monthly)
	}
	s.Count = len(s.Items)

	sort.SliceStable(s.Items, func(i, j int) bool {
		a, b := s.Items[i], s.Items[j]
		if !a.MonthlyEquivalent.Equal(b.MonthlyEquivalent) {
			return a.MonthlyEquivalent.GreaterThan(b.MonthlyEquivalent)
		}
		return a.Payment.NormalizedKey < b.Payment.NormalizedKey
	})

	for i := range s.Items {
		item := &s.Items[i]
		if s.Largest == nil || item.Payment.AverageAmount.Abs().GreaterThan(s.Largest.Payment.AverageAmount.Abs()) {
			s.Largest = item
		}
	}
	return s
}

var categoryEmoji = map[string]string{
	"utilities":     "⚡",
	"entertainment": "🎬",
	"groceries":     "🛒",
	"transport":     "🚗",
	"insurance":     "🛡️",
	"subscription":  "📱",
	"subscriptions": "📱",
	"rent":          "🏠",
	"dining":        "🍽️",
}

// CategoryEmoji returns the display emoji of a category.
func CategoryEmoji(category string) string {
	if e, ok := categoryEmoji[strings.ToLower(strings.TrimSpace(category))]; ok {
		return e
	}
	return "💳"
}

// FormatSummary renders s as a plain-text message.
func FormatSummary(s Summary) string {
	var b strings.Builder
	title := cases.Title(language.Und)

	b.WriteString("📊 Recurring Payments Summary\n\n")
	fmt.Fprintf(&b, "💰 Total monthly recurring: %s\n", s.TotalMonthly.StringFixed(2))
	fmt.Fprintf(&b, "📋 Number of recurring payments: %d\n", s.Count)
	if s.Largest != nil {
		fmt.Fprintf(&b, "🏆 Largest payment: %s\n", s.Largest.Payment.MerchantName)
	}
	b.WriteString("\n" + strings.Repeat("=", 30) + "\n\n")

	if len(s.Items) == 0 {
		b.WriteString("No recurring payments detected.\n")
		return b.String()
	}

	b.WriteString("📝 Detailed Breakdown:\n\n")
	for _, item := range s.Items {
		p := item.Payment
		category := p.Category
		if category == "" {
			category = "uncategorized"
		}
		fmt.Fprintf(&b, "%s %s\n", item.Emoji, p.MerchantName)
		fmt.Fprintf(&b, "   Amount: %s (%s)\n", p.AverageAmount.Abs().StringFixed(2), p.Frequency)
		fmt.Fprintf(&b, "   Category: %s\n", title.String(category))
		fmt.Fprintf(&b, "   Occurrences: %d\n", p.TransactionCount)
		fmt.Fprintf(&b, "   Last payment: %s\n\n", p.LastPaymentDate)
	}
	return b.String()
}
