package notionsync

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/jomei/notionapi"
)

// Property names of the recurring payments database.
const (
	propMerchant   = "Merchant"
	propPaymentKey = "Payment Key"
	propUser       = "User"
	propCategory   = "Category"
	propFrequency  = "Frequency"
	propAverage    = "Average Amount"
	propMonthly    = "Monthly Equivalent"
	propTotal      = "Total Amount"
	propCount      = "Occurrences"
	propConfidence = "Confidence"
	propLastPaid   = "Last Payment"
)

// PaymentKey identifies a recurring payment across syncs.
func PaymentKey(p domain.RecurringPayment) string {
	return p.UserID + ":" + p.NormalizedKey
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func notionDate(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}

// PaymentToNotionProperties converts a recurring payment to Notion properties.
func PaymentToNotionProperties(p domain.RecurringPayment) notionapi.Properties {
	title := p.MerchantName
	if title == "" {
		title = p.NormalizedKey
	}

	props := notionapi.Properties{
		propMerchant: notionapi.TitleProperty{
			Title: richText(recurrence.CategoryEmoji(p.Category) + " " + title),
		},
		propPaymentKey: notionapi.RichTextProperty{
			RichText: richText(PaymentKey(p)),
		},
		propUser: notionapi.RichTextProperty{
			RichText: richText(p.UserID),
		},
		propFrequency: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(p.Frequency)},
		},
		propAverage: notionapi.NumberProperty{
			Number: p.AverageAmount.InexactFloat64(),
		},
		propMonthly: notionapi.NumberProperty{
			Number: recurrence.MonthlyEquivalent(p.AverageAmount, p.Frequency).Round(2).InexactFloat64(),
		},
		propTotal: notionapi.NumberProperty{
			Number: p.TotalAmount.InexactFloat64(),
		},
		propCount: notionapi.NumberProperty{
			Number: float64(p.TransactionCount),
		},
		propConfidence: notionapi.NumberProperty{
			Number: p.Confidence,
		},
	}

	if p.Category != "" {
		props[propCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: strings.ToLower(p.Category)},
		}
	}

	if p.LastPaymentDate.IsValid() {
		props[propLastPaid] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: notionDate(p.LastPaymentDate)},
		}
	}

	return props
}

// extractPaymentKey reads the payment key from a Notion page.
// Returns empty string if not found.
func extractPaymentKey(page notionapi.Page) string {
	if prop, ok := page.Properties[propPaymentKey]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
