package recurrence

import (
	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// Selection is the outcome of resolving the sub-clusters of one merchant key.
type Selection struct {
	Winner         *Cluster // nil when no sub-cluster was accepted
	Classification Classification
	Losers         []*Cluster // accepted or recurring sub-clusters that were not chosen
}

// Aggregator turns accepted clusters into RecurringPayment values.
type Aggregator struct {
	classifier *Classifier
	tolerance  decimal.Decimal
}

// NewAggregator creates an aggregator using the thresholds in p.
func NewAggregator(p Policy) *Aggregator {
	return &Aggregator{
		classifier: NewClassifier(p),
		tolerance:  decimal.NewFromFloat(p.AmountTolerance),
	}
}

// Select picks at most one sub-cluster of a key to attribute.
//
// Without an existing record each sub-cluster is classified on its own and
// the largest recurring one wins; ties go to the earliest first date.
//
// With an existing record each sub-cluster is classified together with the
// record's attributed history dates, and only sub-clusters whose mean is
// within tolerance of the stored average qualify. The closest mean wins.
func (a *Aggregator) Select(subs []*Cluster, existing *domain.RecurringPayment, history []civil.Date) Selection {
	var sel Selection
	if existing == nil {
		for _, sub := range subs {
			cls := a.classifier.Classify(sub.Dates())
			if !cls.IsRecurring {
				continue
			}
			if sel.Winner == nil || largerCluster(sub, sel.Winner) {
				if sel.Winner != nil {
					sel.Losers = append(sel.Losers, sel.Winner)
				}
				sel.Winner, sel.Classification = sub, cls
				continue
			}
			sel.Losers = append(sel.Losers, sub)
		}
		return sel
	}

	var bestDistance decimal.Decimal
	for _, sub := range subs {
		cls := a.classifier.Classify(unionDates(history, sub.Dates()))
		if !cls.IsRecurring {
			continue
		}
		if !withinTolerance(sub.Mean(), existing.AverageAmount, a.tolerance) {
			sel.Losers = append(sel.Losers, sub)
			continue
		}
		distance := sub.Mean().Sub(existing.AverageAmount).Abs()
		if sel.Winner == nil || distance.LessThan(bestDistance) {
			if sel.Winner != nil {
				sel.Losers = append(sel.Losers, sel.Winner)
			}
			sel.Winner, sel.Classification, bestDistance = sub, cls, distance
			continue
		}
		sel.Losers = append(sel.Losers, sub)
	}
	return sel
}

// Create builds a new record from an accepted cluster.
func (a *Aggregator) Create(userID string, c *Cluster, cls Classification) domain.RecurringPayment {
	return domain.RecurringPayment{
		UserID:           userID,
		NormalizedKey:    c.Key,
		MerchantName:     modeDescription(c.Transactions),
		Category:         modeCategory(c.Transactions),
		AverageAmount:    c.Mean(),
		TotalAmount:      c.Sum(),
		Frequency:        cls.Frequency,
		Confidence:       cls.Confidence,
		LastPaymentDate:  c.LastDate(),
		TransactionCount: int64(c.Size()),
	}
}

// Merge folds a cluster of new transactions into an existing record. The
// result does not depend on the order clusters are merged in.
// cls must classify the union of the record's history and the cluster.
func (a *Aggregator) Merge(existing domain.RecurringPayment, c *Cluster, cls Classification) domain.RecurringPayment {
	merged := existing

	total := storedTotal(existing).Add(c.Sum())
	merged.TransactionCount = existing.TransactionCount + int64(c.Size())
	merged.TotalAmount = total
	merged.AverageAmount = total.Div(decimal.NewFromInt(merged.TransactionCount))

	if c.LastDate().After(existing.LastPaymentDate) {
		merged.LastPaymentDate = c.LastDate()
	}
	if merged.Category == "" {
		merged.Category = modeCategory(c.Transactions)
	}
	merged.Frequency = cls.Frequency
	merged.Confidence = cls.Confidence
	return merged
}

// storedTotal returns the exact total of a record. Records written before
// totals were stored fall back to average times count.
func storedTotal(p domain.RecurringPayment) decimal.Decimal {
	if p.TotalAmount.IsZero() && p.TransactionCount > 0 {
		return p.AverageAmount.Mul(decimal.NewFromInt(p.TransactionCount))
	}
	return p.TotalAmount
}

func largerCluster(a, b *Cluster) bool {
	if a.Size() != b.Size() {
		return a.Size() > b.Size()
	}
	return a.FirstDate().Before(b.FirstDate())
}

func unionDates(history, fresh []civil.Date) []civil.Date {
	out := make([]civil.Date, 0, len(history)+len(fresh))
	out = append(out, history...)
	return append(out, fresh...)
}

// modeDescription returns the most frequent raw description. Ties go to the
// first one seen.
func modeDescription(txs []domain.Transaction) string {
	return mode(txs, func(tx domain.Transaction) string { return tx.Description })
}

// modeCategory returns the most frequent non-empty category.
func modeCategory(txs []domain.Transaction) string {
	return mode(txs, func(tx domain.Transaction) string { return tx.Category })
}

func mode(txs []domain.Transaction, field func(domain.Transaction) string) string {
	counts := make(map[string]int)
	var order []string
	for _, tx := range txs {
		v := field(tx)
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}

	var best string
	bestCount := 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}
