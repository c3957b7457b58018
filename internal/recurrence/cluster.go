package recurrence

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// Cluster is a date-ascending run of transactions that share a merchant key
// and a similar amount. It is transient and never empty.
type Cluster struct {
	Key          string
	Seq          int // sub-cluster index within Key, in creation order
	Transactions []domain.Transaction

	sum decimal.Decimal
}

// Size returns the number of transactions in the cluster.
func (c *Cluster) Size() int {
	return len(c.Transactions)
}

// Sum returns the sum of member amounts.
func (c *Cluster) Sum() decimal.Decimal {
	return c.sum
}

// Mean returns the arithmetic mean of member amounts.
func (c *Cluster) Mean() decimal.Decimal {
	if len(c.Transactions) == 0 {
		return decimal.Zero
	}
	return c.sum.Div(decimal.NewFromInt(int64(len(c.Transactions))))
}

// Dates returns member dates in order.
func (c *Cluster) Dates() []civil.Date {
	dates := make([]civil.Date, len(c.Transactions))
	for i, tx := range c.Transactions {
		dates[i] = tx.Date
	}
	return dates
}

// FirstDate returns the earliest member date.
func (c *Cluster) FirstDate() civil.Date {
	return c.Transactions[0].Date
}

// LastDate returns the latest member date.
func (c *Cluster) LastDate() civil.Date {
	return c.Transactions[len(c.Transactions)-1].Date
}

func (c *Cluster) add(tx domain.Transaction) {
	c.Transactions = append(c.Transactions, tx)
	c.sum = c.sum.Add(tx.Amount.Decimal)
}

// Clusters is the ordered output of one clustering pass.
type Clusters []*Cluster

// ByKey groups the clusters by merchant key.
func (cs Clusters) ByKey() map[string][]*Cluster {
	out := make(map[string][]*Cluster)
	for _, c := range cs {
		out[c.Key] = append(out[c.Key], c)
	}
	return out
}

// Clusterer groups transactions into recurrence candidates.
type Clusterer struct {
	tolerance decimal.Decimal
	join      JoinMode
}

// NewClusterer creates a clusterer with the given relative amount tolerance.
// An empty join mode means JoinAnyOpen.
func NewClusterer(amountTolerance float64, join JoinMode) *Clusterer {
	if join == "" {
		join = JoinAnyOpen
	}
	return &Clusterer{tolerance: decimal.NewFromFloat(amountTolerance), join: join}
}

// Cluster groups transactions by normalized key, then splits each key group
// into sub-clusters of similar amount in a single left-to-right pass.
//
// txs must be sorted by date; equal dates keep input order. Transactions
// with UnknownKey, a missing date or a missing amount are ignored.
// The result is ordered by key, then by sub-cluster sequence.
func (c *Clusterer) Cluster(txs []domain.Transaction) Clusters {
	groups := make(map[string][]*Cluster)

	for _, tx := range txs {
		if len(tx.MissingFields()) > 0 {
			continue
		}
		key := Normalize(tx.Description)
		if key == UnknownKey {
			continue
		}

		subs := groups[key]
		if target := c.findOpen(subs, tx.Amount.Decimal); target != nil {
			target.add(tx)
			continue
		}

		sub := &Cluster{Key: key, Seq: len(subs)}
		sub.add(tx)
		groups[key] = append(subs, sub)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Clusters
	for _, k := range keys {
		out = append(out, groups[k]...)
	}
	return out
}

// findOpen returns the most recently created sub-cluster whose running mean
// is within tolerance of amount, or nil. With JoinLatest only the newest
// sub-cluster is a candidate.
func (c *Clusterer) findOpen(subs []*Cluster, amount decimal.Decimal) *Cluster {
	oldest := 0
	if c.join == JoinLatest {
		oldest = len(subs) - 1
	}
	for i := len(subs) - 1; i >= oldest && i >= 0; i-- {
		if withinTolerance(amount, subs[i].Mean(), c.tolerance) {
			return subs[i]
		}
	}
	return nil
}

// withinTolerance reports whether |amount-mean| <= tolerance*|mean|.
func withinTolerance(amount, mean, tolerance decimal.Decimal) bool {
	return amount.Sub(mean).Abs().LessThanOrEqual(tolerance.Mul(mean.Abs()))
}
