package recurrence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
)

// Batch is the set of transactions extracted from one statement.
type Batch struct {
	UserID       string
	Transactions []domain.Transaction
}

// PriorState is everything already known about a user.
type PriorState struct {
	Payments     []domain.RecurringPayment
	Attributions []domain.Attribution

	// Unmatched holds earlier transactions of the user that were never
	// attributed. They take part in clustering again.
	Unmatched []domain.Transaction
}

// Changeset lists what a detection pass wants persisted.
type Changeset struct {
	Created      []domain.RecurringPayment
	Updated      []domain.RecurringPayment
	Unchanged    []domain.RecurringPayment
	Attributions []domain.Attribution
}

// IsEmpty reports whether the changeset would modify stored state.
func (c Changeset) IsEmpty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Attributions) == 0
}

// AttributedIDs returns the canonical IDs of newly attributed transactions.
func (c Changeset) AttributedIDs() map[string]string {
	out := make(map[string]string, len(c.Attributions))
	for _, a := range c.Attributions {
		out[a.TransactionID.String()] = a.NormalizedKey
	}
	return out
}

// Result is the outcome of one detection pass.
type Result struct {
	Changeset   Changeset
	Diagnostics Diagnostics

	// Recurring is the full post-merge set of the user's records, ordered by
	// normalized key.
	Recurring []domain.RecurringPayment
}

// Detector runs normalization, clustering, cadence classification and
// aggregation over one batch.
type Detector struct {
	clusterer  *Clusterer
	aggregator *Aggregator
}

// NewDetector validates p and creates a detector.
func NewDetector(p Policy) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("NewDetector: invalid policy: %w", err)
	}
	return &Detector{
		clusterer:  NewClusterer(p.AmountTolerance, p.Join),
		aggregator: NewAggregator(p),
	}, nil
}

// candidate is a transaction taking part in this pass.
type candidate struct {
	tx    domain.Transaction
	fresh bool // first seen in this batch
}

// Detect computes the changeset for batch against prior. It has no side
// effects besides logging, and the same inputs always give the same result.
//
// A cluster is only accepted when it contains at least one transaction that
// was not already part of the user's unmatched history. Running Detect again
// after committing its changeset therefore yields an empty changeset.
func (d *Detector) Detect(ctx context.Context, batch Batch, prior PriorState) *Result {
	log := logger.FromContext(ctx).With().Str("user_id", batch.UserID).Logger()
	res := &Result{}

	attributed := make(map[string]bool, len(prior.Attributions))
	history := make(map[string][]civil.Date)
	for _, a := range prior.Attributions {
		attributed[a.TransactionID.String()] = true
		history[a.NormalizedKey] = append(history[a.NormalizedKey], a.TransactionID.Date)
	}

	// Earlier unmatched transactions first, then the batch.
	seen := make(map[string]bool)
	var pool []candidate
	for _, tx := range prior.Unmatched {
		if len(tx.MissingFields()) > 0 {
			continue
		}
		id := tx.ID().String()
		if attributed[id] || seen[id] || Normalize(tx.Description) == UnknownKey {
			continue
		}
		seen[id] = true
		pool = append(pool, candidate{tx: tx})
	}

	inBatch := make(map[string]bool, len(batch.Transactions))
	for i, tx := range batch.Transactions {
		if missing := tx.MissingFields(); len(missing) > 0 {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:    KindMalformedTransaction,
				Index:   i,
				Message: "missing " + strings.Join(missing, ", "),
			})
			continue
		}

		id := tx.ID().String()
		if inBatch[id] {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:    KindDuplicateTransaction,
				Index:   i,
				Message: "duplicate of an earlier transaction in the batch: " + id,
			})
			continue
		}
		inBatch[id] = true

		key := Normalize(tx.Description)
		if key == UnknownKey {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:    KindAmbiguousMerchantKey,
				Index:   i,
				Message: fmt.Sprintf("no merchant information in %q", tx.Description),
			})
			continue
		}
		if attributed[id] {
			log.Debug().Str("transaction_id", id).Msg("Transaction already attributed, skipping")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		pool = append(pool, candidate{tx: tx, fresh: true})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].tx.Date.Before(pool[j].tx.Date)
	})
	fresh := make(map[string]bool)
	txs := make([]domain.Transaction, len(pool))
	for i, c := range pool {
		txs[i] = c.tx
		if c.fresh {
			fresh[c.tx.ID().String()] = true
		}
	}

	records := make(map[string]domain.RecurringPayment, len(prior.Payments))
	inconsistent := make(map[string]bool)
	for _, p := range prior.Payments {
		records[p.NormalizedKey] = p
		if p.TransactionCount > 0 && len(history[p.NormalizedKey]) == 0 {
			inconsistent[p.NormalizedKey] = true
			log.Warn().
				Str("normalized_key", p.NormalizedKey).
				Int64("transaction_count", p.TransactionCount).
				Msg("Recurring payment has no attributed transactions, leaving it unchanged")
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:          KindInconsistentHistory,
				Index:         -1,
				NormalizedKey: p.NormalizedKey,
				Message:       fmt.Sprintf("record has transaction_count %d but no attributed transactions", p.TransactionCount),
			})
		}
	}

	byKey := d.clusterer.Cluster(txs).ByKey()
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updated := make(map[string]domain.RecurringPayment)
	for _, key := range keys {
		if inconsistent[key] {
			continue
		}

		var subs []*Cluster
		for _, c := range byKey[key] {
			if hasFresh(c, fresh) {
				subs = append(subs, c)
			}
		}
		if len(subs) == 0 {
			continue
		}

		var existing *domain.RecurringPayment
		if p, ok := records[key]; ok {
			existing = &p
		}
		sel := d.aggregator.Select(subs, existing, history[key])

		for _, loser := range sel.Losers {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:          KindSplitCluster,
				Index:         -1,
				NormalizedKey: key,
				Message: fmt.Sprintf("sub-cluster %d (%d transactions, mean %s) left unattributed",
					loser.Seq, loser.Size(), loser.Mean().StringFixed(2)),
			})
		}
		if sel.Winner == nil {
			continue
		}

		if existing == nil {
			p := d.aggregator.Create(batch.UserID, sel.Winner, sel.Classification)
			res.Changeset.Created = append(res.Changeset.Created, p)
			log.Info().
				Str("normalized_key", key).
				Str("frequency", string(p.Frequency)).
				Int64("transaction_count", p.TransactionCount).
				Msg("Recurring payment detected")
		} else {
			p := d.aggregator.Merge(*existing, sel.Winner, sel.Classification)
			updated[key] = p
			res.Changeset.Updated = append(res.Changeset.Updated, p)
			log.Info().
				Str("normalized_key", key).
				Str("frequency", string(p.Frequency)).
				Int64("transaction_count", p.TransactionCount).
				Msg("Recurring payment updated")
		}

		for _, tx := range sel.Winner.Transactions {
			res.Changeset.Attributions = append(res.Changeset.Attributions, domain.Attribution{
				TransactionID: tx.ID(),
				UserID:        batch.UserID,
				NormalizedKey: key,
			})
		}
	}

	for _, p := range prior.Payments {
		if u, ok := updated[p.NormalizedKey]; ok {
			res.Recurring = append(res.Recurring, u)
			continue
		}
		res.Changeset.Unchanged = append(res.Changeset.Unchanged, p)
		res.Recurring = append(res.Recurring, p)
	}
	res.Recurring = append(res.Recurring, res.Changeset.Created...)
	sort.SliceStable(res.Recurring, func(i, j int) bool {
		return res.Recurring[i].NormalizedKey < res.Recurring[j].NormalizedKey
	})

	log.Debug().
		Int("batch_size", len(batch.Transactions)).
		Int("created", len(res.Changeset.Created)).
		Int("updated", len(res.Changeset.Updated)).
		Int("attributed", len(res.Changeset.Attributions)).
		Int("diagnostics", len(res.Diagnostics)).
		Msg("Recurrence detection finished")

	return res
}

func hasFresh(c *Cluster, fresh map[string]bool) bool {
	for _, tx := range c.Transactions {
		if fresh[tx.ID().String()] {
			return true
		}
	}
	return false
}
