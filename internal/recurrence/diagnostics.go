package recurrence

import (
	"fmt"
	"strings"
)

// DiagnosticKind classifies a non-fatal problem found during detection.
type DiagnosticKind string

const (
	// KindMalformedTransaction: a required field is missing; the
	// transaction was skipped.
	KindMalformedTransaction DiagnosticKind = "malformed_transaction"

	// KindAmbiguousMerchantKey: the description normalized to UnknownKey;
	// the transaction stays unattributed.
	KindAmbiguousMerchantKey DiagnosticKind = "ambiguous_merchant_key"

	// KindInconsistentHistory: a stored record has no attributed
	// transactions to merge against; it was left unchanged.
	KindInconsistentHistory DiagnosticKind = "inconsistent_history"

	// KindDuplicateTransaction: the same transaction identity appeared more
	// than once in the batch; only the first was kept.
	KindDuplicateTransaction DiagnosticKind = "duplicate_transaction"

	// KindSplitCluster: several accepted sub-clusters shared a merchant key;
	// only one was attributed.
	KindSplitCluster DiagnosticKind = "split_cluster"
)

// Diagnostic describes one skipped, excluded or unmerged item.
type Diagnostic struct {
	Kind          DiagnosticKind
	Index         int    // position in the batch, -1 when not tied to a transaction
	NormalizedKey string // when known
	Message       string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	if d.Index >= 0 {
		fmt.Fprintf(&b, " [tx %d]", d.Index)
	}
	if d.NormalizedKey != "" {
		fmt.Fprintf(&b, " key=%q", d.NormalizedKey)
	}
	if d.Message != "" {
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}

// Diagnostics is the report of one detection pass.
type Diagnostics []Diagnostic

// Count returns how many diagnostics are of kind k.
func (ds Diagnostics) Count(k DiagnosticKind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}
