package recurrence

import (
	"fmt"

	"github.com/dvloznov/recurring-tracker/internal/domain"
)

// Band maps an inclusive range of median day-gaps to a frequency.
type Band struct {
	Frequency domain.Frequency
	MinDays   float64
	MaxDays   float64
}

// JoinMode selects which open sub-clusters a transaction may join.
type JoinMode string

const (
	// JoinAnyOpen tries every sub-cluster of the key, newest first.
	JoinAnyOpen JoinMode = "any"
	// JoinLatest only tries the newest sub-cluster of the key.
	JoinLatest JoinMode = "latest"
)

// Policy holds the tunable thresholds of recurrence detection.
type Policy struct {
	// AmountTolerance is the relative distance from a sub-cluster's running
	// mean within which a transaction still joins it.
	AmountTolerance float64

	// MinConfidence is the confidence below which a band match is rejected.
	MinConfidence float64

	// PairConfidenceCap caps the confidence of a two-transaction cluster.
	PairConfidenceCap float64

	// Bands are checked in order; the first band containing the median gap wins.
	Bands []Band

	// Join is the sub-cluster join mode. Empty means JoinAnyOpen.
	Join JoinMode
}

// DefaultPolicy returns the default detection thresholds.
func DefaultPolicy() Policy {
	return Policy{
		AmountTolerance:   0.15,
		MinConfidence:     0.5,
		PairConfidenceCap: 0.6,
		Bands:             DefaultBands(),
		Join:              JoinAnyOpen,
	}
}

// DefaultBands returns the default day-gap bands.
func DefaultBands() []Band {
	return []Band{
		{Frequency: domain.FrequencyWeekly, MinDays: 6, MaxDays: 8},
		{Frequency: domain.FrequencyBiweekly, MinDays: 12, MaxDays: 16},
		{Frequency: domain.FrequencyMonthly, MinDays: 27, MaxDays: 32},
		{Frequency: domain.FrequencyQuarterly, MinDays: 85, MaxDays: 95},
		{Frequency: domain.FrequencyAnnual, MinDays: 350, MaxDays: 380},
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.AmountTolerance < 0 {
		return fmt.Errorf("amount tolerance must be >= 0, got %v", p.AmountTolerance)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1], got %v", p.MinConfidence)
	}
	if p.PairConfidenceCap < 0 || p.PairConfidenceCap > 1 {
		return fmt.Errorf("pair confidence cap must be in [0,1], got %v", p.PairConfidenceCap)
	}
	switch p.Join {
	case "", JoinAnyOpen, JoinLatest:
	default:
		return fmt.Errorf("unknown join mode %q", p.Join)
	}
	if len(p.Bands) == 0 {
		return fmt.Errorf("at least one cadence band is required")
	}
	for i, b := range p.Bands {
		if b.Frequency == domain.FrequencyIrregular || domain.ParseFrequency(string(b.Frequency)) != b.Frequency {
			return fmt.Errorf("band %d: invalid frequency %q", i, b.Frequency)
		}
		if b.MinDays <= 0 || b.MaxDays < b.MinDays {
			return fmt.Errorf("band %d (%s): invalid range [%v, %v]", i, b.Frequency, b.MinDays, b.MaxDays)
		}
	}
	return nil
}
