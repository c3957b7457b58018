package recurrence

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
)

// Classification is the cadence verdict for one cluster.
type Classification struct {
	Frequency   domain.Frequency
	IsRecurring bool
	Confidence  float64 // in [0,1]
	MedianGap   float64 // days; 0 when fewer than 2 dates
}

// Classifier infers a cadence from a sequence of payment dates.
type Classifier struct {
	bands         []Band
	minConfidence float64
	pairCap       float64
}

// NewClassifier creates a classifier from the cadence part of p.
func NewClassifier(p Policy) *Classifier {
	bands := make([]Band, len(p.Bands))
	copy(bands, p.Bands)
	return &Classifier{
		bands:         bands,
		minConfidence: p.MinConfidence,
		pairCap:       p.PairConfidenceCap,
	}
}

// Classify labels the cadence of dates. Input order does not matter.
//
// Fewer than two dates is never recurring. Otherwise the median day-gap
// picks the band and the coefficient of variation of the gaps sets the
// confidence. A band match below the minimum confidence is not recurring.
func (c *Classifier) Classify(dates []civil.Date) Classification {
	if len(dates) < 2 {
		return Classification{Frequency: domain.FrequencyIrregular}
	}

	sorted := make([]civil.Date, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps[i-1] = float64(sorted[i].DaysSince(sorted[i-1]))
	}

	median := medianOf(gaps)
	confidence := 1 - clamp01(coefficientOfVariation(gaps))
	if len(sorted) == 2 {
		confidence = math.Min(confidence, c.pairCap)
	}

	freq := c.bandFor(median)
	return Classification{
		Frequency:   freq,
		IsRecurring: freq != domain.FrequencyIrregular && confidence >= c.minConfidence,
		Confidence:  confidence,
		MedianGap:   median,
	}
}

func (c *Classifier) bandFor(medianGap float64) domain.Frequency {
	for _, b := range c.bands {
		if medianGap >= b.MinDays && medianGap <= b.MaxDays {
			return b.Frequency
		}
	}
	return domain.FrequencyIrregular
}

func medianOf(values []float64) float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// coefficientOfVariation returns the population standard deviation divided
// by the mean. A non-positive mean is treated as maximal variation.
func coefficientOfVariation(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return 1
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
