package anomaly

import (
	"math"
	"sort"

	"github.com/dvloznov/expense-insight/internal/domain"
)

// madNormalScale makes the MAD a consistent estimator of the standard
// deviation for normally distributed data.
const madNormalScale = 1.482602218505602

// Stats summarizes the amounts of a record set.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
}

func amounts(records []domain.LedgerRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Amount
	}
	return out
}

func calculateStats(records []domain.LedgerRecord) *Stats {
	values := amounts(records)
	sum := domain.SnapshotOf(records).Total().InexactFloat64()
	return &Stats{
		Mean:   mean(values),
		Median: median(values),
		Std:    sampleStd(values),
		Count:  len(values),
		Sum:    sum,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// scaledMAD is the median absolute deviation scaled to the normal sigma.
func scaledMAD(values []float64, center float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - center)
	}
	return median(dev) * madNormalScale
}

func meanAbsDeviation(values []float64) float64 {
	m := mean(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - m)
	}
	return mean(dev)
}

// sampleStd uses n-1 degrees of freedom; fewer than two values give 0.
func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(n-1))
}

// robustScale returns the spread used as the z-score denominator, falling
// back through mean absolute deviation and standard deviation to 1.
func robustScale(values []float64, center float64) float64 {
	for _, s := range []float64{
		scaledMAD(values, center),
		meanAbsDeviation(values),
		sampleStd(values),
	} {
		if s != 0 && !math.IsNaN(s) && !math.IsInf(s, 0) {
			return s
		}
	}
	return 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
