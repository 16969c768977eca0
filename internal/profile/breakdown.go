package profile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	DefaultTopN     = 10
	unknownCategory = "Unknown"
)

var dimensions = map[string]func(domain.LedgerRecord) string{
	"directorate":            func(r domain.LedgerRecord) string { return r.Directorate },
	"cost_center":            func(r domain.LedgerRecord) string { return r.CostCenterID },
	"cost_center_id":         func(r domain.LedgerRecord) string { return r.CostCenterID },
	"functional_area":        func(r domain.LedgerRecord) string { return r.FunctionalArea },
	"profit_center":          func(r domain.LedgerRecord) string { return r.ProfitCenterID },
	"profit_center_id":       func(r domain.LedgerRecord) string { return r.ProfitCenterID },
	"general_ledger_account": func(r domain.LedgerRecord) string { return r.GeneralLedgerAccount },
	"account_type":           func(r domain.LedgerRecord) string { return r.AccountType },
	"supplier":               func(r domain.LedgerRecord) string { return r.Supplier },
	"region":                 func(r domain.LedgerRecord) string { return r.Region },
	"entity":                 func(r domain.LedgerRecord) string { return r.Entity },
	"level_1":                func(r domain.LedgerRecord) string { return r.Level1 },
	"level_7":                func(r domain.LedgerRecord) string { return r.Level7 },
}

// Dimensions lists the names Breakdown accepts.
func Dimensions() []string {
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BreakdownRow aggregates one value of the chosen dimension.
type BreakdownRow struct {
	Value        string  `json:"value"`
	Sum          float64 `json:"sum"`
	Count        int     `json:"count"`
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	CostCenters  int     `json:"cost_centers"`
	Directorates int     `json:"directorates"`
}

// BreakdownSummary describes the whole breakdown.
type BreakdownSummary struct {
	TotalCategories int     `json:"total_categories"`
	TotalAmount     float64 `json:"total_amount"`
	ShowingTop      int     `json:"showing_top"`
}

// BreakdownResult is the breakdown of a snapshot by one dimension. Error is
// set instead of the other fields for unknown dimensions.
type BreakdownResult struct {
	Dimension string            `json:"dimension,omitempty"`
	Rows      []BreakdownRow    `json:"breakdown,omitempty"`
	Summary   *BreakdownSummary `json:"summary_stats,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type bucket struct {
	sum          decimal.Decimal
	amounts      []float64
	costCenters  map[string]struct{}
	directorates map[string]struct{}
}

// Breakdown groups snap by dimension and returns the topN values by summed
// amount. Empty values are grouped as "Unknown".
func Breakdown(ctx context.Context, snap domain.Snapshot, dimension string, topN int) BreakdownResult {
	name := strings.ToLower(strings.TrimSpace(dimension))
	value, ok := dimensions[name]
	if !ok {
		return BreakdownResult{Error: fmt.Sprintf("Unknown dimension %s", dimension)}
	}
	if topN <= 0 {
		topN = DefaultTopN
	}

	buckets := make(map[string]*bucket)
	for _, r := range snap.Records() {
		k := value(r)
		if k == "" {
			k = unknownCategory
		}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{costCenters: map[string]struct{}{}, directorates: map[string]struct{}{}}
			buckets[k] = b
		}
		b.sum = b.sum.Add(r.SignedAmount)
		b.amounts = append(b.amounts, r.Amount)
		if r.CostCenterID != "" {
			b.costCenters[r.CostCenterID] = struct{}{}
		}
		if r.Directorate != "" {
			b.directorates[r.Directorate] = struct{}{}
		}
	}

	rows := make([]BreakdownRow, 0, len(buckets))
	for k, b := range buckets {
		n := len(b.amounts)
		rows = append(rows, BreakdownRow{
			Value:        k,
			Sum:          round2(b.sum.InexactFloat64()),
			Count:        n,
			Mean:         round2(b.sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64()),
			Std:          round2(sampleStd(b.amounts)),
			CostCenters:  len(b.costCenters),
			Directorates: len(b.directorates),
		})
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Sum != rows[b].Sum {
			return rows[a].Sum > rows[b].Sum
		}
		return rows[a].Value < rows[b].Value
	})

	log := logger.FromContext(ctx)
	log.Info().
		Str("dimension", name).
		Int("categories", len(rows)).
		Msg("Ledger breakdown built")

	return BreakdownResult{
		Dimension: name,
		Rows:      rows[:min(len(rows), topN)],
		Summary: &BreakdownSummary{
			TotalCategories: len(rows),
			TotalAmount:     snap.Total().InexactFloat64(),
			ShowingTop:      min(len(rows), topN),
		},
	}
}

func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}
