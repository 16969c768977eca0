// Package profile summarizes a ledger snapshot for exploration: data
// quality, totals and the largest organizational groups.
package profile

import (
	"context"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	topGroups    = 5
	topPeriods   = 6
	topSuppliers = 10
)

// Total is one group's summed signed amount.
type Total struct {
	Key    string  `json:"key"`
	Amount float64 `json:"amount"`
}

// SignCounts counts records by amount sign.
type SignCounts struct {
	Positive int `json:"amount_records"`
	Zero     int `json:"zero_amount_records"`
	Negative int `json:"negative_amount_records"`
}

// DataQuality reports missing and distinct values per field.
type DataQuality struct {
	MissingValues map[string]int `json:"missing_values"`
	UniqueCounts  map[string]int `json:"unique_counts"`
	Completeness  SignCounts     `json:"data_completeness"`
}

// FinancialSummary holds whole-ledger amount statistics.
type FinancialSummary struct {
	TotalAmount   float64 `json:"total_amount"`
	AverageAmount float64 `json:"average_amount"`
	MedianAmount  float64 `json:"median_amount"`
}

// Organizational lists the largest groups per dimension.
type Organizational struct {
	TopDirectorates     []Total `json:"top_directorates"`
	TopProfitCenters    []Total `json:"top_profit_centers"`
	TopCostCenters      []Total `json:"top_cost_centers"`
	TopFunctionalAreas  []Total `json:"top_functional_areas"`
	GeneralLedgerByType []Total `json:"general_ledger_account_types"`
}

// Temporal groups amounts by fiscal year and by period.
type Temporal struct {
	ByFiscalYear []Total `json:"by_fiscal_year"`
	TopPeriods   []Total `json:"recent_months"`
}

// Suppliers lists the largest suppliers.
type Suppliers struct {
	TopSuppliers  []Total `json:"top_suppliers"`
	SupplierCount int     `json:"supplier_count"`
}

// Profile is the exploratory summary of a snapshot.
type Profile struct {
	TotalRows      int              `json:"total_rows"`
	DataQuality    DataQuality      `json:"data_quality"`
	Financial      FinancialSummary `json:"financial_summary"`
	Organizational Organizational   `json:"organizational_breakdown"`
	Temporal       Temporal         `json:"temporal_analysis"`
	Suppliers      Suppliers        `json:"supplier_analysis"`
	DebitCredit    []Total          `json:"debit_credit_split"`
	Error          string           `json:"error,omitempty"`
}

// profiledFields are checked for missing and distinct values.
var profiledFields = []struct {
	name  string
	value func(domain.LedgerRecord) string
}{
	{"cost_center_id", func(r domain.LedgerRecord) string { return r.CostCenterID }},
	{"functional_area", func(r domain.LedgerRecord) string { return r.FunctionalArea }},
	{"directorate", func(r domain.LedgerRecord) string { return r.Directorate }},
	{"profit_center_id", func(r domain.LedgerRecord) string { return r.ProfitCenterID }},
	{"general_ledger_account", func(r domain.LedgerRecord) string { return r.GeneralLedgerAccount }},
	{"account_type", func(r domain.LedgerRecord) string { return r.AccountType }},
	{"supplier", func(r domain.LedgerRecord) string { return r.Supplier }},
	{"region", func(r domain.LedgerRecord) string { return r.Region }},
	{"entity", func(r domain.LedgerRecord) string { return r.Entity }},
	{"fiscal_year", func(r domain.LedgerRecord) string { return r.FiscalYear }},
	{"posting_period", func(r domain.LedgerRecord) string { return r.PostingPeriod }},
	{"month_year", func(r domain.LedgerRecord) string { return r.PeriodKey }},
}

// Build computes the profile of snap. Empty fields are treated as missing
// and left out of group totals.
func Build(ctx context.Context, snap domain.Snapshot) *Profile {
	records := snap.Records()

	p := &Profile{
		TotalRows: len(records),
		DataQuality: DataQuality{
			MissingValues: make(map[string]int, len(profiledFields)),
			UniqueCounts:  make(map[string]int, len(profiledFields)),
		},
	}

	for _, f := range profiledFields {
		distinct := make(map[string]struct{})
		missing := 0
		for _, r := range records {
			v := f.value(r)
			if v == "" {
				missing++
				continue
			}
			distinct[v] = struct{}{}
		}
		p.DataQuality.MissingValues[f.name] = missing
		p.DataQuality.UniqueCounts[f.name] = len(distinct)
	}

	amounts := make([]float64, len(records))
	for i, r := range records {
		amounts[i] = r.Amount
		switch r.SignedAmount.Sign() {
		case 1:
			p.DataQuality.Completeness.Positive++
		case 0:
			p.DataQuality.Completeness.Zero++
		default:
			p.DataQuality.Completeness.Negative++
		}
	}

	total := snap.Total()
	p.Financial.TotalAmount = total.InexactFloat64()
	if len(records) > 0 {
		p.Financial.AverageAmount = total.Div(decimal.NewFromInt(int64(len(records)))).InexactFloat64()
		p.Financial.MedianAmount = median(amounts)
	}

	p.Organizational = Organizational{
		TopDirectorates:     top(groupTotals(records, func(r domain.LedgerRecord) string { return r.Directorate }), topGroups),
		TopProfitCenters:    top(groupTotals(records, func(r domain.LedgerRecord) string { return r.ProfitCenterID }), topGroups),
		TopCostCenters:      top(groupTotals(records, func(r domain.LedgerRecord) string { return r.CostCenterID }), topGroups),
		TopFunctionalAreas:  top(groupTotals(records, func(r domain.LedgerRecord) string { return r.FunctionalArea }), topGroups),
		GeneralLedgerByType: byKey(groupTotals(records, func(r domain.LedgerRecord) string { return r.AccountType })),
	}
	p.Temporal = Temporal{
		ByFiscalYear: byKey(groupTotals(records, func(r domain.LedgerRecord) string { return r.FiscalYear })),
		TopPeriods:   top(groupTotals(records, func(r domain.LedgerRecord) string { return r.PeriodKey }), topPeriods),
	}
	suppliers := groupTotals(records, func(r domain.LedgerRecord) string { return r.Supplier })
	p.Suppliers = Suppliers{TopSuppliers: top(suppliers, topSuppliers), SupplierCount: len(suppliers)}
	p.DebitCredit = byKey(groupTotals(records, func(r domain.LedgerRecord) string { return r.Indicator }))

	log := logger.FromContext(ctx)
	log.Info().Int("rows", p.TotalRows).Msg("Ledger profile built")
	return p
}

// groupTotals sums signed amounts per non-empty key.
func groupTotals(records []domain.LedgerRecord, key func(domain.LedgerRecord) string) map[string]decimal.Decimal {
	sums := make(map[string]decimal.Decimal)
	for _, r := range records {
		k := key(r)
		if k == "" {
			continue
		}
		sums[k] = sums[k].Add(r.SignedAmount)
	}
	return sums
}

// top returns the n largest totals, ties broken by key.
func top(sums map[string]decimal.Decimal, n int) []Total {
	out := toTotals(sums)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Amount != out[b].Amount {
			return out[a].Amount > out[b].Amount
		}
		return out[a].Key < out[b].Key
	})
	return out[:min(len(out), n)]
}

// byKey returns every total ordered by key.
func byKey(sums map[string]decimal.Decimal) []Total {
	out := toTotals(sums)
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

func toTotals(sums map[string]decimal.Decimal) []Total {
	out := make([]Total, 0, len(sums))
	for k, v := range sums {
		out = append(out, Total{Key: k, Amount: v.InexactFloat64()})
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
