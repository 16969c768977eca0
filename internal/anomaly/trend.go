package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	maxContributors = 3
	summaryNoData   = "No data"
)

// TrendReport is the month-over-month result.
type TrendReport struct {
	Method         string                `json:"method,omitempty"`
	ThresholdPct   float64               `json:"threshold_percent,omitempty"`
	AnomalyMonths  int                   `json:"anomaly_months"`
	Anomalies      []domain.TrendAnomaly `json:"anomalies"`
	MonthlySummary []domain.TrendPoint   `json:"monthly_summary,omitempty"`
	OverallStats   *Stats                `json:"overall_stats,omitempty"`
	Summary        string                `json:"summary,omitempty"`
}

// AnomalyTotal implements Report.
func (r *TrendReport) AnomalyTotal() int { return r.AnomalyMonths }

// TrendDetector flags periods whose total moved sharply against the previous
// period.
type TrendDetector struct{}

// Method implements Detector.
func (TrendDetector) Method() Method { return MethodTrend }

// Detect implements Detector.
func (d TrendDetector) Detect(ctx context.Context, snap domain.Snapshot, p Params) Report {
	return d.Run(ctx, snap, p.ThresholdPct)
}

// Run aggregates records with a period key and compares each period with
// the one before it. The first period never has a change.
func (TrendDetector) Run(ctx context.Context, snap domain.Snapshot, thresholdPct float64) *TrendReport {
	log := logger.FromContext(ctx)

	valid := snap.WithPeriod()
	if len(valid) == 0 {
		log.Warn().Int("rows", snap.Len()).Msg("Trend analysis: no data available")
		return &TrendReport{Anomalies: []domain.TrendAnomaly{}, Summary: summaryNoData}
	}

	byPeriod := make(map[string][]domain.LedgerRecord)
	for _, r := range valid {
		byPeriod[r.PeriodKey] = append(byPeriod[r.PeriodKey], r)
	}
	periods := make([]string, 0, len(byPeriod))
	for k := range byPeriod {
		periods = append(periods, k)
	}
	sort.Strings(periods)

	log.Info().Int("periods", len(periods)).Msg("Trend analysis: analyzing periods")

	monthly := make([]domain.TrendPoint, len(periods))
	anomalies := []domain.TrendAnomaly{}
	var prev decimal.Decimal
	for i, period := range periods {
		total := domain.SnapshotOf(byPeriod[period]).Total()
		point := domain.TrendPoint{PeriodKey: period, Amount: total.InexactFloat64()}
		if i > 0 && !prev.IsZero() {
			pct := total.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).InexactFloat64()
			point.ChangePercent = &pct
		}
		monthly[i] = point
		prev = total

		if point.ChangePercent == nil || math.Abs(*point.ChangePercent) <= thresholdPct {
			continue
		}
		pct := *point.ChangePercent
		contributors, costCenters := periodContributors(byPeriod[period])
		anomalies = append(anomalies, domain.TrendAnomaly{
			PeriodKey:           period,
			TotalAmount:         point.Amount,
			ChangePercent:       round2(pct),
			DeviationType:       domain.DeviationTrend,
			Reason:              fmt.Sprintf("MoM change of %.2f%%", pct),
			TopContributors:     contributors,
			AffectedCostCenters: costCenters,
		})
	}

	log.Info().
		Int("anomalies", len(anomalies)).
		Float64("threshold_pct", thresholdPct).
		Msg("Trend analysis completed")

	return &TrendReport{
		Method:         "trend_analysis",
		ThresholdPct:   thresholdPct,
		AnomalyMonths:  len(anomalies),
		Anomalies:      anomalies,
		MonthlySummary: monthly,
		OverallStats:   calculateStats(valid),
	}
}

type contributorKey struct {
	costCenterID   string
	costCenterName string
	directorate    string
}

// periodContributors groups one period's records by cost center and
// directorate, returning the largest groups by magnitude and the number of
// distinct cost centers seen.
func periodContributors(records []domain.LedgerRecord) ([]domain.Contributor, int) {
	sums := make(map[contributorKey]decimal.Decimal)
	area := make(map[contributorKey]string)
	var order []contributorKey
	centers := make(map[string]struct{})

	for _, r := range records {
		if r.CostCenterID != "" {
			centers[r.CostCenterID] = struct{}{}
		}
		k := contributorKey{r.CostCenterID, r.CostCenterName, r.Directorate}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
			area[k] = r.FunctionalAreaName
		}
		sums[k] = sums[k].Add(r.SignedAmount)
	}

	sort.SliceStable(order, func(a, b int) bool {
		return sums[order[a]].Abs().GreaterThan(sums[order[b]].Abs())
	})

	out := make([]domain.Contributor, 0, min(len(order), maxContributors))
	for _, k := range order[:min(len(order), maxContributors)] {
		out = append(out, domain.Contributor{
			CostCenterID:       k.costCenterID,
			CostCenterName:     k.costCenterName,
			Directorate:        k.directorate,
			FunctionalAreaName: area[k],
			Amount:             sums[k].InexactFloat64(),
		})
	}
	return out, len(centers)
}
