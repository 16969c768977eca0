package anomaly

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

// ComprehensiveSummary is the top-level digest of a comprehensive report.
type ComprehensiveSummary struct {
	TotalRecords    int      `json:"total_records"`
	TotalAmount     float64  `json:"total_amount"`
	Recommendations []string `json:"recommendations"`
}

// ComprehensiveReport bundles the three detector results for one snapshot.
type ComprehensiveReport struct {
	Statistical *StatisticalReport   `json:"statistical_anomalies"`
	ML          *MLReport            `json:"ml_anomalies"`
	Trend       *TrendReport         `json:"trend_anomalies"`
	Summary     ComprehensiveSummary `json:"summary"`
}

// AnomalyTotal implements Report.
func (r *ComprehensiveReport) AnomalyTotal() int {
	return r.Statistical.AnomalyTotal() + r.ML.AnomalyTotal() + r.Trend.AnomalyTotal()
}

// Aggregator runs every detector over the same snapshot.
type Aggregator struct{}

// Method implements Detector.
func (Aggregator) Method() Method { return MethodComprehensive }

// Detect implements Detector.
func (a Aggregator) Detect(ctx context.Context, snap domain.Snapshot, p Params) Report {
	return a.Run(ctx, snap, p)
}

// Run builds the comprehensive report. An empty snapshot yields "No data"
// sub-reports and a single "No data available" recommendation.
func (Aggregator) Run(ctx context.Context, snap domain.Snapshot, p Params) *ComprehensiveReport {
	log := logger.FromContext(ctx)

	if snap.Empty() {
		log.Warn().Msg("Comprehensive analysis: no data")
		return &ComprehensiveReport{
			Statistical: &StatisticalReport{Anomalies: []domain.AnomalyFinding{}, Summary: summaryNoData},
			ML:          &MLReport{Anomalies: []domain.AnomalyFinding{}, Summary: summaryNoData},
			Trend:       &TrendReport{Anomalies: []domain.TrendAnomaly{}, Summary: summaryNoData},
			Summary:     ComprehensiveSummary{Recommendations: []string{summaryNoDataAvail}},
		}
	}

	stat := StatisticalDetector{}.Run(ctx, snap, p.Threshold)
	ml := IsolationDetector{}.Run(ctx, snap, p.Contamination, p.MLMinRows, p.Seed)
	trend := TrendDetector{}.Run(ctx, snap, p.ThresholdPct)

	log.Info().
		Int("statistical", stat.AnomalyCount).
		Int("ml", ml.AnomalyCount).
		Int("trend", trend.AnomalyMonths).
		Msg("Comprehensive analysis results")

	return &ComprehensiveReport{
		Statistical: stat,
		ML:          ml,
		Trend:       trend,
		Summary: ComprehensiveSummary{
			TotalRecords:    snap.Len(),
			TotalAmount:     snap.Total().InexactFloat64(),
			Recommendations: recommendations(stat.AnomalyCount, ml.AnomalyCount, trend.AnomalyMonths),
		},
	}
}

func recommendations(stat, ml, trend int) []string {
	var out []string
	if stat > 0 {
		out = append(out, fmt.Sprintf("Review %d statistical anomalies", stat))
	}
	if ml > 0 {
		out = append(out, fmt.Sprintf("Investigate %d ML anomalies", ml))
	}
	if trend > 0 {
		out = append(out, fmt.Sprintf("Analyze %d months with unusual trend", trend))
	}
	if len(out) == 0 {
		return []string{"No significant anomalies detected"}
	}
	return out
}
