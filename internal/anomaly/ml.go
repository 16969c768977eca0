package anomaly

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/learn"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	hashedWidth = 10

	highExpenseAmount = 50000.0
	largeRefundAmount = -10000.0

	summaryInsufficientML = "Insufficient data for ML"
)

// MLReport is the isolation forest result.
type MLReport struct {
	Method        string                  `json:"method,omitempty"`
	Contamination float64                 `json:"contamination,omitempty"`
	AnomalyCount  int                     `json:"anomaly_count"`
	Anomalies     []domain.AnomalyFinding `json:"anomalies"`
	OverallStats  *Stats                  `json:"overall_stats,omitempty"`
	Summary       string                  `json:"summary,omitempty"`
}

// AnomalyTotal implements Report.
func (r *MLReport) AnomalyTotal() int { return r.AnomalyCount }

// IsolationDetector flags records an isolation forest separates quickly,
// using the amount and hashed organizational context as features.
type IsolationDetector struct{}

// Method implements Detector.
func (IsolationDetector) Method() Method { return MethodML }

// Detect implements Detector.
func (d IsolationDetector) Detect(ctx context.Context, snap domain.Snapshot, p Params) Report {
	return d.Run(ctx, snap, p.Contamination, p.MLMinRows, p.Seed)
}

// Run fits a fresh forest over snap. Fewer than minRows records skip fitting.
func (IsolationDetector) Run(ctx context.Context, snap domain.Snapshot, contamination float64, minRows int, seed uint64) (report *MLReport) {
	log := logger.FromContext(ctx)

	if snap.Empty() || snap.Len() < minRows {
		log.Warn().Int("rows", snap.Len()).Msg("ML analysis: insufficient data")
		return &MLReport{Anomalies: []domain.AnomalyFinding{}, Summary: summaryInsufficientML}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ML anomaly detection failed")
			report = mlFailure(fmt.Errorf("%v", r))
		}
	}()

	records := snap.Records()
	X := mlFeatures(records)
	log.Info().Int("rows", len(X)).Int("cols", len(X[0])).Msg("ML analysis: feature matrix built")

	forest := learn.NewIsolationForest(contamination, seed)
	flags, scores, err := forest.FitPredict(X)
	if err != nil {
		log.Error().Err(err).Msg("ML anomaly detection failed")
		return mlFailure(err)
	}

	var flagged []int
	for i, f := range flags {
		if f {
			flagged = append(flagged, i)
		}
	}
	sort.SliceStable(flagged, func(a, b int) bool {
		return scores[flagged[a]] > scores[flagged[b]]
	})

	log.Info().
		Int("anomalies", len(flagged)).
		Float64("contamination", contamination).
		Msg("ML analysis completed")

	findings := make([]domain.AnomalyFinding, 0, min(len(flagged), maxReportedAnomalies))
	for _, i := range flagged[:min(len(flagged), maxReportedAnomalies)] {
		findings = append(findings, domain.FindingFromRecord(records[i], domain.DeviationIsolation, mlReason(records[i].Amount)))
	}

	return &MLReport{
		Method:        "isolation_forest",
		Contamination: contamination,
		AnomalyCount:  len(flagged),
		Anomalies:     findings,
		OverallStats:  calculateStats(records),
	}
}

func mlFailure(err error) *MLReport {
	return &MLReport{
		Anomalies: []domain.AnomalyFinding{},
		Summary:   fmt.Sprintf("ML error: %v", err),
	}
}

// mlFeatures lays out one row per record: amount, then hashed cost center,
// functional area and directorate blocks.
func mlFeatures(records []domain.LedgerRecord) [][]float64 {
	hasher := learn.NewFeatureHasher(hashedWidth)
	X := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, 1+3*hashedWidth)
		row[0] = r.Amount
		hasher.TransformInto(row[1:1+hashedWidth], r.CostCenterID)
		hasher.TransformInto(row[1+hashedWidth:1+2*hashedWidth], r.FunctionalArea)
		hasher.TransformInto(row[1+2*hashedWidth:], r.Directorate)
		X[i] = row
	}
	return X
}

func mlReason(amount float64) string {
	switch {
	case amount > highExpenseAmount:
		return "Unusual pattern - high expense"
	case amount < largeRefundAmount:
		return "Unusual pattern - large refund"
	default:
		return "Unusual pattern"
	}
}
