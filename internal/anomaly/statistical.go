package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	maxReportedAnomalies = 10
	summaryNoDataAvail   = "No data available"
)

// StatisticalReport is the robust z-score result.
type StatisticalReport struct {
	Method       string                  `json:"method,omitempty"`
	Threshold    float64                 `json:"threshold,omitempty"`
	AnomalyCount int                     `json:"anomaly_count"`
	Anomalies    []domain.AnomalyFinding `json:"anomalies"`
	OverallStats *Stats                  `json:"overall_stats,omitempty"`
	Summary      string                  `json:"summary,omitempty"`
}

// AnomalyTotal implements Report.
func (r *StatisticalReport) AnomalyTotal() int { return r.AnomalyCount }

// StatisticalDetector flags amounts far from the median in MAD units.
type StatisticalDetector struct{}

// Method implements Detector.
func (StatisticalDetector) Method() Method { return MethodStatistical }

// Detect implements Detector.
func (d StatisticalDetector) Detect(ctx context.Context, snap domain.Snapshot, p Params) Report {
	return d.Run(ctx, snap, p.Threshold)
}

// Run scores every record with 0.6745·(x − median)/MAD and keeps those whose
// magnitude exceeds threshold. The ten strongest are reported.
func (StatisticalDetector) Run(ctx context.Context, snap domain.Snapshot, threshold float64) *StatisticalReport {
	log := logger.FromContext(ctx)

	if snap.Empty() {
		log.Warn().Msg("Statistical analysis: no data available")
		return &StatisticalReport{Anomalies: []domain.AnomalyFinding{}, Summary: summaryNoDataAvail}
	}

	records := snap.Records()
	values := amounts(records)
	center := median(values)
	scale := robustScale(values, center)

	log.Debug().Float64("median", center).Float64("scale", scale).Msg("Statistical analysis baseline")

	type scored struct {
		idx int
		z   float64
	}
	var flagged []scored
	for i, v := range values {
		z := 0.6745 * (v - center) / scale
		if math.Abs(z) > threshold {
			flagged = append(flagged, scored{idx: i, z: z})
		}
	}
	sort.SliceStable(flagged, func(a, b int) bool {
		return math.Abs(flagged[a].z) > math.Abs(flagged[b].z)
	})

	log.Info().
		Int("anomalies", len(flagged)).
		Float64("threshold", threshold).
		Msg("Statistical analysis completed")

	findings := make([]domain.AnomalyFinding, 0, min(len(flagged), maxReportedAnomalies))
	for _, f := range flagged[:min(len(flagged), maxReportedAnomalies)] {
		z := round2(f.z)
		finding := domain.FindingFromRecord(records[f.idx], domain.DeviationStatistical,
			fmt.Sprintf("Z-score of %.2f exceeds threshold %v", math.Abs(f.z), threshold))
		finding.ZScore = &z
		findings = append(findings, finding)
	}

	return &StatisticalReport{
		Method:       "z_score",
		Threshold:    threshold,
		AnomalyCount: len(flagged),
		Anomalies:    findings,
		OverallStats: calculateStats(records),
	}
}
