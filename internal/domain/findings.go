package domain

// DeviationType labels which detector produced a finding.
type DeviationType string

const (
	DeviationStatistical DeviationType = "statistical_outlier"
	DeviationIsolation   DeviationType = "ml_isolation_forest"
	DeviationTrend       DeviationType = "trend_anomaly"
)

// AnomalyFinding is one flagged transaction.
type AnomalyFinding struct {
	ID                 string        `json:"id"`
	CostCenterID       string        `json:"cost_center_id"`
	CostCenterName     string        `json:"cost_center_name"`
	Amount             float64       `json:"amount"`
	ZScore             *float64      `json:"z_score,omitempty"`
	PeriodKey          string        `json:"month_year"`
	Directorate        string        `json:"directorate"`
	FunctionalAreaName string        `json:"functional_area_name"`
	DeviationType      DeviationType `json:"deviation_type"`
	Reason             string        `json:"reason"`
}

// FindingFromRecord copies the context fields of a record into a finding.
func FindingFromRecord(r LedgerRecord, kind DeviationType, reason string) AnomalyFinding {
	return AnomalyFinding{
		ID:                 r.ID,
		CostCenterID:       r.CostCenterID,
		CostCenterName:     r.CostCenterName,
		Amount:             r.Amount,
		PeriodKey:          r.PeriodKey,
		Directorate:        r.Directorate,
		FunctionalAreaName: r.FunctionalAreaName,
		DeviationType:      kind,
		Reason:             reason,
	}
}

// Contributor is one (cost center, directorate) group inside a period.
type Contributor struct {
	CostCenterID       string  `json:"cost_center_id"`
	CostCenterName     string  `json:"cost_center_name"`
	Directorate        string  `json:"directorate"`
	FunctionalAreaName string  `json:"functional_area_name"`
	Amount             float64 `json:"amount"`
}

// TrendPoint is the aggregate of one reporting period. ChangePercent is nil
// when there is no previous period or the previous total was zero.
type TrendPoint struct {
	PeriodKey     string   `json:"month_year"`
	Amount        float64  `json:"amount"`
	ChangePercent *float64 `json:"pct_change"`
}

// TrendAnomaly is a period whose total moved more than the threshold.
type TrendAnomaly struct {
	PeriodKey           string        `json:"month_year"`
	TotalAmount         float64       `json:"total_amount"`
	ChangePercent       float64       `json:"mom_change_percent"`
	DeviationType       DeviationType `json:"deviation_type"`
	Reason              string        `json:"reason"`
	TopContributors     []Contributor `json:"top_contributors"`
	AffectedCostCenters int           `json:"affected_cost_centers"`
}

// FeatureImportance is one dimension's share of the fitted model.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Residual compares a combination's actual amount with the model's
// expectation for it.
type Residual struct {
	PeriodKey  string            `json:"month_year"`
	Dimensions map[string]string `json:"dimensions"`
	Actual     float64           `json:"amount"`
	Predicted  float64           `json:"predicted"`
	Residual   float64           `json:"residual"`
}

// ModelPerformance holds fit quality on the training set.
type ModelPerformance struct {
	MAE float64 `json:"mae"`
}

// AttributionResult is the outcome of one root-cause analysis. Error is set
// instead of the other fields when the analysis could not run.
type AttributionResult struct {
	Period            string              `json:"period,omitempty"`
	MLMethod          string              `json:"ml_method,omitempty"`
	FeatureImportance []FeatureImportance `json:"feature_importance,omitempty"`
	ModelPerformance  *ModelPerformance   `json:"model_performance,omitempty"`
	TopResiduals      []Residual          `json:"top_residuals,omitempty"`
	KeyInsights       []string            `json:"key_insights,omitempty"`
	Error             string              `json:"error,omitempty"`
}

// Failed reports whether the result carries an error instead of findings.
func (a AttributionResult) Failed() bool {
	return a.Error != ""
}
