package rca

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-insight/internal/domain"
)

func ledger(periods []string, perPeriod int) domain.Snapshot {
	var rows []domain.RawRecord
	n := 0
	for p, period := range periods {
		for i := 0; i < perPeriod; i++ {
			cc := fmt.Sprintf("CC%d", i%4)
			amount := float64((i%4+1)*1000 + p*100)
			rows = append(rows, domain.RawRecord{
				ID:            fmt.Sprintf("r%d", n),
				CostCenterID:  cc,
				Directorate:   "Finance",
				FiscalYear:    "2023",
				PostingPeriod: period,
				Value:         decimal.NewFromFloat(amount),
				Indicator:     domain.IndicatorDebit,
			})
			n++
		}
	}
	return domain.NewSnapshot(rows)
}

func TestAnalyzeRanksDrivingDimension(t *testing.T) {
	snap := ledger([]string{"1", "2", "3"}, 12)

	res := NewEngine().Analyze(context.Background(), snap, "2023-01", "2023-02")

	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "random_forest", res.MLMethod)
	require.NotEmpty(t, res.FeatureImportance)
	assert.LessOrEqual(t, len(res.FeatureImportance), 5)
	assert.Equal(t, "cost_center_id", res.FeatureImportance[0].Feature)
	assert.Greater(t, res.FeatureImportance[0].Importance, 0.9)
	for i := 1; i < len(res.FeatureImportance); i++ {
		assert.GreaterOrEqual(t, res.FeatureImportance[i-1].Importance, res.FeatureImportance[i].Importance)
	}

	require.NotNil(t, res.ModelPerformance)
	assert.GreaterOrEqual(t, res.ModelPerformance.MAE, 0.0)

	require.NotEmpty(t, res.TopResiduals)
	assert.LessOrEqual(t, len(res.TopResiduals), 5)
	for i, r := range res.TopResiduals {
		assert.Contains(t, []string{"2023-01", "2023-02"}, r.PeriodKey)
		assert.InDelta(t, r.Actual-r.Predicted, r.Residual, 1e-9)
		assert.Equal(t, "Unknown", r.Dimensions["supplier"])
		assert.Equal(t, "Finance", r.Dimensions["directorate"])
		if i > 0 {
			assert.GreaterOrEqual(t, math.Abs(res.TopResiduals[i-1].Residual), math.Abs(r.Residual))
		}
	}

	require.Len(t, res.KeyInsights, 3)
	assert.Contains(t, res.KeyInsights[0], "Top driver: cost_center_id (")
	assert.Contains(t, res.KeyInsights[1], "Second: ")
	assert.Equal(t, "Few features dominate the model", res.KeyInsights[2])
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	snap := ledger([]string{"1", "2", "3", "4"}, 10)
	engine := NewEngine()

	a := engine.Analyze(context.Background(), snap, "2023-02", "2023-03")
	b := engine.Analyze(context.Background(), snap, "2023-02", "2023-03")

	require.False(t, a.Failed())
	assert.Equal(t, a.FeatureImportance, b.FeatureImportance)
	assert.Equal(t, a.TopResiduals, b.TopResiduals)
	assert.Equal(t, a.ModelPerformance, b.ModelPerformance)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	snap := ledger([]string{"1", "2"}, 9)

	res := NewEngine().Analyze(context.Background(), snap, "2023-01", "2023-02")

	assert.True(t, res.Failed())
	assert.Equal(t, "Insufficient data for ML analysis", res.Error)
	assert.Empty(t, res.FeatureImportance)
}

func TestAnalyzeIgnoresRecordsWithoutPeriod(t *testing.T) {
	rows := make([]domain.RawRecord, 30)
	for i := range rows {
		rows[i] = domain.RawRecord{
			ID:         fmt.Sprintf("r%d", i),
			FiscalYear: "2023",
			Value:      decimal.NewFromInt(10),
			Indicator:  domain.IndicatorDebit,
		}
	}

	res := NewEngine().Analyze(context.Background(), domain.NewSnapshot(rows), "2023-01", "2023-02")

	assert.Equal(t, "Insufficient data for ML analysis", res.Error)
}

func TestAnalyzeUnknownPeriodsHaveNoResiduals(t *testing.T) {
	snap := ledger([]string{"1", "2"}, 12)

	res := NewEngine().Analyze(context.Background(), snap, "2030-01", "2030-02")

	require.False(t, res.Failed())
	assert.Empty(t, res.TopResiduals)
	assert.NotEmpty(t, res.FeatureImportance)
}

func TestInsights(t *testing.T) {
	diffuse := []domain.FeatureImportance{
		{Feature: "supplier", Importance: 0.3},
		{Feature: "level_1", Importance: 0.25},
		{Feature: "level_7", Importance: 0.2},
		{Feature: "account_type", Importance: 0.25},
	}
	assert.Equal(t, []string{
		"Top driver: supplier (0.300)",
		"Second: level_1 (0.250)",
		"Multiple features contribute to changes",
	}, insights(diffuse))

	assert.Equal(t, []string{
		"Top driver: directorate (1.000)",
		"Few features dominate the model",
	}, insights([]domain.FeatureImportance{{Feature: "directorate", Importance: 1}}))

	assert.Nil(t, insights(nil))
}

func TestCategoryDefaultsToUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", category(""))
	assert.Equal(t, "Unknown", category("  "))
	assert.Equal(t, "CC1", category("CC1"))
}

func TestOrchestratorLabelsConsecutivePairs(t *testing.T) {
	snap := ledger([]string{"3", "1", "2"}, 10)

	out := NewOrchestrator().Run(context.Background(), snap)

	assert.Empty(t, out.Error)
	assert.Equal(t, "dynamic_ml_rca", out.AnalysisType)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "2023-01 to 2023-02", out.Results[0].Period)
	assert.Equal(t, "2023-02 to 2023-03", out.Results[1].Period)
	for _, r := range out.Results {
		assert.False(t, r.Failed(), r.Error)
	}
}

func TestOrchestratorKeepsFailedPairs(t *testing.T) {
	snap := ledger([]string{"1", "2"}, 5)

	out := NewOrchestrator().Run(context.Background(), snap)

	require.Len(t, out.Results, 1)
	assert.Equal(t, "2023-01 to 2023-02", out.Results[0].Period)
	assert.Equal(t, "Insufficient data for ML analysis", out.Results[0].Error)
}

func TestOrchestratorNeedsTwoPeriods(t *testing.T) {
	out := NewOrchestrator().Run(context.Background(), ledger([]string{"5"}, 30))
	assert.Equal(t, "Not enough months", out.Error)
	assert.Empty(t, out.Results)

	out = NewOrchestrator().Run(context.Background(), domain.NewSnapshot(nil))
	assert.Equal(t, "Not enough months", out.Error)
}
