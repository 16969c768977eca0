package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-insight/internal/analysis"
	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/config"
	"github.com/dvloznov/expense-insight/internal/domain"
)

type staticLoader struct{ snap domain.Snapshot }

func (l staticLoader) Load(context.Context) (domain.Snapshot, error) { return l.snap, nil }

func snapshot() domain.Snapshot {
	var raws []domain.RawRecord
	for p := 1; p <= 3; p++ {
		for i := 0; i < 10; i++ {
			raws = append(raws, domain.RawRecord{
				ID:            fmt.Sprintf("r-%d-%d", p, i),
				CostCenterID:  fmt.Sprintf("CC%d", i%2),
				Directorate:   "Digital",
				FiscalYear:    "2024",
				PostingPeriod: fmt.Sprint(p),
				Value:         decimal.NewFromInt(int64(50 * p)),
				Indicator:     "S",
			})
		}
	}
	return domain.NewSnapshot(raws)
}

// execute runs the CLI against an in-memory ledger and returns stdout.
func execute(t *testing.T, args ...string) (string, *config.Config, error) {
	t.Helper()
	var used *config.Config
	open := func(_ context.Context, cfg *config.Config) (*analysis.Service, func() error, error) {
		used = cfg
		return analysis.NewService(staticLoader{snap: snapshot()}), func() error { return nil }, nil
	}

	root := newRootCommand(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), used, err
}

func TestAnomalyTrend(t *testing.T) {
	out, cfg, err := execute(t, "anomaly", "--method", "trend", "--threshold-pct", "40", "--csv", "ledger.csv")
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Ledger.Source)
	assert.Equal(t, "ledger.csv", cfg.Ledger.CSVURI)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "trend_analysis", report["method"])
	assert.Equal(t, 40.0, report["threshold_percent"])
	// 500 -> 1000 is +100%, 1000 -> 1500 is +50%.
	assert.Equal(t, 2.0, report["anomaly_months"])
}

func TestAnomalyUnknownMethod(t *testing.T) {
	out, _, err := execute(t, "anomaly", "--method", "arima", "--csv", "ledger.csv")
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Unknown method arima"}`, out)
}

func TestAnomalyRejectsInvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--threshold", "NaN"},
		{"--contamination", "Inf"},
		{"--contamination", "0.8"},
		{"--threshold-pct", "-1"},
	} {
		out, cfg, err := execute(t, append([]string{"anomaly", "--csv", "ledger.csv"}, args...)...)
		require.Error(t, err, args)
		assert.ErrorIs(t, err, anomaly.ErrInvalidParams, args)
		assert.Nil(t, cfg, "ledger opened for %v", args)
		assert.Empty(t, out)
	}
}

func TestAnomalyZeroThresholdPct(t *testing.T) {
	out, _, err := execute(t, "anomaly", "--method", "trend", "--threshold-pct", "0", "--csv", "ledger.csv")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2.0, report["anomaly_months"])
	assert.NotContains(t, report, "error")
}

func TestRCADynamic(t *testing.T) {
	out, _, err := execute(t, "rca", "dynamic", "--csv", "ledger.csv")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "dynamic_ml_rca", res["analysis_type"])
	assert.Len(t, res["results"], 2)
}

func TestRCARequiresPeriods(t *testing.T) {
	_, _, err := execute(t, "rca", "--from", "2024-01", "--csv", "ledger.csv")
	assert.Error(t, err)
}

func TestBreakdownAndProfile(t *testing.T) {
	out, _, err := execute(t, "breakdown", "cost_center", "--top", "1", "--csv", "ledger.csv")
	require.NoError(t, err)
	var b map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Len(t, b["breakdown"], 1)

	out, _, err = execute(t, "profile", "--csv", "ledger.csv")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_rows": 30`)
}

func TestInvalidConfigFailsBeforeOpening(t *testing.T) {
	_, cfg, err := execute(t, "profile", "--source", "excel")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}
