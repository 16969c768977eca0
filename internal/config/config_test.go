package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/ledger"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ledger.SourceBigQuery, cfg.Ledger.Source)
	assert.Equal(t, "finance_expenses", cfg.Ledger.Table)
	assert.InDelta(t, 2.5, cfg.Analysis.Threshold, 1e-9)
	assert.InDelta(t, 0.05, cfg.Analysis.Contamination, 1e-9)
	assert.InDelta(t, 30.0, cfg.Analysis.ThresholdPct, 1e-9)
	assert.Equal(t, 100, cfg.Analysis.Trees)
	assert.Equal(t, 20, cfg.Analysis.RCAMinRows)
	assert.Equal(t, 5, cfg.Jobs.Workers)
	assert.Equal(t, time.Second, cfg.Jobs.Backoff)
	assert.Empty(t, cfg.Reports.Bucket)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  source: csv
  csv_uri: gs://exports/ledger.csv
analysis:
  threshold: 3
jobs:
  backoff: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ledger.SourceCSV, cfg.Ledger.Source)
	assert.Equal(t, "gs://exports/ledger.csv", cfg.Ledger.CSVURI)
	assert.InDelta(t, 3.0, cfg.Analysis.Threshold, 1e-9)
	assert.InDelta(t, 0.05, cfg.Analysis.Contamination, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.Backoff)
	assert.Equal(t, "finance", cfg.Ledger.Dataset)
	require.NoError(t, cfg.Validate())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_PROJECT_ID", "proj-1")
	t.Setenv("REPORTS_BUCKET", "reports")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "proj-1", cfg.Ledger.ProjectID)
	assert.Equal(t, "reports", cfg.Reports.Bucket)
	assert.Equal(t, "secret", cfg.Server.APIToken)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "9090", cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.Validate(), "project_id")

	cfg.Ledger.Source = "csv"
	assert.ErrorContains(t, cfg.Validate(), "csv_uri")

	cfg.Ledger.Source = "excel"
	cfg.Jobs.Workers = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ledger.ErrUnsupportedSource)
	assert.ErrorContains(t, err, "jobs.workers")
}

func TestValidateAnalysisAndRetries(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Source = "csv"
	cfg.Ledger.CSVURI = "ledger.csv"
	require.NoError(t, cfg.Validate())

	cfg.Analysis.Contamination = 0.75
	cfg.Jobs.MaxRetries = -1
	err := cfg.Validate()
	assert.ErrorIs(t, err, anomaly.ErrInvalidParams)
	assert.ErrorContains(t, err, "analysis: invalid parameter: contamination")
	assert.ErrorContains(t, err, "jobs.max_retries")
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Ledger.ProjectID = "proj-2"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "proj-2", got.Ledger.ProjectID)
	assert.Equal(t, cfg.Jobs, got.Jobs)
	assert.Equal(t, cfg.Analysis, got.Analysis)
}

func TestParamsAndLedgerOptions(t *testing.T) {
	cfg := Default()
	cfg.Analysis.Threshold = 0
	cfg.Ledger.CSVURI = "ledger.csv"

	p := cfg.Params()
	assert.InDelta(t, 2.5, p.Threshold, 1e-9)

	opts := cfg.LedgerOptions()
	assert.Equal(t, "bigquery", opts.Kind)
	assert.Equal(t, "ledger.csv", opts.CSVURI)
}
