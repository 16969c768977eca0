package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/jobs"
	"github.com/dvloznov/expense-insight/internal/rca"
)

type mockLoader struct {
	LoadFunc func(ctx context.Context) (domain.Snapshot, error)
	calls    int
}

func (m *mockLoader) Load(ctx context.Context) (domain.Snapshot, error) {
	m.calls++
	return m.LoadFunc(ctx)
}

type mockArchiver struct {
	ArchiveFunc func(ctx context.Context, id string, createdAt time.Time, report any) (string, error)
}

func (m *mockArchiver) Archive(ctx context.Context, id string, createdAt time.Time, report any) (string, error) {
	return m.ArchiveFunc(ctx, id, createdAt, report)
}

func loaderOf(snap domain.Snapshot) *mockLoader {
	return &mockLoader{LoadFunc: func(context.Context) (domain.Snapshot, error) { return snap, nil }}
}

// testLedger builds periods months of perPeriod rows each with one outlier.
func testLedger(periods, perPeriod int) domain.Snapshot {
	var raws []domain.RawRecord
	for p := 1; p <= periods; p++ {
		for i := 0; i < perPeriod; i++ {
			raws = append(raws, domain.RawRecord{
				ID:            fmt.Sprintf("r-%d-%d", p, i),
				CostCenterID:  fmt.Sprintf("CC%d", i%3),
				Directorate:   "Finance",
				FiscalYear:    "2023",
				PostingPeriod: fmt.Sprint(p),
				Value:         decimal.NewFromInt(int64(100 * (i%3 + 1))),
				Indicator:     "S",
			})
		}
	}
	raws = append(raws, domain.RawRecord{
		ID: "big", CostCenterID: "CC0", FiscalYear: "2023", PostingPeriod: "1",
		Value: decimal.NewFromInt(500000), Indicator: "S",
	})
	return domain.NewSnapshot(raws)
}

func TestDetectStatistical(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 15)))

	out, err := svc.Detect(context.Background(), "Statistical", anomaly.Overrides{})
	require.NoError(t, err)

	report, ok := out.(*anomaly.StatisticalReport)
	require.True(t, ok, "got %T", out)
	assert.InDelta(t, 2.5, report.Threshold, 1e-9)
	require.NotEmpty(t, report.Anomalies)
	assert.Equal(t, "big", report.Anomalies[0].ID)
}

func TestDetectUnknownMethod(t *testing.T) {
	loader := loaderOf(testLedger(1, 5))
	svc := NewService(loader)

	out, err := svc.Detect(context.Background(), "prophet", anomaly.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, ErrorResult{Error: "Unknown method prophet"}, out)
	assert.Zero(t, loader.calls)
}

func TestDetectLoadError(t *testing.T) {
	boom := errors.New("bigquery unavailable")
	svc := NewService(&mockLoader{LoadFunc: func(context.Context) (domain.Snapshot, error) {
		return domain.Snapshot{}, boom
	}})

	_, err := svc.Detect(context.Background(), "trend", anomaly.Overrides{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Detect: loading ledger")
}

func TestDetectRecoversPanic(t *testing.T) {
	svc := NewService(&mockLoader{LoadFunc: func(context.Context) (domain.Snapshot, error) {
		panic("reader exploded")
	}})

	out, err := svc.Detect(context.Background(), "ml", anomaly.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, ErrorResult{Error: "detect failed: reader exploded"}, out)
}

func ptr(v float64) *float64 { return &v }

func TestParamsMergesServiceDefaults(t *testing.T) {
	svc := NewService(loaderOf(domain.Snapshot{}), WithParams(anomaly.Params{Threshold: 3.5}))

	p := svc.Params(anomaly.Overrides{ThresholdPct: ptr(10)})
	assert.InDelta(t, 3.5, p.Threshold, 1e-9)
	assert.InDelta(t, 10.0, p.ThresholdPct, 1e-9)
	assert.InDelta(t, 0.05, p.Contamination, 1e-9)
	assert.Equal(t, 20, p.MLMinRows)
	assert.Equal(t, uint64(42), p.Seed)
}

func TestDetectHonorsExplicitZeroThreshold(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 15)))

	out, err := svc.Detect(context.Background(), "statistical", anomaly.Overrides{Threshold: ptr(0)})
	require.NoError(t, err)

	report, ok := out.(*anomaly.StatisticalReport)
	require.True(t, ok, "got %T", out)
	assert.Zero(t, report.Threshold)
	// every record off the median of 200 is flagged
	assert.Equal(t, 21, report.AnomalyCount)
}

func TestDetectRejectsInvalidParams(t *testing.T) {
	for name, o := range map[string]anomaly.Overrides{
		"nan threshold":     {Threshold: ptr(math.NaN())},
		"inf contamination": {Contamination: ptr(math.Inf(1))},
		"contamination 0.7": {Contamination: ptr(0.7)},
		"negative pct":      {ThresholdPct: ptr(-5)},
	} {
		t.Run(name, func(t *testing.T) {
			loader := loaderOf(testLedger(2, 15))
			svc := NewService(loader)

			out, err := svc.Detect(context.Background(), "comprehensive", o)
			require.NoError(t, err)

			res, ok := out.(ErrorResult)
			require.True(t, ok, "got %T", out)
			assert.Contains(t, res.Error, "invalid parameter")
			assert.Zero(t, loader.calls)

			_, err = json.Marshal(out)
			assert.NoError(t, err)
		})
	}
}

func TestProfileAndBreakdownRecoverPanic(t *testing.T) {
	svc := NewService(&mockLoader{LoadFunc: func(context.Context) (domain.Snapshot, error) {
		panic("reader exploded")
	}})

	p, err := svc.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "profile failed: reader exploded", p.Error)

	b, err := svc.Breakdown(context.Background(), "directorate", 5)
	require.NoError(t, err)
	assert.Equal(t, "breakdown failed: reader exploded", b.Error)
}

func TestRCAInsufficientData(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 3)))

	res, err := svc.RCA(context.Background(), "2023-01", "2023-02")
	require.NoError(t, err)
	assert.Equal(t, "Insufficient data for ML analysis", res.Error)
}

func TestRCAUsesConfiguredEngine(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 3)), WithEngine(rca.Engine{Trees: 5, Seed: 1, MinRows: 2}))

	res, err := svc.RCA(context.Background(), "2023-01", "2023-02")
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Equal(t, "random_forest", res.MLMethod)
}

func TestDynamicRCANotEnoughMonths(t *testing.T) {
	svc := NewService(loaderOf(testLedger(1, 30)))

	res, err := svc.DynamicRCA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Not enough months", res.Error)
}

func TestProfileAndBreakdown(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 3)))

	p, err := svc.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, p.TotalRows)

	b, err := svc.Breakdown(context.Background(), "cost_center", 2)
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "CC0", b.Rows[0].Value)

	b, err = svc.Breakdown(context.Background(), "planet", 2)
	require.NoError(t, err)
	assert.Equal(t, "Unknown dimension planet", b.Error)
}

func TestHandleJobComprehensiveArchives(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var archivedID string
	archiver := &mockArchiver{ArchiveFunc: func(_ context.Context, id string, createdAt time.Time, report any) (string, error) {
		archivedID = id
		assert.Equal(t, created, createdAt)
		assert.IsType(t, &anomaly.ComprehensiveReport{}, report)
		return "gs://reports/reports/2024/03/01/job-1.json", nil
	}}
	svc := NewService(loaderOf(testLedger(2, 15)), WithArchiver(archiver))

	job := &jobs.AnalysisJob{JobID: "job-1", Type: jobs.JobTypeComprehensive, CreatedAt: created}
	require.NoError(t, svc.HandleJob(context.Background(), job))

	assert.Equal(t, "job-1", archivedID)
	assert.Equal(t, "gs://reports/reports/2024/03/01/job-1.json", job.ReportURI)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(job.Result, &decoded))
	assert.Contains(t, decoded, "statistical_anomalies")
	assert.Contains(t, decoded, "summary")
}

func TestHandleJobWithoutArchiver(t *testing.T) {
	svc := NewService(loaderOf(testLedger(3, 10)))

	job := &jobs.AnalysisJob{JobID: "job-2", Type: jobs.JobTypeDynamicRCA}
	require.NoError(t, svc.HandleJob(context.Background(), job))

	assert.Empty(t, job.ReportURI)
	var res rca.TimelineResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.Equal(t, "dynamic_ml_rca", res.AnalysisType)
	assert.Len(t, res.Results, 2)
}

func TestHandleJobErrors(t *testing.T) {
	svc := NewService(loaderOf(testLedger(2, 3)))

	err := svc.HandleJob(context.Background(), &jobs.AnalysisJob{Type: jobs.JobTypeRCAPair})
	assert.ErrorIs(t, err, ErrMissingPeriods)

	err = svc.HandleJob(context.Background(), &jobs.AnalysisJob{Type: "parse_document"})
	assert.ErrorContains(t, err, "unsupported job type")

	failing := NewService(loaderOf(testLedger(2, 3)), WithArchiver(&mockArchiver{
		ArchiveFunc: func(context.Context, string, time.Time, any) (string, error) {
			return "", errors.New("bucket missing")
		},
	}))
	err = failing.HandleJob(context.Background(), &jobs.AnalysisJob{Type: jobs.JobTypeDynamicRCA})
	assert.ErrorContains(t, err, "bucket missing")
}
