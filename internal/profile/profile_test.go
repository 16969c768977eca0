package profile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-insight/internal/domain"
)

func sample() domain.Snapshot {
	row := func(id, cc, dir, supplier, fy, pp string, value int64, ind string) domain.RawRecord {
		return domain.RawRecord{
			ID: id, CostCenterID: cc, Directorate: dir, Supplier: supplier,
			FiscalYear: fy, PostingPeriod: pp, Value: decimal.NewFromInt(value), Indicator: ind,
		}
	}
	return domain.NewSnapshot([]domain.RawRecord{
		row("1", "CC1", "Finance", "Acme", "2023", "1", 100, "S"),
		row("2", "CC1", "Finance", "Acme", "2023", "2", 300, "S"),
		row("3", "CC2", "Digital", "", "2023", "2", 50, "H"),
		row("4", "CC3", "", "Globex", "2024", "1", 200, "S"),
		row("5", "", "Digital", "", "", "", 0, "S"),
	})
}

func TestBuild(t *testing.T) {
	p := Build(context.Background(), sample())

	assert.Equal(t, 5, p.TotalRows)
	assert.Equal(t, 1, p.DataQuality.MissingValues["cost_center_id"])
	assert.Equal(t, 2, p.DataQuality.MissingValues["supplier"])
	assert.Equal(t, 1, p.DataQuality.MissingValues["month_year"])
	assert.Equal(t, 3, p.DataQuality.UniqueCounts["cost_center_id"])
	assert.Equal(t, SignCounts{Positive: 3, Zero: 1, Negative: 1}, p.DataQuality.Completeness)

	assert.Equal(t, 550.0, p.Financial.TotalAmount)
	assert.Equal(t, 110.0, p.Financial.AverageAmount)
	assert.Equal(t, 100.0, p.Financial.MedianAmount)

	require.Len(t, p.Organizational.TopCostCenters, 3)
	assert.Equal(t, Total{Key: "CC1", Amount: 400}, p.Organizational.TopCostCenters[0])
	assert.Equal(t, Total{Key: "CC2", Amount: -50}, p.Organizational.TopCostCenters[2])

	assert.Equal(t, []Total{{"Digital", -50}, {"Finance", 400}}, byKey(groupTotals(sample().Records(), func(r domain.LedgerRecord) string { return r.Directorate })))
	assert.Equal(t, []Total{{"2023", 350}, {"2024", 200}}, p.Temporal.ByFiscalYear)
	assert.Equal(t, "2023-02", p.Temporal.TopPeriods[0].Key)

	assert.Equal(t, 2, p.Suppliers.SupplierCount)
	assert.Equal(t, "Acme", p.Suppliers.TopSuppliers[0].Key)
	assert.Equal(t, []Total{{"H", -50}, {"S", 600}}, p.DebitCredit)
}

func TestBuildDebitCreditUsesIndicator(t *testing.T) {
	snap := domain.NewSnapshot([]domain.RawRecord{
		{ID: "1", Value: decimal.NewFromInt(80), Indicator: "S"},
		{ID: "2", Value: decimal.Zero, Indicator: "h"},
		{ID: "3", Value: decimal.NewFromInt(500), Indicator: "X"},
		{ID: "4", Value: decimal.NewFromInt(7)},
	})

	p := Build(context.Background(), snap)

	assert.Equal(t, []Total{{"H", 0}, {"S", 80}, {"X", 0}}, p.DebitCredit)
}

func TestBuildEmpty(t *testing.T) {
	p := Build(context.Background(), domain.NewSnapshot(nil))

	assert.Zero(t, p.TotalRows)
	assert.Zero(t, p.Financial.AverageAmount)
	assert.Empty(t, p.Organizational.TopDirectorates)
}

func TestBreakdown(t *testing.T) {
	res := Breakdown(context.Background(), sample(), "Directorate", 0)

	require.Empty(t, res.Error)
	assert.Equal(t, "directorate", res.Dimension)
	require.Len(t, res.Rows, 3)

	assert.Equal(t, "Finance", res.Rows[0].Value)
	assert.Equal(t, 400.0, res.Rows[0].Sum)
	assert.Equal(t, 2, res.Rows[0].Count)
	assert.Equal(t, 200.0, res.Rows[0].Mean)
	assert.InDelta(t, 141.42, res.Rows[0].Std, 1e-9)
	assert.Equal(t, 1, res.Rows[0].CostCenters)

	assert.Equal(t, "Unknown", res.Rows[1].Value)
	assert.Equal(t, "Digital", res.Rows[2].Value)
	assert.Equal(t, 1, res.Rows[2].CostCenters)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 3, res.Summary.TotalCategories)
	assert.Equal(t, 3, res.Summary.ShowingTop)
	assert.Equal(t, 550.0, res.Summary.TotalAmount)
}

func TestBreakdownTopN(t *testing.T) {
	res := Breakdown(context.Background(), sample(), "cost_center", 2)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 4, res.Summary.TotalCategories)
	assert.Equal(t, 2, res.Summary.ShowingTop)
}

func TestBreakdownUnknownDimension(t *testing.T) {
	res := Breakdown(context.Background(), sample(), "colour", 5)
	assert.Equal(t, "Unknown dimension colour", res.Error)
	assert.Nil(t, res.Summary)
}

func TestDimensionsSorted(t *testing.T) {
	names := Dimensions()
	assert.Contains(t, names, "supplier")
	assert.IsIncreasing(t, names)
}
