// Package rca attributes spend changes between reporting periods to
// organizational dimensions using a regression forest fitted on the full
// ledger history.
package rca

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/learn"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const (
	mlMethod          = "random_forest"
	unknownCategory   = "Unknown"
	maxImportances    = 5
	maxResiduals      = 5
	dominanceCutoff   = 0.8
	errInsufficientML = "Insufficient data for ML analysis"
)

// Dimension is one categorical column the model learns from.
type Dimension struct {
	Name  string
	Value func(domain.LedgerRecord) string
}

// Dimensions are the encoded model inputs, in column order.
var Dimensions = []Dimension{
	{"cost_center_id", func(r domain.LedgerRecord) string { return r.CostCenterID }},
	{"functional_area", func(r domain.LedgerRecord) string { return r.FunctionalArea }},
	{"directorate", func(r domain.LedgerRecord) string { return r.Directorate }},
	{"general_ledger_account", func(r domain.LedgerRecord) string { return r.GeneralLedgerAccount }},
	{"profit_center_id", func(r domain.LedgerRecord) string { return r.ProfitCenterID }},
	{"level_1", func(r domain.LedgerRecord) string { return r.Level1 }},
	{"level_7", func(r domain.LedgerRecord) string { return r.Level7 }},
	{"account_type", func(r domain.LedgerRecord) string { return r.AccountType }},
	{"supplier", func(r domain.LedgerRecord) string { return r.Supplier }},
}

// Engine runs a root-cause analysis for one pair of periods. The zero value
// is not usable; use NewEngine.
type Engine struct {
	Trees   int
	Seed    uint64
	MinRows int
}

// NewEngine returns an engine with 100 trees, seed 42 and a 20 row minimum.
func NewEngine() Engine {
	return Engine{Trees: 100, Seed: 42, MinRows: 20}
}

// group is one observed (period, dimension codes) combination.
type group struct {
	period string
	codes  []int
	amount decimal.Decimal
}

func (g group) features() []float64 {
	row := make([]float64, len(g.codes))
	for i, c := range g.codes {
		row[i] = float64(c)
	}
	return row
}

// Analyze fits a fresh model on every record with a period key and explains
// the from and to periods against it. It never panics; failures are returned
// in the result's Error field.
func (e Engine) Analyze(ctx context.Context, snap domain.Snapshot, from, to string) (result domain.AttributionResult) {
	log := logger.FromContext(ctx).With().Str("from", from).Str("to", to).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Root cause analysis failed")
			result = domain.AttributionResult{Error: fmt.Sprintf("%v", r)}
		}
	}()

	records := snap.WithPeriod()
	if len(records) < e.MinRows || len(records) == 0 {
		log.Warn().Int("rows", len(records)).Msg("Root cause analysis: insufficient data")
		return domain.AttributionResult{Error: errInsufficientML}
	}

	encoders := fitEncoders(records)
	groups, err := aggregate(records, encoders)
	if err != nil {
		log.Error().Err(err).Msg("Root cause analysis: aggregation failed")
		return domain.AttributionResult{Error: err.Error()}
	}

	X := make([][]float64, len(groups))
	y := make([]float64, len(groups))
	for i, g := range groups {
		X[i] = g.features()
		y[i] = g.amount.InexactFloat64()
	}

	model := learn.NewRandomForestRegressor(e.Trees, e.Seed)
	if err := model.Fit(X, y); err != nil {
		log.Error().Err(err).Msg("Root cause analysis: fit failed")
		return domain.AttributionResult{Error: err.Error()}
	}
	fitted, err := model.Predict(X)
	if err != nil {
		return domain.AttributionResult{Error: err.Error()}
	}

	ranked := rankImportances(model.FeatureImportances())

	var compare []group
	var compareX [][]float64
	for i, g := range groups {
		if g.period == from || g.period == to {
			compare = append(compare, g)
			compareX = append(compareX, X[i])
		}
	}
	residuals, err := topResiduals(model, compare, compareX, encoders)
	if err != nil {
		return domain.AttributionResult{Error: err.Error()}
	}

	mae := meanAbsError(y, fitted)
	log.Info().
		Int("rows", len(records)).
		Int("groups", len(groups)).
		Float64("mae", mae).
		Msg("Root cause analysis completed")

	return domain.AttributionResult{
		MLMethod:          mlMethod,
		FeatureImportance: ranked[:min(len(ranked), maxImportances)],
		ModelPerformance:  &domain.ModelPerformance{MAE: mae},
		TopResiduals:      residuals,
		KeyInsights:       insights(ranked),
	}
}

func category(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknownCategory
	}
	return v
}

func fitEncoders(records []domain.LedgerRecord) []*learn.LabelEncoder {
	encoders := make([]*learn.LabelEncoder, len(Dimensions))
	values := make([]string, len(records))
	for d, dim := range Dimensions {
		for i, r := range records {
			values[i] = category(dim.Value(r))
		}
		encoders[d] = learn.NewLabelEncoder(values)
	}
	return encoders
}

// aggregate sums signed amounts per observed combination, ordered by period
// and then by codes.
func aggregate(records []domain.LedgerRecord, encoders []*learn.LabelEncoder) ([]group, error) {
	index := make(map[string]int)
	var groups []group
	var key strings.Builder

	for _, r := range records {
		codes := make([]int, len(Dimensions))
		key.Reset()
		key.WriteString(r.PeriodKey)
		for d, dim := range Dimensions {
			code, err := encoders[d].Encode(category(dim.Value(r)))
			if err != nil {
				return nil, fmt.Errorf("aggregate: %s: %w", dim.Name, err)
			}
			codes[d] = code
			fmt.Fprintf(&key, "|%d", code)
		}
		i, ok := index[key.String()]
		if !ok {
			i = len(groups)
			index[key.String()] = i
			groups = append(groups, group{period: r.PeriodKey, codes: codes})
		}
		groups[i].amount = groups[i].amount.Add(r.SignedAmount)
	}

	sort.Slice(groups, func(a, b int) bool {
		if groups[a].period != groups[b].period {
			return groups[a].period < groups[b].period
		}
		for d := range groups[a].codes {
			if groups[a].codes[d] != groups[b].codes[d] {
				return groups[a].codes[d] < groups[b].codes[d]
			}
		}
		return false
	})
	return groups, nil
}

func rankImportances(importances []float64) []domain.FeatureImportance {
	ranked := make([]domain.FeatureImportance, len(importances))
	for i, v := range importances {
		ranked[i] = domain.FeatureImportance{Feature: Dimensions[i].Name, Importance: v}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Importance > ranked[b].Importance
	})
	return ranked
}

func topResiduals(model *learn.RandomForestRegressor, groups []group, X [][]float64, encoders []*learn.LabelEncoder) ([]domain.Residual, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	predicted, err := model.Predict(X)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Residual, len(groups))
	for i, g := range groups {
		dims := make(map[string]string, len(Dimensions))
		for d, dim := range Dimensions {
			label, err := encoders[d].Decode(g.codes[d])
			if err != nil {
				return nil, fmt.Errorf("topResiduals: %s: %w", dim.Name, err)
			}
			dims[dim.Name] = label
		}
		actual := g.amount.InexactFloat64()
		out[i] = domain.Residual{
			PeriodKey:  g.period,
			Dimensions: dims,
			Actual:     actual,
			Predicted:  predicted[i],
			Residual:   actual - predicted[i],
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Residual) > math.Abs(out[b].Residual)
	})
	return out[:min(len(out), maxResiduals)], nil
}

func meanAbsError(y, predicted []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i := range y {
		sum += math.Abs(y[i] - predicted[i])
	}
	return sum / float64(len(y))
}

// insights names the leading drivers and whether the top three dominate.
func insights(ranked []domain.FeatureImportance) []string {
	if len(ranked) == 0 {
		return nil
	}
	out := []string{fmt.Sprintf("Top driver: %s (%.3f)", ranked[0].Feature, ranked[0].Importance)}
	if len(ranked) > 1 {
		out = append(out, fmt.Sprintf("Second: %s (%.3f)", ranked[1].Feature, ranked[1].Importance))
	}
	var top3 float64
	for _, fi := range ranked[:min(len(ranked), 3)] {
		top3 += fi.Importance
	}
	if top3 > dominanceCutoff {
		out = append(out, "Few features dominate the model")
	} else {
		out = append(out, "Multiple features contribute to changes")
	}
	return out
}
