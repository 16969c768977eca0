package rca

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

const analysisTypeDynamic = "dynamic_ml_rca"

// TimelineResult is the attribution of every consecutive period pair.
type TimelineResult struct {
	AnalysisType string                     `json:"analysis_type,omitempty"`
	Results      []domain.AttributionResult `json:"results,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

// Orchestrator walks the observed timeline pair by pair.
type Orchestrator struct {
	Engine Engine
}

// NewOrchestrator returns an orchestrator backed by NewEngine.
func NewOrchestrator() Orchestrator {
	return Orchestrator{Engine: NewEngine()}
}

// Run analyzes each consecutive pair of periods in snap. A failed pair is
// kept as an error result and does not stop the remaining pairs.
func (o Orchestrator) Run(ctx context.Context, snap domain.Snapshot) TimelineResult {
	log := logger.FromContext(ctx)

	periods := snap.Periods()
	if len(periods) < 2 {
		log.Warn().Int("periods", len(periods)).Msg("Dynamic RCA: not enough months")
		return TimelineResult{Error: "Not enough months"}
	}

	results := make([]domain.AttributionResult, 0, len(periods)-1)
	for i := 0; i+1 < len(periods); i++ {
		from, to := periods[i], periods[i+1]
		res := o.Engine.Analyze(ctx, snap, from, to)
		res.Period = PeriodLabel(from, to)
		if res.Failed() {
			log.Warn().Str("period", res.Period).Str("error", res.Error).Msg("Dynamic RCA: pair failed")
		}
		results = append(results, res)
	}

	log.Info().Int("pairs", len(results)).Msg("Dynamic RCA completed")
	return TimelineResult{AnalysisType: analysisTypeDynamic, Results: results}
}

// PeriodLabel formats a compared pair as "from to to".
func PeriodLabel(from, to string) string {
	return fmt.Sprintf("%s to %s", from, to)
}
