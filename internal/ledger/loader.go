// Package ledger loads the expense ledger from a configured source and turns
// it into the immutable snapshot the analysis engines work on.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/logger"
)

// ErrUnsupportedSource is returned by Open for unknown source kinds.
var ErrUnsupportedSource = errors.New("unsupported ledger source")

// Source delivers every ledger row. Sources do no filtering.
type Source interface {
	FetchRecords(ctx context.Context) ([]domain.RawRecord, error)
}

// ClosableSource is a Source holding resources that must be released.
type ClosableSource interface {
	Source
	Close() error
}

// Loader fetches and normalizes one snapshot per call.
type Loader struct {
	source Source
}

// NewLoader creates a loader reading from source.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load returns a fresh snapshot. A source without rows yields an empty
// snapshot, not an error.
func (l *Loader) Load(ctx context.Context) (domain.Snapshot, error) {
	log := logger.FromContext(ctx)

	raws, err := l.source.FetchRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch ledger records")
		return domain.Snapshot{}, fmt.Errorf("Load: fetching records: %w", err)
	}

	snap := domain.NewSnapshot(raws)
	log.Info().
		Int("rows", snap.Len()).
		Int("periods", len(snap.Periods())).
		Msg("Ledger snapshot loaded")
	return snap, nil
}
