package analysis

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-insight/internal/config"
	"github.com/dvloznov/expense-insight/internal/gcs"
	"github.com/dvloznov/expense-insight/internal/ledger"
	"github.com/dvloznov/expense-insight/internal/rca"
)

// Open builds a Service from cfg. The returned ledger source must be closed
// by the caller.
func Open(ctx context.Context, cfg *config.Config) (*Service, ledger.ClosableSource, error) {
	storage := gcs.NewGCSStorageService()

	opts := cfg.LedgerOptions()
	opts.Storage = storage
	source, err := ledger.Open(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("Open: %w", err)
	}

	svcOpts := []Option{
		WithParams(cfg.Params()),
		WithEngine(rca.Engine{
			Trees:   cfg.Analysis.Trees,
			Seed:    cfg.Analysis.Seed,
			MinRows: cfg.Analysis.RCAMinRows,
		}),
	}
	if cfg.Reports.Bucket != "" {
		svcOpts = append(svcOpts, WithArchiver(gcs.NewReportArchiver(storage, cfg.Reports.Bucket)))
	}

	return NewService(ledger.NewLoader(source), svcOpts...), source, nil
}
