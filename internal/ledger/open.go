package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/expense-insight/internal/gcs"
	bq "github.com/dvloznov/expense-insight/internal/infra/bigquery"
)

const (
	SourceBigQuery = "bigquery"
	SourceCSV      = "csv"
)

// Options select and configure a ledger source.
type Options struct {
	Kind      string
	ProjectID string
	Dataset   string
	Table     string
	CSVURI    string
	Storage   gcs.StorageService
}

// Open creates the source named by opts.Kind. The caller must Close it.
func Open(ctx context.Context, opts Options) (ClosableSource, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case SourceBigQuery:
		table := bq.NewTable(opts.ProjectID)
		if opts.Dataset != "" {
			table.DatasetID = opts.Dataset
		}
		if opts.Table != "" {
			table.TableID = opts.Table
		}
		repo, err := bq.NewBigQueryLedgerRepository(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return repo, nil
	case SourceCSV:
		if opts.CSVURI == "" {
			return nil, fmt.Errorf("Open: csv source needs a URI")
		}
		return NewCSVSource(opts.CSVURI, opts.Storage), nil
	default:
		return nil, fmt.Errorf("Open: %w %q", ErrUnsupportedSource, opts.Kind)
	}
}
