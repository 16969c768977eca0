package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/expense-insight/internal/domain"
)

// LedgerRepository provides read access to the expense ledger.
type LedgerRepository interface {
	// ListAllExpenses retrieves every expense row.
	ListAllExpenses(ctx context.Context) ([]*ExpenseRow, error)

	// FetchRecords retrieves every row in domain form.
	FetchRecords(ctx context.Context) ([]domain.RawRecord, error)
}

var _ LedgerRepository = (*BigQueryLedgerRepository)(nil)

// BigQueryLedgerRepository is the concrete implementation of LedgerRepository
// that interacts with BigQuery. It holds a shared client for its lifetime.
type BigQueryLedgerRepository struct {
	client *bigquery.Client
	table  Table
}

// NewBigQueryLedgerRepository creates a repository with a shared BigQuery
// client for table's project.
func NewBigQueryLedgerRepository(ctx context.Context, table Table) (*BigQueryLedgerRepository, error) {
	if table.ProjectID == "" {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: project ID is required")
	}
	client, err := bigquery.NewClient(ctx, table.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: creating client: %w", err)
	}
	return &BigQueryLedgerRepository{
		client: client,
		table:  table,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryLedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ListAllExpenses delegates to ListAllExpensesWithClient with the shared client.
func (r *BigQueryLedgerRepository) ListAllExpenses(ctx context.Context) ([]*ExpenseRow, error) {
	return ListAllExpensesWithClient(ctx, r.client, r.table)
}

// FetchRecords fetches every row in domain form, making the repository a
// ledger source.
func (r *BigQueryLedgerRepository) FetchRecords(ctx context.Context) ([]domain.RawRecord, error) {
	rows, err := r.ListAllExpenses(ctx)
	if err != nil {
		return nil, err
	}
	return ToRawRecords(rows), nil
}
