package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-insight/internal/domain"
)

func listAllExpensesQuery(table Table) string {
	return fmt.Sprintf(`
		SELECT
			CAST(id AS STRING) AS id,
			cost_center_id,
			cost_center_name,
			functional_area,
			functional_area_name,
			directorate,
			profit_center_id,
			profit_center_name,
			general_ledger_account,
			general_ledger_account_name,
			level_1,
			level_7,
			account_type,
			supplier,
			entity,
			region,
			general_ledger_fiscal_year,
			posting_period,
			company_code_currency_value,
			debit_credit_ind
		FROM %s
		ORDER BY id
	`, table)
}

// ListAllExpensesWithClient retrieves every expense row using the provided client.
func ListAllExpensesWithClient(ctx context.Context, client *bigquery.Client, table Table) ([]*ExpenseRow, error) {
	it, err := client.Query(listAllExpensesQuery(table)).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAllExpensesWithClient: reading query: %w", err)
	}

	var rows []*ExpenseRow
	for {
		var row ExpenseRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAllExpensesWithClient: iterating: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}

// ToRawRecords converts fetched rows to the domain form.
func ToRawRecords(rows []*ExpenseRow) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToRawRecord())
	}
	return out
}
