package bigquery

import (
	"math/big"
	"strconv"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
)

const (
	defaultDatasetID = "finance"
	expensesTable    = "finance_expenses"
)

// Table identifies the expense table to read from.
type Table struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// NewTable returns the default finance_expenses table in projectID.
func NewTable(projectID string) Table {
	return Table{ProjectID: projectID, DatasetID: defaultDatasetID, TableID: expensesTable}
}

// String renders the table as a quoted standard SQL reference.
func (t Table) String() string {
	return "`" + t.ProjectID + "." + t.DatasetID + "." + t.TableID + "`"
}

// ExpenseRow mirrors one row of the expense table.
type ExpenseRow struct {
	ID string `bigquery:"id"` // REQUIRED

	CostCenterID             bigquery.NullString `bigquery:"cost_center_id"`
	CostCenterName           bigquery.NullString `bigquery:"cost_center_name"`
	FunctionalArea           bigquery.NullString `bigquery:"functional_area"`
	FunctionalAreaName       bigquery.NullString `bigquery:"functional_area_name"`
	Directorate              bigquery.NullString `bigquery:"directorate"`
	ProfitCenterID           bigquery.NullString `bigquery:"profit_center_id"`
	ProfitCenterName         bigquery.NullString `bigquery:"profit_center_name"`
	GeneralLedgerAccount     bigquery.NullString `bigquery:"general_ledger_account"`
	GeneralLedgerAccountName bigquery.NullString `bigquery:"general_ledger_account_name"`
	Level1                   bigquery.NullString `bigquery:"level_1"`
	Level7                   bigquery.NullString `bigquery:"level_7"`
	AccountType              bigquery.NullString `bigquery:"account_type"`
	Supplier                 bigquery.NullString `bigquery:"supplier"`
	Entity                   bigquery.NullString `bigquery:"entity"`
	Region                   bigquery.NullString `bigquery:"region"`

	FiscalYear    bigquery.NullInt64 `bigquery:"general_ledger_fiscal_year"`
	PostingPeriod bigquery.NullInt64 `bigquery:"posting_period"`

	Value     *big.Rat            `bigquery:"company_code_currency_value"` // NULLABLE NUMERIC
	Indicator bigquery.NullString `bigquery:"debit_credit_ind"`
}

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

// ToRawRecord converts a row to the domain form. NULL text becomes "" and a
// NULL value becomes zero.
func (r *ExpenseRow) ToRawRecord() domain.RawRecord {
	value := decimal.Zero
	if r.Value != nil {
		value = decimal.NewFromBigRat(r.Value, numericScale)
	}

	return domain.RawRecord{
		ID:                       r.ID,
		CostCenterID:             r.CostCenterID.StringVal,
		CostCenterName:           r.CostCenterName.StringVal,
		FunctionalArea:           r.FunctionalArea.StringVal,
		FunctionalAreaName:       r.FunctionalAreaName.StringVal,
		Directorate:              r.Directorate.StringVal,
		ProfitCenterID:           r.ProfitCenterID.StringVal,
		ProfitCenterName:         r.ProfitCenterName.StringVal,
		GeneralLedgerAccount:     r.GeneralLedgerAccount.StringVal,
		GeneralLedgerAccountName: r.GeneralLedgerAccountName.StringVal,
		Level1:                   r.Level1.StringVal,
		Level7:                   r.Level7.StringVal,
		AccountType:              r.AccountType.StringVal,
		Supplier:                 r.Supplier.StringVal,
		Entity:                   r.Entity.StringVal,
		Region:                   r.Region.StringVal,
		FiscalYear:               nullInt(r.FiscalYear),
		PostingPeriod:            nullInt(r.PostingPeriod),
		Value:                    value,
		Indicator:                r.Indicator.StringVal,
	}
}

func nullInt(v bigquery.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}
