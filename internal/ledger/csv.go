package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/gcs"
)

// csvColumns maps header names to record setters. Aliases cover the export
// names of the finance expense table.
var csvColumns = map[string]func(*domain.RawRecord, string){
	"id":                          func(r *domain.RawRecord, v string) { r.ID = v },
	"cost_center_id":              func(r *domain.RawRecord, v string) { r.CostCenterID = v },
	"cost_center_name":            func(r *domain.RawRecord, v string) { r.CostCenterName = v },
	"functional_area":             func(r *domain.RawRecord, v string) { r.FunctionalArea = v },
	"functional_area_name":        func(r *domain.RawRecord, v string) { r.FunctionalAreaName = v },
	"directorate":                 func(r *domain.RawRecord, v string) { r.Directorate = v },
	"profit_center_id":            func(r *domain.RawRecord, v string) { r.ProfitCenterID = v },
	"profit_center_name":          func(r *domain.RawRecord, v string) { r.ProfitCenterName = v },
	"general_ledger_account":      func(r *domain.RawRecord, v string) { r.GeneralLedgerAccount = v },
	"general_ledger_account_name": func(r *domain.RawRecord, v string) { r.GeneralLedgerAccountName = v },
	"level_1":                     func(r *domain.RawRecord, v string) { r.Level1 = v },
	"level_7":                     func(r *domain.RawRecord, v string) { r.Level7 = v },
	"account_type":                func(r *domain.RawRecord, v string) { r.AccountType = v },
	"supplier":                    func(r *domain.RawRecord, v string) { r.Supplier = v },
	"entity":                      func(r *domain.RawRecord, v string) { r.Entity = v },
	"region":                      func(r *domain.RawRecord, v string) { r.Region = v },
	"fiscal_year":                 func(r *domain.RawRecord, v string) { r.FiscalYear = v },
	"general_ledger_fiscal_year":  func(r *domain.RawRecord, v string) { r.FiscalYear = v },
	"posting_period":              func(r *domain.RawRecord, v string) { r.PostingPeriod = v },
	"debit_credit_ind":            func(r *domain.RawRecord, v string) { r.Indicator = v },
	"indicator":                   func(r *domain.RawRecord, v string) { r.Indicator = v },
}

var valueColumns = []string{"company_code_currency_value", "value"}

// ReadRecords parses a ledger CSV export. The first row is the header;
// unknown columns are ignored and missing ones stay empty. A value column is
// required.
func ReadRecords(r io.Reader) ([]domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV header: %w", err)
	}

	setters := make(map[int]func(*domain.RawRecord, string))
	valueCol := -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if set, ok := csvColumns[name]; ok {
			setters[i] = set
		}
		for _, vc := range valueColumns {
			if name == vc && valueCol < 0 {
				valueCol = i
			}
		}
	}
	if valueCol < 0 {
		return nil, fmt.Errorf("reading ledger CSV: missing value column (one of %s)", strings.Join(valueColumns, ", "))
	}

	var records []domain.RawRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		var rec domain.RawRecord
		for i, field := range row {
			if set, ok := setters[i]; ok {
				set(&rec, strings.TrimSpace(field))
			}
		}
		if valueCol < len(row) && strings.TrimSpace(row[valueCol]) != "" {
			rec.Value, err = decimal.NewFromString(strings.TrimSpace(row[valueCol]))
			if err != nil {
				return nil, fmt.Errorf("row %d: parsing value %q: %w", line, row[valueCol], err)
			}
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("row-%d", line)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CSVSource reads a CSV export from a gs:// URI or a local path.
type CSVSource struct {
	URI     string
	Storage gcs.StorageService
}

// NewCSVSource creates a CSV source. storage may be nil for local files.
func NewCSVSource(uri string, storage gcs.StorageService) *CSVSource {
	return &CSVSource{URI: uri, Storage: storage}
}

// FetchRecords implements Source.
func (s *CSVSource) FetchRecords(ctx context.Context) ([]domain.RawRecord, error) {
	var data []byte
	var err error
	if strings.HasPrefix(s.URI, "gs://") {
		if s.Storage == nil {
			return nil, fmt.Errorf("CSVSource.FetchRecords: no storage service for %s", s.URI)
		}
		data, err = s.Storage.FetchFromGCS(ctx, s.URI)
	} else {
		data, err = os.ReadFile(s.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("CSVSource.FetchRecords: reading %s: %w", s.URI, err)
	}

	records, err := ReadRecords(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("CSVSource.FetchRecords: %s: %w", s.URI, err)
	}
	return records, nil
}

// Close implements ClosableSource.
func (s *CSVSource) Close() error { return nil }
