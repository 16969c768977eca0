package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Debit/credit indicator codes used by the general ledger export.
const (
	IndicatorDebit  = "S" // Soll
	IndicatorCredit = "H" // Haben
)

// maxPostingPeriod includes the special closing periods 13-16.
const maxPostingPeriod = 16

// RawRecord is one ledger row exactly as a source delivers it. Optional text
// columns are empty strings when the source holds NULL.
type RawRecord struct {
	ID string

	CostCenterID             string
	CostCenterName           string
	FunctionalArea           string
	FunctionalAreaName       string
	Directorate              string
	ProfitCenterID           string
	ProfitCenterName         string
	GeneralLedgerAccount     string
	GeneralLedgerAccountName string
	Level1                   string
	Level7                   string
	AccountType              string
	Supplier                 string
	Entity                   string
	Region                   string

	FiscalYear    string
	PostingPeriod string

	Value     decimal.Decimal // company code currency value, unsigned
	Indicator string          // debit/credit indicator
}

// LedgerRecord is a normalized, read-only ledger row. SignedAmount and
// PeriodKey are derived once at load time.
type LedgerRecord struct {
	ID string `json:"id"`

	CostCenterID             string `json:"cost_center_id"`
	CostCenterName           string `json:"cost_center_name"`
	FunctionalArea           string `json:"functional_area"`
	FunctionalAreaName       string `json:"functional_area_name"`
	Directorate              string `json:"directorate"`
	ProfitCenterID           string `json:"profit_center_id"`
	ProfitCenterName         string `json:"profit_center_name"`
	GeneralLedgerAccount     string `json:"general_ledger_account"`
	GeneralLedgerAccountName string `json:"general_ledger_account_name"`
	Level1                   string `json:"level_1"`
	Level7                   string `json:"level_7"`
	AccountType              string `json:"account_type"`
	Supplier                 string `json:"supplier"`
	Entity                   string `json:"entity"`
	Region                   string `json:"region"`

	FiscalYear    string `json:"fiscal_year"`
	PostingPeriod string `json:"posting_period"`

	// Indicator is the upper-cased debit/credit code as recorded, including
	// codes that contribute a zero amount.
	Indicator    string          `json:"debit_credit_ind"`
	SignedAmount decimal.Decimal `json:"-"`
	Amount       float64         `json:"amount"`
	PeriodKey    string          `json:"period_key"`
}

// HasPeriod reports whether the record carries a well-formed period key.
func (r LedgerRecord) HasPeriod() bool {
	return r.PeriodKey != ""
}

// SignedAmount applies the debit/credit sign convention: debits keep their
// value, credits are negated and unknown indicators contribute nothing.
func SignedAmount(value decimal.Decimal, indicator string) decimal.Decimal {
	switch strings.ToUpper(strings.TrimSpace(indicator)) {
	case IndicatorDebit:
		return value
	case IndicatorCredit:
		return value.Neg()
	default:
		return decimal.Zero
	}
}

// PeriodKey builds the canonical "YYYY-PP" key. It returns "" unless the
// fiscal year is four digits and the posting period an integer in 1..16.
func PeriodKey(fiscalYear, postingPeriod string) string {
	fy := strings.TrimSpace(fiscalYear)
	if len(fy) != 4 {
		return ""
	}
	for _, c := range fy {
		if c < '0' || c > '9' {
			return ""
		}
	}

	pp := strings.TrimSpace(postingPeriod)
	if pp == "" {
		return ""
	}
	f, err := strconv.ParseFloat(pp, 64)
	if err != nil || f != float64(int(f)) {
		return ""
	}
	period := int(f)
	if period < 1 || period > maxPostingPeriod {
		return ""
	}
	return fmt.Sprintf("%s-%02d", fy, period)
}

// Normalize derives a LedgerRecord from a raw source row.
func Normalize(raw RawRecord) LedgerRecord {
	signed := SignedAmount(raw.Value, raw.Indicator)
	return LedgerRecord{
		ID:                       raw.ID,
		CostCenterID:             strings.TrimSpace(raw.CostCenterID),
		CostCenterName:           strings.TrimSpace(raw.CostCenterName),
		FunctionalArea:           strings.TrimSpace(raw.FunctionalArea),
		FunctionalAreaName:       strings.TrimSpace(raw.FunctionalAreaName),
		Directorate:              strings.TrimSpace(raw.Directorate),
		ProfitCenterID:           strings.TrimSpace(raw.ProfitCenterID),
		ProfitCenterName:         strings.TrimSpace(raw.ProfitCenterName),
		GeneralLedgerAccount:     strings.TrimSpace(raw.GeneralLedgerAccount),
		GeneralLedgerAccountName: strings.TrimSpace(raw.GeneralLedgerAccountName),
		Level1:                   strings.TrimSpace(raw.Level1),
		Level7:                   strings.TrimSpace(raw.Level7),
		AccountType:              strings.TrimSpace(raw.AccountType),
		Supplier:                 strings.TrimSpace(raw.Supplier),
		Entity:                   strings.TrimSpace(raw.Entity),
		Region:                   strings.TrimSpace(raw.Region),
		FiscalYear:               strings.TrimSpace(raw.FiscalYear),
		PostingPeriod:            strings.TrimSpace(raw.PostingPeriod),
		Indicator:                strings.ToUpper(strings.TrimSpace(raw.Indicator)),
		SignedAmount:             signed,
		Amount:                   signed.InexactFloat64(),
		PeriodKey:                PeriodKey(raw.FiscalYear, raw.PostingPeriod),
	}
}

// Snapshot is the immutable working set shared by every analysis of one
// request. Callers must not modify the records it hands out.
type Snapshot struct {
	records []LedgerRecord
}

// NewSnapshot normalizes raw rows into a snapshot. A nil or empty input
// yields an empty, usable snapshot.
func NewSnapshot(raws []RawRecord) Snapshot {
	records := make([]LedgerRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, Normalize(raw))
	}
	return Snapshot{records: records}
}

// SnapshotOf wraps already-normalized records.
func SnapshotOf(records []LedgerRecord) Snapshot {
	cp := make([]LedgerRecord, len(records))
	copy(cp, records)
	return Snapshot{records: cp}
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// Empty reports whether the snapshot has no rows.
func (s Snapshot) Empty() bool { return len(s.records) == 0 }

// Records returns the underlying rows.
func (s Snapshot) Records() []LedgerRecord { return s.records }

// WithPeriod returns the records that have a well-formed period key.
func (s Snapshot) WithPeriod() []LedgerRecord {
	out := make([]LedgerRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.HasPeriod() {
			out = append(out, r)
		}
	}
	return out
}

// Periods returns the distinct period keys in chronological order.
func (s Snapshot) Periods() []string {
	seen := make(map[string]struct{})
	var periods []string
	for _, r := range s.records {
		if !r.HasPeriod() {
			continue
		}
		if _, ok := seen[r.PeriodKey]; ok {
			continue
		}
		seen[r.PeriodKey] = struct{}{}
		periods = append(periods, r.PeriodKey)
	}
	sort.Strings(periods)
	return periods
}

// Total returns the exact sum of signed amounts.
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.records {
		total = total.Add(r.SignedAmount)
	}
	return total
}
