// Package anomaly implements the transaction and period anomaly detectors
// and the comprehensive report that combines them.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dvloznov/expense-insight/internal/domain"
)

// Method selects a detector.
type Method string

const (
	MethodStatistical   Method = "statistical"
	MethodML            Method = "ml"
	MethodTrend         Method = "trend"
	MethodComprehensive Method = "comprehensive"
)

var (
	// ErrUnknownMethod is returned by Lookup for names with no detector.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrInvalidParams is wrapped by Params.Validate.
	ErrInvalidParams = errors.New("invalid parameter")
)

// Params carries every tunable of the detectors. Detectors use the values as
// given; build them from DefaultParams or WithDefaults.
type Params struct {
	Threshold     float64 // robust z-score cut-off
	Contamination float64 // expected outlier share for the isolation forest
	ThresholdPct  float64 // month-over-month change cut-off, in percent
	MLMinRows     int
	Seed          uint64
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		Threshold:     2.5,
		Contamination: 0.05,
		ThresholdPct:  30.0,
		MLMinRows:     20,
		Seed:          42,
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Threshold == 0 {
		p.Threshold = d.Threshold
	}
	if p.Contamination == 0 {
		p.Contamination = d.Contamination
	}
	if p.ThresholdPct == 0 {
		p.ThresholdPct = d.ThresholdPct
	}
	if p.MLMinRows == 0 {
		p.MLMinRows = d.MLMinRows
	}
	if p.Seed == 0 {
		p.Seed = d.Seed
	}
	return p
}

// Validate rejects non-finite or out-of-range values.
func (p Params) Validate() error {
	var errs []error
	if !finite(p.Threshold) || p.Threshold < 0 {
		errs = append(errs, fmt.Errorf("%w: threshold must be a finite number >= 0", ErrInvalidParams))
	}
	if !(p.Contamination > 0 && p.Contamination <= 0.5) {
		errs = append(errs, fmt.Errorf("%w: contamination must be in (0, 0.5]", ErrInvalidParams))
	}
	if !finite(p.ThresholdPct) || p.ThresholdPct < 0 {
		errs = append(errs, fmt.Errorf("%w: threshold_pct must be a finite number >= 0", ErrInvalidParams))
	}
	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Overrides holds caller-supplied detector parameters. Nil fields keep the
// base value, so an explicit zero is honored.
type Overrides struct {
	Threshold     *float64 `json:"threshold,omitempty"`
	Contamination *float64 `json:"contamination,omitempty"`
	ThresholdPct  *float64 `json:"threshold_pct,omitempty"`
}

// Apply returns base with the set fields replaced.
func (o Overrides) Apply(base Params) Params {
	if o.Threshold != nil {
		base.Threshold = *o.Threshold
	}
	if o.Contamination != nil {
		base.Contamination = *o.Contamination
	}
	if o.ThresholdPct != nil {
		base.ThresholdPct = *o.ThresholdPct
	}
	return base
}

// Validate checks only the set fields.
func (o Overrides) Validate() error {
	return o.Apply(DefaultParams()).Validate()
}

// Clone returns a copy that shares no pointers with o.
func (o Overrides) Clone() Overrides {
	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	return Overrides{
		Threshold:     cp(o.Threshold),
		Contamination: cp(o.Contamination),
		ThresholdPct:  cp(o.ThresholdPct),
	}
}

// Report is the common surface of every detector result.
type Report interface {
	// AnomalyTotal is the number of flagged items before truncation.
	AnomalyTotal() int
}

// Detector runs one detection method over a snapshot. Implementations never
// fail: problems are reported inside the returned Report.
type Detector interface {
	Method() Method
	Detect(ctx context.Context, snap domain.Snapshot, p Params) Report
}

var registry = map[Method]Detector{
	MethodStatistical:   StatisticalDetector{},
	MethodML:            IsolationDetector{},
	MethodTrend:         TrendDetector{},
	MethodComprehensive: Aggregator{},
}

// Lookup returns the detector registered for name.
func Lookup(name string) (Detector, error) {
	d, ok := registry[Method(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownMethod, name)
	}
	return d, nil
}

// Methods lists the registered method names.
func Methods() []Method {
	return []Method{MethodStatistical, MethodML, MethodTrend, MethodComprehensive}
}
