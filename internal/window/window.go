package window

import (
	"time"

	"github.com/shopspring/decimal"

	"okxwatch/internal/history"
)

// DefaultLookback is the trailing window the change figure is measured over.
const DefaultLookback = 30 * time.Minute

// NotAvailable is rendered wherever a price or change cannot be derived.
const NotAvailable = "N/A"

var hundred = decimal.NewFromInt(100)

// Status classifies an evaluation outcome.
type Status string

const (
	StatusOK               Status = "OK"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
	StatusZeroBaseline     Status = "ZERO_BASELINE"
)

// Result is the derived trailing-window change for one instrument.
type Result struct {
	Status     Status
	Current    decimal.Decimal
	Baseline   decimal.Decimal
	BaselineAt time.Time
	// Change is the percent change; only meaningful when Status is StatusOK.
	Change decimal.Decimal
	// Degraded is set when no sample was old enough and the earliest sample
	// served as baseline.
	Degraded bool
}

// OK reports whether Change carries a value.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Evaluate computes the percent change between the latest sample and the last
// sample observed at or before now-lookback. Samples must be time ordered.
func Evaluate(samples []history.Sample, now time.Time, lookback time.Duration) Result {
	if len(samples) < 2 {
		return Result{Status: StatusInsufficientData}
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	current := samples[len(samples)-1]
	threshold := now.Add(-lookback)

	idx := -1
	for i, s := range samples {
		if s.ObservedAt.After(threshold) {
			break
		}
		idx = i
	}

	res := Result{Current: current.Price}
	if idx < 0 {
		idx = 0
		res.Degraded = true
	}
	baseline := samples[idx]
	res.Baseline = baseline.Price
	res.BaselineAt = baseline.ObservedAt

	if !baseline.Price.IsPositive() {
		res.Status = StatusZeroBaseline
		return res
	}

	res.Change = current.Price.Sub(baseline.Price).Div(baseline.Price).Mul(hundred)
	res.Status = StatusOK
	return res
}

// FormatChange renders a result as "+X.XX%" / "-X.XX%", or N/A.
func FormatChange(r Result) string {
	if !r.OK() {
		return NotAvailable
	}
	return FormatPercent(r.Change)
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(pct decimal.Decimal) string {
	if pct.IsNegative() {
		return "-" + pct.Abs().StringFixed(2) + "%"
	}
	return "+" + pct.StringFixed(2) + "%"
}
