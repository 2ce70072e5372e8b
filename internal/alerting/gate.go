package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"okxwatch/internal/window"
)

// DefaultCooldown is the minimum gap between two alerts for one instrument.
const DefaultCooldown = 10 * time.Minute

// Alert 描述一次触发的价格提醒。
type Alert struct {
	ID           uuid.UUID
	Instrument   string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Lookback     time.Duration
	Current      decimal.Decimal
	Baseline     decimal.Decimal
	TriggeredAt  time.Time
}

// Direction returns "up" or "down".
func (a Alert) Direction() string {
	if a.ChangePct.IsNegative() {
		return "down"
	}
	return "up"
}

// Message is the human readable alert line.
func (a Alert) Message() string {
	minutes := int(a.Lookback / time.Minute)
	if minutes <= 0 {
		minutes = int(window.DefaultLookback / time.Minute)
	}
	return fmt.Sprintf("%s %d-minute change reached %s", a.Instrument, minutes, window.FormatPercent(a.ChangePct))
}

// GateOptions 控制告警门限。
type GateOptions struct {
	Enabled      bool
	ThresholdPct decimal.Decimal
	Cooldown     time.Duration
	Lookback     time.Duration
}

// Gate decides whether a computed change becomes an alert and keeps the
// per-instrument cooldown state for the session.
type Gate struct {
	mu          sync.Mutex
	opts        GateOptions
	lastAlertAt map[string]time.Time
}

// NewGate constructs a gate with empty alert state.
func NewGate(opts GateOptions) *Gate {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Lookback <= 0 {
		opts.Lookback = window.DefaultLookback
	}
	opts.ThresholdPct = opts.ThresholdPct.Abs()
	return &Gate{opts: opts, lastAlertAt: make(map[string]time.Time)}
}

// Threshold returns the configured absolute threshold.
func (g *Gate) Threshold() decimal.Decimal {
	return g.opts.ThresholdPct
}

// Enabled reports whether alerts are currently emitted.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opts.Enabled
}

// Toggle flips alert emission and returns the new state.
func (g *Gate) Toggle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts.Enabled = !g.opts.Enabled
	return g.opts.Enabled
}

// Evaluate returns an alert when the result crosses the threshold outside the
// instrument's cooldown. The cooldown clock only starts when an alert fires.
func (g *Gate) Evaluate(instrument string, res window.Result, now time.Time) (Alert, bool) {
	if !res.OK() {
		return Alert{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.opts.Enabled {
		return Alert{}, false
	}
	if res.Change.Abs().LessThan(g.opts.ThresholdPct) {
		return Alert{}, false
	}
	if last, ok := g.lastAlertAt[instrument]; ok && now.Sub(last) < g.opts.Cooldown {
		return Alert{}, false
	}

	g.lastAlertAt[instrument] = now
	return Alert{
		ID:           uuid.New(),
		Instrument:   instrument,
		ChangePct:    res.Change,
		ThresholdPct: g.opts.ThresholdPct,
		Lookback:     g.opts.Lookback,
		Current:      res.Current,
		Baseline:     res.Baseline,
		TriggeredAt:  now,
	}, true
}

// LastAlertAt reports when the instrument last alerted.
func (g *Gate) LastAlertAt(instrument string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.lastAlertAt[instrument]
	return at, ok
}

// Class is the presentation bucket of a change figure.
type Class string

const (
	ClassNeutral  Class = "neutral"
	ClassPositive Class = "positive"
	ClassNegative Class = "negative"
)

// Classify buckets a result against the absolute threshold.
func Classify(res window.Result, threshold decimal.Decimal) Class {
	if !res.OK() || res.Change.Abs().LessThan(threshold.Abs()) {
		return ClassNeutral
	}
	if res.Change.IsNegative() {
		return ClassNegative
	}
	return ClassPositive
}
