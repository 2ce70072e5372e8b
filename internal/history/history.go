package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxSamples is the per-instrument retention cap.
const DefaultMaxSamples = 200

var (
	// ErrInvalidPrice is returned for zero or negative prices.
	ErrInvalidPrice = errors.New("history: price must be positive")
	// ErrOutOfOrder is returned when a sample is older than the latest retained one.
	ErrOutOfOrder = errors.New("history: sample older than latest observation")
	// ErrUnknownInstrument is returned for instruments outside the tracked set.
	ErrUnknownInstrument = errors.New("history: instrument not tracked")
)

// Sample is one observed price.
type Sample struct {
	ObservedAt time.Time
	Price      decimal.Decimal
}

// Book holds a bounded, time-ordered history per tracked instrument.
type Book struct {
	mu          sync.RWMutex
	instruments []string
	series      map[string][]Sample
	maxSamples  int
}

// NewBook creates empty histories for the given instruments. The instrument
// set is fixed for the lifetime of the book.
func NewBook(instruments []string, maxSamples int) *Book {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}

	series := make(map[string][]Sample, len(instruments))
	ordered := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if _, dup := series[inst]; dup {
			continue
		}
		series[inst] = make([]Sample, 0, maxSamples)
		ordered = append(ordered, inst)
	}

	return &Book{
		instruments: ordered,
		series:      series,
		maxSamples:  maxSamples,
	}
}

// Instruments returns the tracked instruments in display order.
func (b *Book) Instruments() []string {
	out := make([]string, len(b.instruments))
	copy(out, b.instruments)
	return out
}

// MaxSamples reports the retention cap.
func (b *Book) MaxSamples() int {
	return b.maxSamples
}

// Ingest appends an observation and evicts the oldest samples beyond the cap.
func (b *Book) Ingest(instrument string, observedAt time.Time, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s=%s", ErrInvalidPrice, instrument, price.String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	samples, ok := b.series[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	if n := len(samples); n > 0 && observedAt.Before(samples[n-1].ObservedAt) {
		return fmt.Errorf("%w: %s at %s", ErrOutOfOrder, instrument, observedAt.Format(time.RFC3339Nano))
	}

	samples = append(samples, Sample{ObservedAt: observedAt, Price: price})
	if over := len(samples) - b.maxSamples; over > 0 {
		// shift in place; capacity stays bounded
		copy(samples, samples[over:])
		samples = samples[:b.maxSamples]
	}
	b.series[instrument] = samples
	return nil
}

// Samples returns a copy of the instrument's history, oldest first.
func (b *Book) Samples(instrument string) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	samples := b.series[instrument]
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// Latest returns the most recent sample, if any.
func (b *Book) Latest(instrument string) (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	samples := b.series[instrument]
	if len(samples) == 0 {
		return Sample{}, false
	}
	return samples[len(samples)-1], true
}

// Len reports how many samples are retained for the instrument.
func (b *Book) Len(instrument string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.series[instrument])
}
