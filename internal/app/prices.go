package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"okxwatch/internal/fetcher"
	"okxwatch/internal/window"
)

var nanoThreshold = decimal.New(1, -9)

// Prices fetches one ticker per instrument and prints "inst: price" lines.
func (a *App) Prices(ctx context.Context) error {
	list, err := a.requireInstruments()
	if err != nil {
		return err
	}

	results := fetcher.FetchAll(ctx, a.newClient(), list, a.Config.Scheduler.MaxConcurrency)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
			a.Logger.Warn().Err(r.Err).Str("inst_id", r.Instrument).Msg("price fetch failed")
			fmt.Fprintf(a.Out, "%s: %s\n", r.Instrument, window.NotAvailable)
			continue
		}
		fmt.Fprintf(a.Out, "%s: %s\n", r.Instrument, r.Price.String())
	}

	a.Logger.Debug().Int("instruments", len(results)).Int("failed", failed).Msg("prices fetched")
	return nil
}

// FormatNumber renders up to eight decimals with trailing zeros trimmed;
// magnitudes below 1e-9 print as "0".
func FormatNumber(d decimal.Decimal) string {
	if d.Abs().LessThan(nanoThreshold) {
		return "0"
	}
	return d.Round(8).String()
}
