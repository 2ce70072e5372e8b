package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PriceFetcher retrieves the last traded price of an instrument.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, instID string) (decimal.Decimal, error)
}

// CandleFetcher retrieves candlesticks for charting.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, instID, bar string, limit int) ([]Candle, error)
}

// AccountFetcher covers the authenticated account endpoints.
type AccountFetcher interface {
	FetchBalance(ctx context.Context, ccy string) (Balance, error)
	FetchBills(ctx context.Context, query BillsQuery) ([]Bill, error)
}

// Result is the outcome of one price fetch. Exactly one of Price/Err is meaningful.
type Result struct {
	Instrument string
	Price      decimal.Decimal
	Err        error
}

// OK reports whether the fetch produced a usable price.
func (r Result) OK() bool {
	return r.Err == nil
}

// FetchAll fetches every instrument concurrently, bounded by limit. A failure
// for one instrument is recorded in its Result and never cancels the others.
// Results are returned in input order.
func FetchAll(ctx context.Context, src PriceFetcher, instruments []string, limit int) []Result {
	results := make([]Result, len(instruments))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, inst := range instruments {
		g.Go(func() error {
			price, err := src.FetchPrice(ctx, inst)
			results[i] = Result{Instrument: inst, Price: price, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
