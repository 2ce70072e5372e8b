package app

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"okxwatch/internal/fetcher"
	"okxwatch/internal/storage"
)

// Backfill seeds the archive with confirmed candle closes for every tracked
// instrument. It never touches the live history.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Bar == "" {
		opts.Bar = a.Config.Chart.Bar
	}
	if !fetcher.ValidBar(opts.Bar) {
		return errors.New("unsupported --bar " + opts.Bar)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	list, err := a.requireInstruments()
	if err != nil {
		return err
	}

	var archive storage.SampleArchive
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		archive = store
	}

	return a.backfill(ctx, a.newClient(), archive, list, opts)
}

func (a *App) backfill(ctx context.Context, candles fetcher.CandleFetcher, archive storage.SampleArchive, list []string, opts BackfillOptions) error {
	var written, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, inst := range list {
		g.Go(func() error {
			rows, err := candles.FetchCandles(gctx, inst, opts.Bar, opts.Limit)
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("inst_id", inst).Msg("backfill fetch failed")
				return nil
			}
			for _, c := range rows {
				if !c.Confirmed || !c.Close.IsPositive() {
					continue
				}
				if archive != nil {
					sample := storage.PriceSample{InstID: inst, ObservedAt: c.Time, Price: c.Close}
					if err := archive.InsertSample(gctx, sample); err != nil {
						return err
					}
				}
				written.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().Int64("samples", written.Load()).Int64("failed_instruments", failed.Load()).
		Bool("dry_run", opts.DryRun).Msg("backfill complete")
	if failed.Load() > 0 {
		return errors.New("some instruments failed to backfill; check logs")
	}
	return nil
}
