package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"okxwatch/internal/storage"
)

// Show prints recent archived samples, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show archive")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.PruneAlerts > 0 {
		cutoff := time.Now().UTC().Add(-opts.PruneAlerts)
		if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
			return err
		}
		a.Logger.Info().Time("cutoff", cutoff).Msg("pruned archived alerts")
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}

	samples, err := store.ListRecentSamples(ctx, opts.Instrument, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tPrice")
	for _, sample := range samples {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.InstID,
			FormatNumber(sample.Price),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if total, err := store.CountSamples(ctx); err == nil {
		fmt.Fprintf(a.Out, "\n%d of %d archived samples\n", len(samples), total)
	}
	return nil
}

func (a *App) showAlerts(ctx context.Context, store storage.AlertStore, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tInstrument\tChange%\tThreshold%\tBaseline\tCurrent\tID")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.InstID,
			alert.ChangePct.StringFixed(2),
			alert.ThresholdPct.StringFixed(2),
			FormatNumber(alert.BaselinePrice),
			FormatNumber(alert.CurrentPrice),
			alert.ID,
		)
	}
	return writer.Flush()
}
