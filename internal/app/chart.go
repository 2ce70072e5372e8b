package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"okxwatch/internal/fetcher"
)

// Chart fetches candles for one instrument and renders a PNG in the
// configured timezone.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.Instrument == "" {
		return errors.New("--inst is required")
	}
	if opts.PNGPath == "" {
		return errors.New("--png is required")
	}
	if opts.Bar == "" {
		opts.Bar = a.Config.Chart.Bar
	}
	if !fetcher.ValidBar(opts.Bar) {
		return fmt.Errorf("unsupported bar %q; valid: %v", opts.Bar, fetcher.Bars)
	}
	if opts.Limit <= 0 {
		opts.Limit = a.Config.Chart.Limit
	}

	candles, err := a.newClient().FetchCandles(ctx, opts.Instrument, opts.Bar, opts.Limit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles returned for %s", opts.Instrument)
	}

	loc := a.Config.Chart.Location()
	a.Logger.Info().Str("inst_id", opts.Instrument).Str("bar", opts.Bar).
		Int("candles", len(candles)).Str("timezone", loc.String()).
		Msg("rendering chart")

	return writeCandlesPNG(opts.PNGPath, opts.Instrument+" "+opts.Bar, candles, loc)
}

func writeCandlesPNG(path, title string, candles []fetcher.Candle, loc *time.Location) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	ordered := make([]fetcher.Candle, len(candles))
	copy(ordered, candles)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	x := make([]time.Time, len(ordered))
	closes := make([]float64, len(ordered))
	highs := make([]float64, len(ordered))
	lows := make([]float64, len(ordered))
	for i, c := range ordered {
		x[i] = c.Time.In(loc)
		closes[i] = c.Close.InexactFloat64()
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           loc.String(),
			ValueFormatter: zonedTimeFormatter(loc),
		},
		YAxis: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "High", XValues: x, YValues: highs, Style: chart.Style{StrokeColor: chart.ColorGreen}},
			chart.TimeSeries{Name: "Low", XValues: x, YValues: lows, Style: chart.Style{StrokeColor: chart.ColorRed}},
			chart.TimeSeries{Name: "Close", XValues: x, YValues: closes, Style: chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 2}},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func zonedTimeFormatter(loc *time.Location) chart.ValueFormatter {
	return func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return t.In(loc).Format("01-02 15:04")
		case float64:
			return time.Unix(0, int64(t)).In(loc).Format("01-02 15:04")
		case int64:
			return time.Unix(0, t).In(loc).Format("01-02 15:04")
		default:
			return ""
		}
	}
}
