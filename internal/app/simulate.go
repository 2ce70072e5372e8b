package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"okxwatch/internal/alerting"
	"okxwatch/internal/fetcher"
	"okxwatch/internal/presenter"
	"okxwatch/internal/service"
)

// SimulationResult is the outcome of a replayed price path.
type SimulationResult struct {
	Final  presenter.Snapshot
	Alerts []alerting.Alert
}

// SimulateAlert 通过一段给定价格序列回放 ingest → evaluate → gate 流程。
// Samples are spaced Step apart on a synthetic clock; the gate is always
// enabled for the replay.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (SimulationResult, error) {
	if opts.Instrument == "" {
		return SimulationResult{}, errors.New("--inst is required")
	}
	if len(opts.Prices) == 0 {
		return SimulationResult{}, errors.New("--prices must list at least one price")
	}
	if opts.Step <= 0 {
		return SimulationResult{}, errors.New("--step must be positive")
	}

	prices := make([]decimal.Decimal, len(opts.Prices))
	for i, raw := range opts.Prices {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return SimulationResult{}, fmt.Errorf("invalid price %q: %w", raw, err)
		}
		prices[i] = p
	}

	cfg := *a.Config
	cfg.Alerting.Enabled = true

	replay := &replayFetcher{}
	recorder := &alertRecorder{}
	start := time.Now().UTC().Truncate(time.Minute)
	var now time.Time

	svc := service.New(&cfg, []string{opts.Instrument}, service.Deps{
		Prices:    replay,
		Notifier:  alerting.Fanout{recorder, a.newNotifier()},
		Presenter: presenter.NewTablePresenter(a.Out),
		Clock:     func() time.Time { return now },
	}, a.Logger)

	var result SimulationResult
	for i, p := range prices {
		now = start.Add(time.Duration(i) * opts.Step)
		replay.set(p)
		snap, err := svc.RefreshOnce(ctx)
		if err != nil {
			return result, err
		}
		result.Final = snap
	}

	result.Alerts = recorder.list()
	a.Logger.Info().Str("inst_id", opts.Instrument).Int("samples", len(prices)).
		Int("alerts", len(result.Alerts)).Msg("simulation complete")
	return result, nil
}

type replayFetcher struct {
	mu    sync.Mutex
	price decimal.Decimal
}

func (r *replayFetcher) set(p decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.price = p
}

func (r *replayFetcher) FetchPrice(context.Context, string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.price, nil
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (r *alertRecorder) Notify(_ context.Context, alert alerting.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *alertRecorder) list() []alerting.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Alert(nil), r.alerts...)
}

var (
	_ fetcher.PriceFetcher = (*replayFetcher)(nil)
	_ alerting.Notifier    = (*alertRecorder)(nil)
)
