package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"okxwatch/internal/alerting"
	"okxwatch/internal/config"
	"okxwatch/internal/fetcher"
	"okxwatch/internal/history"
	"okxwatch/internal/presenter"
	"okxwatch/internal/scheduler"
	"okxwatch/internal/storage"
	"okxwatch/internal/window"
)

// ErrNoInstruments is returned when the tracked set is empty.
var ErrNoInstruments = errors.New("no instruments configured")

type trigger int

const (
	triggerRefresh trigger = iota
	triggerRecompute
)

// Deps are the collaborators of the polling pipeline. Only Prices is required.
type Deps struct {
	Prices    fetcher.PriceFetcher
	Gate      *alerting.Gate
	Notifier  alerting.Notifier
	Presenter presenter.Presenter
	Archive   storage.SampleArchive
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	Clock     func() time.Time
}

// Service orchestrates fetching, ingestion, window evaluation and alerting.
//
// Run owns the pipeline: fetch cycles execute in background goroutines and
// hand their results back to the Run loop, which is the only writer of the
// history book and the alert gate.
type Service struct {
	book      *history.Book
	gate      *alerting.Gate
	prices    fetcher.PriceFetcher
	notifier  alerting.Notifier
	presenter presenter.Presenter
	archive   storage.SampleArchive
	alerts    storage.AlertStore
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	now       func() time.Time

	refresh   *scheduler.Scheduler
	recompute *scheduler.Scheduler

	lookback    time.Duration
	concurrency int
	lockKey     int64

	triggers chan trigger

	mu     sync.RWMutex
	quotes map[string]decimal.Decimal
	last   presenter.Snapshot
}

// New constructs the polling service for a fixed instrument set.
func New(cfg *config.Config, instruments []string, deps Deps, logger zerolog.Logger) *Service {
	lookback := cfg.Window.Lookback
	if lookback <= 0 {
		lookback = window.DefaultLookback
	}

	gate := deps.Gate
	if gate == nil {
		gate = alerting.NewGate(alerting.GateOptions{
			Enabled:      cfg.Alerting.Enabled,
			ThresholdPct: decimal.NewFromFloat(cfg.Alerting.ThresholdPct),
			Cooldown:     cfg.Alerting.Cooldown,
			Lookback:     lookback,
		})
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	locker := deps.Locker
	if locker == nil {
		if l, ok := deps.Archive.(storage.AdvisoryLocker); ok {
			locker = l
		}
	}

	s := &Service{
		book:        history.NewBook(instruments, cfg.Window.MaxSamples),
		gate:        gate,
		prices:      deps.Prices,
		notifier:    deps.Notifier,
		presenter:   deps.Presenter,
		archive:     deps.Archive,
		alerts:      deps.Alerts,
		locker:      locker,
		logger:      logger.With().Str("component", "service").Logger(),
		now:         clock,
		lookback:    lookback,
		concurrency: cfg.Scheduler.MaxConcurrency,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		triggers:    make(chan trigger, 4),
		quotes:      make(map[string]decimal.Decimal),
	}

	if cfg.Scheduler.RefreshInterval > 0 {
		s.refresh = scheduler.New(scheduler.Options{
			Name:            "refresh",
			Interval:        cfg.Scheduler.RefreshInterval,
			StartupDelay:    cfg.Scheduler.StartupDelay,
			FireImmediately: true,
		}, logger)
	}
	if cfg.Scheduler.RecomputeInterval > 0 {
		s.recompute = scheduler.New(scheduler.Options{
			Name:         "recompute",
			Interval:     cfg.Scheduler.RecomputeInterval,
			AlignToStart: cfg.Scheduler.AlignRecompute,
		}, logger)
	}
	return s
}

// Book exposes the history for read-only consumers.
func (s *Service) Book() *history.Book {
	return s.book
}

// Gate exposes the alert gate, e.g. to toggle alerts at runtime.
func (s *Service) Gate() *alerting.Gate {
	return s.gate
}

// Snapshot returns the most recently presented table.
func (s *Service) Snapshot() presenter.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RequestRefresh asks the Run loop for an immediate refresh cycle. It reports
// false when a request is already queued.
func (s *Service) RequestRefresh() bool {
	select {
	case s.triggers <- triggerRefresh:
		return true
	default:
		return false
	}
}

// Run starts the refresh and recompute triggers and processes cycles until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.prices == nil {
		return fmt.Errorf("price fetcher not configured")
	}

	if len(s.book.Instruments()) == 0 {
		s.logger.Warn().Msg("no instruments configured; refresh disabled")
		s.present(ctx, s.now(), presenter.StatusNoInstruments)
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startTrigger(ctx, &wg, s.refresh, triggerRefresh)
	s.startTrigger(ctx, &wg, s.recompute, triggerRecompute)

	cycles := make(chan []fetcher.Result, 1)
	inFlight := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t := <-s.triggers:
			switch t {
			case triggerRefresh:
				if inFlight {
					s.logger.Debug().Msg("refresh already in flight; request skipped")
					continue
				}
				inFlight = true
				s.present(ctx, s.now(), presenter.StatusQuerying)
				go func() {
					cycles <- s.fetchCycle(ctx)
				}()
			case triggerRecompute:
				s.logger.Debug().Msg("recomputing window without new samples")
				s.evaluateAll(ctx, s.now(), s.Snapshot().Status)
			}

		case results := <-cycles:
			inFlight = false
			s.applyCycle(ctx, results)
		}
	}
}

func (s *Service) startTrigger(ctx context.Context, wg *sync.WaitGroup, sched *scheduler.Scheduler, t trigger) {
	if sched == nil {
		return
	}
	s.logger.Info().Dur("interval", sched.Interval()).
		Time("next_at", sched.Next(s.now())).
		Msg("trigger scheduled")

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
			select {
			case s.triggers <- t:
			case <-ctx.Done():
			}
			return nil
		})
	}()
}

// RefreshOnce runs one fetch → ingest → evaluate → alert pass synchronously.
// It must not be used concurrently with Run.
func (s *Service) RefreshOnce(ctx context.Context) (presenter.Snapshot, error) {
	if s.prices == nil {
		return presenter.Snapshot{}, fmt.Errorf("price fetcher not configured")
	}
	if len(s.book.Instruments()) == 0 {
		s.present(ctx, s.now(), presenter.StatusNoInstruments)
		return s.Snapshot(), ErrNoInstruments
	}
	s.applyCycle(ctx, s.fetchCycle(ctx))
	return s.Snapshot(), nil
}

// Recompute re-evaluates every instrument against the existing history.
// It must not be used concurrently with Run.
func (s *Service) Recompute(ctx context.Context) presenter.Snapshot {
	s.evaluateAll(ctx, s.now(), s.Snapshot().Status)
	return s.Snapshot()
}

// fetchCycle fetches every instrument; it never touches history.
func (s *Service) fetchCycle(ctx context.Context) []fetcher.Result {
	instruments := s.book.Instruments()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return failAll(instruments, err)
	}
	if !proceed {
		return failAll(instruments, errors.New("refresh skipped: advisory lock held elsewhere"))
	}
	if unlock != nil {
		defer unlock()
	}

	return fetcher.FetchAll(ctx, s.prices, instruments, s.concurrency)
}

func failAll(instruments []string, err error) []fetcher.Result {
	results := make([]fetcher.Result, len(instruments))
	for i, inst := range instruments {
		results[i] = fetcher.Result{Instrument: inst, Err: err}
	}
	return results
}

// applyCycle stamps successful results with the completion time and feeds
// them through ingestion, evaluation and alerting.
func (s *Service) applyCycle(ctx context.Context, results []fetcher.Result) {
	now := s.now()
	failed := 0
	var firstErr error

	s.mu.Lock()
	for _, r := range results {
		if !r.OK() {
			failed++
			if firstErr == nil {
				firstErr = r.Err
			}
			delete(s.quotes, r.Instrument)
			s.logger.Warn().Err(r.Err).Str("inst_id", r.Instrument).Msg("price fetch failed")
			continue
		}
		s.quotes[r.Instrument] = r.Price
	}
	s.mu.Unlock()

	for _, r := range results {
		if !r.OK() {
			continue
		}
		if err := s.book.Ingest(r.Instrument, now, r.Price); err != nil {
			s.logger.Error().Err(err).Str("inst_id", r.Instrument).Msg("sample rejected")
			continue
		}
		s.archiveSample(ctx, r.Instrument, now, r.Price)
	}

	status := presenter.StatusComplete
	switch {
	case failed > 0 && failed == len(results):
		status = "Error: " + firstErr.Error()
	case failed > 0:
		status = fmt.Sprintf("%s (%d of %d failed)", presenter.StatusComplete, failed, len(results))
	}

	s.logger.Info().Int("instruments", len(results)).Int("failed", failed).Msg("refresh cycle complete")
	s.evaluateAll(ctx, now, status)
}

func (s *Service) archiveSample(ctx context.Context, inst string, at time.Time, price decimal.Decimal) {
	if s.archive == nil {
		return
	}
	sample := storage.PriceSample{InstID: inst, ObservedAt: at, Price: price}
	if err := s.archive.InsertSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("inst_id", inst).Msg("failed to archive sample")
	}
}

// evaluateAll recomputes every row, runs the alert gate and presents the table.
func (s *Service) evaluateAll(ctx context.Context, now time.Time, status string) {
	instruments := s.book.Instruments()
	rows := make([]presenter.Row, 0, len(instruments))
	threshold := s.gate.Threshold()

	for _, inst := range instruments {
		samples := s.book.Samples(inst)
		res := window.Evaluate(samples, now, s.lookback)

		rows = append(rows, presenter.Row{
			Instrument: inst,
			Price:      s.quoteText(inst),
			Change:     window.FormatChange(res),
			Class:      alerting.Classify(res, threshold),
			Samples:    len(samples),
		})

		if res.Degraded && res.OK() {
			s.logger.Debug().Str("inst_id", inst).Time("baseline_at", res.BaselineAt).Msg("lookback not yet covered; using earliest sample")
		}

		if alert, ok := s.gate.Evaluate(inst, res, now); ok {
			s.dispatch(ctx, alert)
		}
	}

	s.storeAndPresent(ctx, presenter.Snapshot{At: now, Status: status, Rows: rows})
}

func (s *Service) quoteText(inst string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.quotes[inst]; ok {
		return q.String()
	}
	return window.NotAvailable
}

func (s *Service) dispatch(ctx context.Context, alert alerting.Alert) {
	s.logger.Info().Str("inst_id", alert.Instrument).
		Str("change_pct", alert.ChangePct.StringFixed(2)).
		Msg("alert triggered")

	if s.alerts != nil {
		record := storage.AlertRecord{
			ID:            alert.ID,
			InstID:        alert.Instrument,
			ChangePct:     alert.ChangePct,
			ThresholdPct:  alert.ThresholdPct,
			Direction:     alert.Direction(),
			CurrentPrice:  alert.Current,
			BaselinePrice: alert.Baseline,
			TriggeredAt:   alert.TriggeredAt,
		}
		if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("inst_id", alert.Instrument).Msg("failed to persist alert record")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.Error().Err(err).Str("inst_id", alert.Instrument).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) present(ctx context.Context, at time.Time, status string) {
	snap := s.Snapshot()
	snap.At = at
	snap.Status = status
	if snap.Rows == nil {
		for _, inst := range s.book.Instruments() {
			snap.Rows = append(snap.Rows, presenter.Row{
				Instrument: inst,
				Price:      "-",
				Change:     "-",
				Class:      alerting.ClassNeutral,
			})
		}
	}
	s.storeAndPresent(ctx, snap)
}

func (s *Service) storeAndPresent(ctx context.Context, snap presenter.Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if s.presenter == nil {
		return
	}
	if err := s.presenter.Present(ctx, snap); err != nil {
		s.logger.Error().Err(err).Msg("failed to present snapshot")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
