package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"okxwatch/internal/alerting"
	"okxwatch/internal/config"
	"okxwatch/internal/presenter"
	"okxwatch/internal/storage"
)

type scriptedPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func newScriptedPrices() *scriptedPrices {
	return &scriptedPrices{prices: map[string]decimal.Decimal{}, errs: map[string]error{}}
}

func (s *scriptedPrices) set(inst string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[inst] = decimal.NewFromInt(price)
	delete(s.errs, inst)
}

func (s *scriptedPrices) fail(inst string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[inst] = err
}

func (s *scriptedPrices) FetchPrice(_ context.Context, inst string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[inst]; ok {
		return decimal.Zero, err
	}
	return s.prices[inst], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (r *recordingNotifier) Notify(_ context.Context, a alerting.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type recordingPresenter struct {
	mu    sync.Mutex
	snaps []presenter.Snapshot
}

func (r *recordingPresenter) Present(_ context.Context, snap presenter.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingPresenter) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Status
	}
	return out
}

type memoryArchive struct {
	mu      sync.Mutex
	samples []storage.PriceSample
	alerts  []storage.AlertRecord
}

func (m *memoryArchive) InsertSample(_ context.Context, s storage.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memoryArchive) ListSamplesBetween(context.Context, string, time.Time, time.Time) ([]storage.PriceSample, error) {
	return nil, nil
}

func (m *memoryArchive) ListRecentSamples(context.Context, string, int) ([]storage.PriceSample, error) {
	return nil, nil
}

func (m *memoryArchive) CountSamples(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.samples)), nil
}

func (m *memoryArchive) InsertAlert(_ context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *memoryArchive) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (m *memoryArchive) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			RefreshInterval:   time.Hour,
			RecomputeInterval: time.Hour,
			MaxConcurrency:    4,
		},
		Window: config.WindowConfig{Lookback: 30 * time.Minute, MaxSamples: 200},
		Alerting: config.AlertingConfig{
			Enabled:      true,
			ThresholdPct: 2.0,
			Cooldown:     10 * time.Minute,
		},
	}
}

func TestEndToEndSingleAlert(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	prices := newScriptedPrices()
	notifier := &recordingNotifier{}
	archive := &memoryArchive{}

	svc := New(testConfig(), []string{"BTC-USDT"}, Deps{
		Prices:   prices,
		Notifier: notifier,
		Archive:  archive,
		Alerts:   archive,
		Clock:    clock.Now,
	}, zerolog.Nop())

	steps := []struct {
		minute int
		price  int64
	}{
		{0, 100}, {5, 100}, {10, 100}, {15, 100}, {40, 200},
	}

	ctx := context.Background()
	var snap presenter.Snapshot
	for _, step := range steps {
		clock.Set(t0.Add(time.Duration(step.minute) * time.Minute))
		prices.set("BTC-USDT", step.price)
		var err error
		snap, err = svc.RefreshOnce(ctx)
		if err != nil {
			t.Fatalf("refresh at minute %d: %v", step.minute, err)
		}
	}

	if got := snap.Rows[0].Change; got != "+100.00%" {
		t.Fatalf("期望 +100.00%%，得到 %s", got)
	}
	if snap.Rows[0].Class != alerting.ClassPositive {
		t.Fatalf("unexpected class %v", snap.Rows[0].Class)
	}
	if notifier.count() != 1 {
		t.Fatalf("期望 1 次告警，得到 %d", notifier.count())
	}
	if !strings.Contains(notifier.alerts[0].Message(), "+100.00%") {
		t.Fatalf("unexpected message %q", notifier.alerts[0].Message())
	}
	if len(archive.samples) != len(steps) || len(archive.alerts) != 1 {
		t.Fatalf("archive samples=%d alerts=%d", len(archive.samples), len(archive.alerts))
	}

	// Still above threshold five minutes later, but inside the cooldown.
	clock.Set(t0.Add(45 * time.Minute))
	svc.Recompute(ctx)
	if notifier.count() != 1 {
		t.Fatalf("cooldown violated: %d alerts", notifier.count())
	}
}

func TestFetchFailureIsolated(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	prices := newScriptedPrices()
	prices.set("BTC-USDT", 100)
	prices.set("ETH-USDT", 50)

	svc := New(testConfig(), []string{"BTC-USDT", "ETH-USDT"}, Deps{Prices: prices, Clock: clock.Now}, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	clock.Set(t0.Add(time.Minute))
	prices.fail("ETH-USDT", errors.New("timeout"))
	snap, err := svc.RefreshOnce(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if svc.Book().Len("BTC-USDT") != 2 {
		t.Fatalf("BTC 应有 2 个样本，得到 %d", svc.Book().Len("BTC-USDT"))
	}
	if svc.Book().Len("ETH-USDT") != 1 {
		t.Fatalf("ETH 历史不应变化，得到 %d", svc.Book().Len("ETH-USDT"))
	}
	if snap.Rows[1].Price != "N/A" {
		t.Fatalf("failed instrument should show N/A, got %s", snap.Rows[1].Price)
	}
	if !strings.HasPrefix(snap.Status, presenter.StatusComplete) || !strings.Contains(snap.Status, "1 of 2 failed") {
		t.Fatalf("unexpected status %q", snap.Status)
	}

	clock.Set(t0.Add(2 * time.Minute))
	prices.fail("BTC-USDT", errors.New("boom"))
	snap, _ = svc.RefreshOnce(ctx)
	if !strings.HasPrefix(snap.Status, "Error: ") {
		t.Fatalf("expected error status, got %q", snap.Status)
	}
}

func TestNoInstruments(t *testing.T) {
	pres := &recordingPresenter{}
	svc := New(testConfig(), nil, Deps{Prices: newScriptedPrices(), Presenter: pres}, zerolog.Nop())

	if _, err := svc.RefreshOnce(context.Background()); !errors.Is(err, ErrNoInstruments) {
		t.Fatalf("expected ErrNoInstruments, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected run error: %v", err)
	}
	for _, s := range pres.statuses() {
		if s != presenter.StatusNoInstruments {
			t.Fatalf("unexpected status %q", s)
		}
	}
}

type blockingPrices struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingPrices) FetchPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
	return decimal.NewFromInt(10), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunSkipsRefreshWhileInFlight(t *testing.T) {
	fetch := &blockingPrices{release: make(chan struct{})}
	pres := &recordingPresenter{}
	svc := New(testConfig(), []string{"BTC-USDT"}, Deps{Prices: fetch, Presenter: pres}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// The refresh scheduler fires immediately on start.
	waitFor(t, func() bool { return fetch.calls.Load() == 1 })

	for i := 0; i < 3; i++ {
		svc.RequestRefresh()
		time.Sleep(10 * time.Millisecond)
	}
	if got := fetch.calls.Load(); got != 1 {
		t.Fatalf("overlapping refreshes should be skipped, fetches=%d", got)
	}

	close(fetch.release)
	waitFor(t, func() bool { return svc.Book().Len("BTC-USDT") == 1 })
	waitFor(t, func() bool { return svc.Snapshot().Status == presenter.StatusComplete })

	svc.RequestRefresh()
	waitFor(t, func() bool { return svc.Book().Len("BTC-USDT") == 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected run error: %v", err)
	}

	statuses := pres.statuses()
	if len(statuses) == 0 || statuses[0] != presenter.StatusQuerying {
		t.Fatalf("expected Querying... first, got %v", statuses)
	}
}

func (r *recordingPresenter) snapshots() []presenter.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presenter.Snapshot(nil), r.snaps...)
}

func TestRecomputeMovesBaselineDuringQuietPeriod(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	prices := newScriptedPrices()
	notifier := &recordingNotifier{}

	svc := New(testConfig(), []string{"BTC-USDT"}, Deps{
		Prices:   prices,
		Notifier: notifier,
		Clock:    clock.Now,
	}, zerolog.Nop())
	ctx := context.Background()

	for i, p := range []int64{100, 90, 95} {
		clock.Set(t0.Add(time.Duration(i) * time.Minute))
		prices.set("BTC-USDT", p)
		if _, err := svc.RefreshOnce(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := svc.Snapshot().Rows[0].Change; got != "-5.00%" {
		t.Fatalf("最早样本作为基准应得 -5.00%%，得到 %s", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("期望 1 次告警，得到 %d", notifier.count())
	}

	// No new samples from here on.
	prices.fail("BTC-USDT", errors.New("offline"))

	clock.Set(t0.Add(5 * time.Minute))
	if got := svc.Recompute(ctx).Rows[0].Change; got != "-5.00%" {
		t.Fatalf("unexpected change inside lookback: %s", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("cooldown violated: %d alerts", notifier.count())
	}

	// Baseline moves to the 90 sample at t0+1m.
	clock.Set(t0.Add(31 * time.Minute))
	snap := svc.Recompute(ctx)
	if got := snap.Rows[0].Change; got != "+5.56%" {
		t.Fatalf("期望 +5.56%%，得到 %s", got)
	}
	if snap.Rows[0].Class != alerting.ClassPositive {
		t.Fatalf("unexpected class %v", snap.Rows[0].Class)
	}
	if notifier.count() != 2 {
		t.Fatalf("冷却结束后应再触发 1 次告警，共 %d", notifier.count())
	}
	if !notifier.alerts[1].ChangePct.IsPositive() {
		t.Fatalf("second alert should be upward, got %s", notifier.alerts[1].ChangePct)
	}

	// Baseline is now the latest sample itself.
	clock.Set(t0.Add(32 * time.Minute))
	if got := svc.Recompute(ctx).Rows[0].Change; got != "+0.00%" {
		t.Fatalf("期望 +0.00%%，得到 %s", got)
	}
	if notifier.count() != 2 {
		t.Fatalf("unexpected extra alert: %d", notifier.count())
	}
}

func TestRunRecomputesWhileFetchesFail(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	prices := newScriptedPrices()
	pres := &recordingPresenter{}

	cfg := testConfig()
	cfg.Scheduler.RecomputeInterval = 20 * time.Millisecond

	svc := New(cfg, []string{"BTC-USDT"}, Deps{
		Prices:    prices,
		Presenter: pres,
		Clock:     clock.Now,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices.set("BTC-USDT", 100)
	if _, err := svc.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	clock.Set(t0.Add(time.Minute))
	prices.set("BTC-USDT", 110)
	if _, err := svc.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	prices.fail("BTC-USDT", errors.New("timeout"))

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// The immediate refresh fails; recompute keeps presenting the stored history.
	waitFor(t, func() bool { return strings.HasPrefix(svc.Snapshot().Status, "Error: ") })
	before := len(pres.snapshots())
	waitFor(t, func() bool { return len(pres.snapshots()) >= before+3 })

	if got := svc.Snapshot().Rows[0].Change; got != "+10.00%" {
		t.Fatalf("期望 +10.00%%，得到 %s", got)
	}

	clock.Set(t0.Add(31 * time.Minute))
	waitFor(t, func() bool {
		snap := svc.Snapshot()
		return len(snap.Rows) == 1 && snap.Rows[0].Change == "+0.00%"
	})

	for _, snap := range pres.snapshots()[before:] {
		if !strings.HasPrefix(snap.Status, "Error: ") {
			t.Fatalf("recompute should keep the last status, got %q", snap.Status)
		}
		if snap.Rows[0].Price != "N/A" {
			t.Fatalf("failed instrument should show N/A, got %s", snap.Rows[0].Price)
		}
	}
	if svc.Book().Len("BTC-USDT") != 2 {
		t.Fatalf("history must not change without new samples: %d", svc.Book().Len("BTC-USDT"))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestRecomputeAlignsToWallClock(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.RecomputeInterval = 30 * time.Minute
	cfg.Scheduler.AlignRecompute = true

	svc := New(cfg, []string{"BTC-USDT"}, Deps{Prices: newScriptedPrices()}, zerolog.Nop())

	now := time.Date(2024, 3, 1, 9, 7, 0, 0, time.UTC)
	if got := svc.recompute.Next(now); !got.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("对齐后应在半点触发，得到 %s", got)
	}

	cfg.Scheduler.AlignRecompute = false
	svc = New(cfg, []string{"BTC-USDT"}, Deps{Prices: newScriptedPrices()}, zerolog.Nop())
	if got := svc.recompute.Next(now); !got.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("未对齐时应为 now+30m，得到 %s", got)
	}
}
