package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunFiresImmediatelyThenPeriodically(t *testing.T) {
	sched := New(Options{Name: "refresh", Interval: 20 * time.Millisecond, FireImmediately: true}, zerolog.Nop())

	var ticks atomic.Int32
	first := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		if ticks.Add(1) == 1 {
			if time.Since(start) > 15*time.Millisecond {
				t.Errorf("首次触发应立即执行")
			}
			close(first)
		}
		return errors.New("tick errors are logged, not fatal")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应在 ctx 结束时返回, 实际 %v", err)
	}

	select {
	case <-first:
	default:
		t.Fatal("未执行首次触发")
	}
	if n := ticks.Load(); n < 3 {
		t.Fatalf("期望至少 3 次触发, 实际 %d", n)
	}
}

func TestRunWithoutImmediateFire(t *testing.T) {
	sched := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ticks atomic.Int32
	_ = sched.Run(ctx, func(context.Context, time.Time) error {
		ticks.Add(1)
		return nil
	})
	if ticks.Load() != 0 {
		t.Fatal("未到间隔不应触发")
	}
}

func TestNextTickAlignment(t *testing.T) {
	sched := New(Options{Interval: 30 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)

	if got := sched.nextTick(now); !got.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("对齐后的下一次触发不正确: %s", got)
	}
	if got := sched.Next(now); !got.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("Next 应与 nextTick 一致: %s", got)
	}
	if sched.Interval() != 30*time.Minute {
		t.Fatalf("Interval 不正确: %s", sched.Interval())
	}

	unaligned := New(Options{Interval: 30 * time.Minute}, zerolog.Nop())
	if got := unaligned.Next(now); !got.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("未对齐时应为 now+interval: %s", got)
	}
	if got := sched.tickStart(time.Date(2024, 1, 1, 10, 30, 0, 5, time.UTC)); !got.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("tickStart 截断不正确: %s", got)
	}
}

func TestNewPanicsOnInvalidInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正间隔应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
