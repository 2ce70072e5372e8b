package history

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestIngestRetainsMostRecent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, n := range []int{0, 1, 199, 200, 201, 450} {
		book := NewBook([]string{"BTC-USDT"}, DefaultMaxSamples)
		for i := 0; i < n; i++ {
			if err := book.Ingest("BTC-USDT", base.Add(time.Duration(i)*time.Minute), decimal.NewFromInt(int64(i+1))); err != nil {
				t.Fatalf("第 %d 次写入失败: %v", i, err)
			}
		}

		want := n
		if want > DefaultMaxSamples {
			want = DefaultMaxSamples
		}
		samples := book.Samples("BTC-USDT")
		if len(samples) != want {
			t.Fatalf("n=%d: 期望长度 %d, 实际 %d", n, want, len(samples))
		}
		if want == 0 {
			continue
		}
		first := int64(n - want + 1)
		if !samples[0].Price.Equal(decimal.NewFromInt(first)) {
			t.Fatalf("n=%d: 最早样本应为 %d, 实际 %s", n, first, samples[0].Price)
		}
		if !samples[len(samples)-1].Price.Equal(decimal.NewFromInt(int64(n))) {
			t.Fatalf("n=%d: 最新样本应为 %d", n, n)
		}
	}
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	book := NewBook([]string{"ETH-USDT"}, 10)
	now := time.Now()

	if err := book.Ingest("ETH-USDT", now, decimal.Zero); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("零价格应返回 ErrInvalidPrice, 实际 %v", err)
	}
	if err := book.Ingest("ETH-USDT", now, decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("负价格应返回 ErrInvalidPrice, 实际 %v", err)
	}
	if err := book.Ingest("DOGE-USDT", now, decimal.NewFromInt(1)); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("未跟踪标的应返回 ErrUnknownInstrument, 实际 %v", err)
	}

	if err := book.Ingest("ETH-USDT", now, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("正常写入失败: %v", err)
	}
	if err := book.Ingest("ETH-USDT", now.Add(-time.Second), decimal.NewFromInt(2)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("时间倒退应返回 ErrOutOfOrder, 实际 %v", err)
	}
	if err := book.Ingest("ETH-USDT", now, decimal.NewFromInt(3)); err != nil {
		t.Fatalf("相同时间戳应允许写入: %v", err)
	}
	if book.Len("ETH-USDT") != 2 {
		t.Fatalf("期望 2 条样本, 实际 %d", book.Len("ETH-USDT"))
	}
}

func TestSamplesReturnsCopy(t *testing.T) {
	book := NewBook([]string{"BTC-USDT"}, 5)
	now := time.Now()
	_ = book.Ingest("BTC-USDT", now, decimal.NewFromInt(10))

	samples := book.Samples("BTC-USDT")
	samples[0].Price = decimal.NewFromInt(99)

	latest, ok := book.Latest("BTC-USDT")
	if !ok || !latest.Price.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("外部修改不应影响内部历史: %+v", latest)
	}
}

func TestNewBookKeepsOrderAndDropsDuplicates(t *testing.T) {
	book := NewBook([]string{"SOL-USDT", "BTC-USDT", "SOL-USDT"}, 0)
	got := book.Instruments()
	if len(got) != 2 || got[0] != "SOL-USDT" || got[1] != "BTC-USDT" {
		t.Fatalf("标的顺序不正确: %v", got)
	}
	if book.MaxSamples() != DefaultMaxSamples {
		t.Fatalf("默认上限应为 %d", DefaultMaxSamples)
	}
}
