package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"okxwatch/internal/alerting"
)

func testSnapshot() Snapshot {
	return Snapshot{
		At:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Status: StatusComplete,
		Rows: []Row{
			{Instrument: "BTC-USDT", Price: "67000.1", Change: "+2.50%", Class: alerting.ClassPositive, Samples: 31},
			{Instrument: "ETH-USDT", Price: "N/A", Change: "N/A", Class: alerting.ClassNeutral},
		},
	}
}

func TestTablePresenter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTablePresenter(&buf).Present(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("present: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Complete", "30m Change", "BTC-USDT", "+2.50%", "▲", "ETH-USDT"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRedisPresenterStoresAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewRedisPresenter(rdb, "test", 0)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, p.Channel("BTC-USDT"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := p.Present(ctx, testSnapshot()); err != nil {
		t.Fatalf("present: %v", err)
	}

	status, err := mr.Get(p.StatusKey())
	if err != nil || status != StatusComplete {
		t.Fatalf("status key = %q, %v", status, err)
	}

	raw, err := mr.Get(p.SnapshotKey("BTC-USDT"))
	if err != nil {
		t.Fatalf("snapshot key missing: %v", err)
	}
	var row redisRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.Change != "+2.50%" || row.Class != alerting.ClassPositive {
		t.Fatalf("unexpected row %+v", row)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !strings.Contains(msg.Payload, `"instId":"BTC-USDT"`) {
		t.Fatalf("unexpected payload %s", msg.Payload)
	}
}

type failingPresenter struct{}

func (failingPresenter) Present(context.Context, Snapshot) error { return errors.New("down") }

func TestMultiStopsAtFirstError(t *testing.T) {
	var buf bytes.Buffer
	m := Multi{failingPresenter{}, NewTablePresenter(&buf)}
	if err := m.Present(context.Background(), testSnapshot()); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Fatal("later presenters should not run after a failure")
	}
}
