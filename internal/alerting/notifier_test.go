package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleAlert() Alert {
	return Alert{
		ID:           uuid.New(),
		Instrument:   "BTC-USDT",
		ChangePct:    decimal.RequireFromString("-3.456"),
		ThresholdPct: decimal.NewFromInt(2),
		Lookback:     30 * time.Minute,
		Current:      decimal.NewFromInt(96544),
		Baseline:     decimal.NewFromInt(100000),
		TriggeredAt:  time.Now(),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "BTC-USDT 30-minute change reached -3.46%") {
		t.Fatalf("text 内容不正确: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	first := &recordingNotifier{err: errors.New("boom")}
	second := &recordingNotifier{}

	err := Fanout{first, nil, second}.Notify(context.Background(), sampleAlert())
	if err == nil {
		t.Fatal("应返回第一个通道的错误")
	}
	if len(first.alerts) != 1 || len(second.alerts) != 1 {
		t.Fatalf("每个通道都应收到告警: %d/%d", len(first.alerts), len(second.alerts))
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := NewLogNotifier(testLogger()).Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("日志告警不应失败: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
