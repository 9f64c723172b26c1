package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/indicator"
	"market-pulse/internal/publish"
	"market-pulse/internal/signal"
)

func changedEvent(changed bool) publish.Event {
	return publish.NewSignalEvent("NIFTY", time.Now(), publish.SignalUpdate{
		Consensus: signal.ConsensusDecision{
			Signal:     signal.Buy,
			Strength:   75,
			Counts:     signal.Counts{Buy: 3, Hold: 1},
			Timeframes: []string{"15m", "1h", "1m", "5m"},
		},
		Indicators: map[string]indicator.Set{"15m": {Price: 22010.4}},
		Previous:   signal.Hold,
		Changed:    changed,
	})
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
	if err := notifier.Publish(context.Background(), changedEvent(true)); err != nil {
		t.Fatalf("Telegram Publish 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "HOLD -> BUY") || !strings.Contains(text, "22010.40") {
		t.Fatalf("消息内容不正确: %s", text)
	}
}

func TestTelegramNotifierSkipsUnchanged(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	ctx := context.Background()
	if err := notifier.Publish(ctx, changedEvent(false)); err != nil {
		t.Fatalf("未变化的信号不应报错: %v", err)
	}
	quote := publish.Event{Type: publish.TypeQuoteUpdate, Symbol: "NIFTY"}
	if err := notifier.Publish(ctx, quote); err != nil {
		t.Fatalf("行情事件不应报错: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("不应调用 Telegram, 实际 %d 次", calls.Load())
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Publish(context.Background(), changedEvent(true)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestFromEventIgnoresForeignPayload(t *testing.T) {
	ev := publish.Event{Type: publish.TypeSignalUpdate, Payload: "nope"}
	if _, ok := FromEvent(ev); ok {
		t.Fatal("非 SignalUpdate 负载应被忽略")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
