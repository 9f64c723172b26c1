package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/publish"
	"market-pulse/internal/signal"
)

// Notification 封装信号变化的告警上下文。
type Notification struct {
	Symbol     string
	At         time.Time
	Signal     signal.Action
	Previous   signal.Action
	Strength   int
	Counts     signal.Counts
	Timeframes []string
	Price      float64
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Publish 仅转发共识信号发生变化的 signal.update 事件。
func (n *TelegramNotifier) Publish(ctx context.Context, ev publish.Event) error {
	note, ok := FromEvent(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, note)
}

// Close 无需释放资源。
func (n *TelegramNotifier) Close() error { return nil }

// FromEvent extracts a notification from a changed signal event.
func FromEvent(ev publish.Event) (Notification, bool) {
	if ev.Type != publish.TypeSignalUpdate {
		return Notification{}, false
	}
	var update publish.SignalUpdate
	switch p := ev.Payload.(type) {
	case publish.SignalUpdate:
		update = p
	case *publish.SignalUpdate:
		if p == nil {
			return Notification{}, false
		}
		update = *p
	default:
		return Notification{}, false
	}
	if !update.Changed {
		return Notification{}, false
	}

	note := Notification{
		Symbol:     ev.Symbol,
		At:         ev.At,
		Signal:     update.Consensus.Signal,
		Previous:   update.Previous,
		Strength:   update.Consensus.Strength,
		Counts:     update.Consensus.Counts,
		Timeframes: update.Consensus.Timeframes,
	}
	for _, tf := range update.Consensus.Timeframes {
		if set, ok := update.Indicators[tf]; ok {
			note.Price = set.Price
			break
		}
	}
	return note, true
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("symbol", note.Symbol).
		Str("signal", string(note.Signal)).
		Str("previous", string(note.Previous)).
		Int("strength", note.Strength).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s Signal Change]\n", note.Symbol))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	previous := string(note.Previous)
	if previous == "" {
		previous = "-"
	}
	builder.WriteString(fmt.Sprintf("Signal: %s -> %s (strength %d)\n", previous, note.Signal, note.Strength))
	builder.WriteString(fmt.Sprintf("Votes: buy %d / sell %d / hold %d\n", note.Counts.Buy, note.Counts.Sell, note.Counts.Hold))
	if note.Price > 0 {
		builder.WriteString(fmt.Sprintf("Price: %.2f\n", note.Price))
	}
	if len(note.Timeframes) > 0 {
		builder.WriteString(fmt.Sprintf("Timeframes: %s\n", strings.Join(note.Timeframes, ",")))
	}
	return builder.String()
}

var (
	_ Notifier          = (*TelegramNotifier)(nil)
	_ publish.Publisher = (*TelegramNotifier)(nil)
)
