// Package notify pushes engine events to a Telegram chat. Delivery is best
// effort: a failed send is logged and dropped, never retried, and never
// blocks a trading transaction.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"tradedesk/internal/events"
)

// Telegram sends event notifications through the Bot API.
type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client
	baseURL  string
}

// NewTelegram creates a notifier. Returns nil when no token is configured;
// a nil notifier is safe to pass around and does nothing.
func NewTelegram(botToken, chatID string) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.telegram.org",
	}
}

// Watch consumes the event stream and pushes one message per event until ctx
// is cancelled.
func (t *Telegram) Watch(ctx context.Context, bus *events.Bus) {
	if t == nil {
		return
	}

	stream, unsub := bus.SubscribeAll(100)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-stream:
			if !ok {
				return
			}
			if msg := format(p); msg != "" {
				t.send(ctx, msg)
			}
		}
	}
}

// format renders the operator-facing message for an event. Unhandled events
// produce no message.
func format(p events.Payload) string {
	switch p.Event {
	case events.EventSignalCreated:
		return fmt.Sprintf("Signal %v %s @ %v (sl %v, tgt %v, qty %v)\nID: %s\nApprove within 60s.",
			p.Details["action"], p.Symbol, p.Details["entry"],
			p.Details["stop_loss"], p.Details["target"], p.Details["qty"], p.SignalID)
	case events.EventSignalExpired:
		return fmt.Sprintf("Signal %s expired without a decision.", p.SignalID)
	case events.EventTradeExecuted:
		return fmt.Sprintf("Executed %v %s qty=%v @ %v [%s]",
			p.Details["side"], p.Symbol, p.Details["qty"], p.Details["entry_price"], p.Mode)
	case events.EventTradeClosed:
		return fmt.Sprintf("Closed %s @ %v, PnL %.2f (%v) [%s]",
			p.Symbol, p.Details["exit_price"], toFloat(p.Details["pnl"]),
			p.Details["exit_reason"], p.Mode)
	case events.EventModeSwitched:
		return fmt.Sprintf("Mode switched %v -> %v", p.Details["from"], p.Details["to"])
	case events.EventRiskAudit:
		return fmt.Sprintf("CAUTION: %v", p.Details["note"])
	case events.EventSquareOff:
		return fmt.Sprintf("Square-off executed on %s, PnL %.2f", p.Symbol, toFloat(p.Details["pnl"]))
	case events.EventEngineStopped:
		return "Engine stopped."
	}
	return ""
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func (t *Telegram) send(ctx context.Context, text string) {
	body, _ := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("notify: telegram send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify: telegram send status %d", resp.StatusCode)
	}
}
