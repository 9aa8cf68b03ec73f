package events

import "time"

// Event enumerates the engine's transaction topics. One event is published
// per completed transaction so the trade timeline can be reconstructed from
// the stream alone.
type Event string

const (
	EventSignalCreated    Event = "signal.created"
	EventSignalApproved   Event = "signal.approved"
	EventSignalRejected   Event = "signal.rejected"
	EventSignalExpired    Event = "signal.expired"
	EventSignalSuperseded Event = "signal.superseded"
	EventTradeExecuted    Event = "trade.executed"
	EventTradeClosed      Event = "trade.closed"
	EventModeSwitched     Event = "mode.switched"
	EventSquareOff        Event = "square_off"
	EventRiskAudit        Event = "risk.audit"
	EventEngineStopped    Event = "engine.stopped"
)

// Payload is the common envelope carried on every engine event.
type Payload struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Mode      string         `json:"mode"`
	SignalID  string         `json:"signal_id,omitempty"`
	TradeID   string         `json:"trade_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
