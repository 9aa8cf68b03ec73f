// Package strategy defines the signal source consumed by the engine tick and
// ships the Supertrend implementation the controller runs by default.
package strategy

import "tradedesk/pkg/broker"

// Action is a directional trading signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// Signal is one evaluation outcome with proposed levels around the entry.
type Signal struct {
	Action   Action  `json:"action"`
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"stop_loss"`
	Target   float64 `json:"target"`
}

// Source produces a directional signal from a candle window. Implementations
// must be side-effect free; the engine calls them on every tick.
type Source interface {
	Name() string
	GenerateSignal(candles []broker.Candle) Action
}

// Levels places stop and target around ltp for the given direction.
type Levels struct {
	StopOffset   float64
	TargetOffset float64
}

// Build completes a Signal for action at the last traded price.
func (l Levels) Build(action Action, ltp float64) Signal {
	s := Signal{Action: action, Entry: ltp}
	switch action {
	case ActionBuy:
		s.StopLoss = ltp - l.StopOffset
		s.Target = ltp + l.TargetOffset
	case ActionSell:
		s.StopLoss = ltp + l.StopOffset
		s.Target = ltp - l.TargetOffset
	}
	return s
}
