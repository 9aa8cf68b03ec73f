// Package portfolio owns the open position, the append-only trade ledger and
// the daily counters. It is a plain data holder: the engine serializes every
// mutation under its transaction lock, so no locking happens here.
package portfolio

import (
	"errors"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStop      ExitReason = "STOP"
	ExitTarget    ExitReason = "TARGET"
	ExitSquareOff ExitReason = "SQUARE_OFF"
	ExitManual    ExitReason = "MANUAL"
)

var (
	ErrPositionOpen   = errors.New("position already open")
	ErrNoOpenPosition = errors.New("no open position")
)

// Position is the single open position. The zero value means flat.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int       `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Open reports whether the position is held.
func (p Position) Open() bool { return p.Qty > 0 }

// Trade is one completed round trip. Immutable once appended.
type Trade struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Qty        int        `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitTime   time.Time  `json:"exit_time"`
	PnL        float64    `json:"pnl"`
	Mode       string     `json:"mode"`
	ExitReason ExitReason `json:"exit_reason"`
}

// Counters tracks per-day trade and loss counts consumed by the risk gate.
type Counters struct {
	Date   time.Time `json:"date"`
	Trades int       `json:"trades"`
	Losses int       `json:"losses"`
}

// Stats is an aggregate PnL snapshot derived from the ledger.
type Stats struct {
	RealizedPnL  float64 `json:"realized_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
}

// Portfolio holds position, ledger and counters for one instrument.
type Portfolio struct {
	position Position
	trades   []Trade
	counters Counters

	realized float64
	peak     float64
	maxDD    float64
	wins     int
}

// New creates an empty portfolio with counters anchored at now.
func New(now time.Time) *Portfolio {
	return &Portfolio{counters: Counters{Date: now}}
}

// Position returns the current position (zero value when flat).
func (pf *Portfolio) Position() Position { return pf.position }

// HasOpenPosition reports whether a position is held.
func (pf *Portfolio) HasOpenPosition() bool { return pf.position.Open() }

// Counters returns the current daily counters.
func (pf *Portfolio) Counters() Counters { return pf.counters }

// RollDay resets the daily counters when now is a new calendar date.
func (pf *Portfolio) RollDay(now time.Time) {
	y1, m1, d1 := pf.counters.Date.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		pf.counters = Counters{Date: now}
	}
}

// OpenPosition records a new entry and counts the trade for the day.
func (pf *Portfolio) OpenPosition(p Position) error {
	if pf.position.Open() {
		return ErrPositionOpen
	}
	pf.position = p
	pf.counters.Trades++
	return nil
}

// ClosePosition realizes PnL at exitPrice, appends the round trip to the
// ledger, updates drawdown against the running peak and clears the position.
func (pf *Portfolio) ClosePosition(id string, exitPrice float64, reason ExitReason, mode string, now time.Time) (Trade, error) {
	if !pf.position.Open() {
		return Trade{}, ErrNoOpenPosition
	}

	p := pf.position
	sign := 1.0
	if p.Side == SideSell {
		sign = -1.0
	}
	pnl := (exitPrice - p.EntryPrice) * float64(p.Qty) * sign

	trade := Trade{
		ID:         id,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Qty:        p.Qty,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.OpenedAt,
		ExitPrice:  exitPrice,
		ExitTime:   now,
		PnL:        pnl,
		Mode:       mode,
		ExitReason: reason,
	}
	pf.appendTrade(trade)

	if pnl < 0 {
		pf.counters.Losses++
	}
	pf.position = Position{}
	return trade, nil
}

// RestoreTrade replays a previously persisted trade into the ledger without
// touching the position or the daily counters.
func (pf *Portfolio) RestoreTrade(t Trade) {
	pf.appendTrade(t)
}

// RestoreCounters installs persisted daily counters; a later RollDay discards
// them if they belong to an earlier date.
func (pf *Portfolio) RestoreCounters(c Counters) {
	pf.counters = c
}

func (pf *Portfolio) appendTrade(t Trade) {
	pf.trades = append(pf.trades, t)
	pf.realized += t.PnL
	if pf.realized > pf.peak {
		pf.peak = pf.realized
	}
	if dd := pf.peak - pf.realized; dd > pf.maxDD {
		pf.maxDD = dd
	}
	if t.PnL > 0 {
		pf.wins++
	}
}

// Trades returns the ledger in insertion order.
func (pf *Portfolio) Trades() []Trade {
	out := make([]Trade, len(pf.trades))
	copy(out, pf.trades)
	return out
}

// Stats aggregates the ledger.
func (pf *Portfolio) Stats() Stats {
	s := Stats{
		RealizedPnL:  pf.realized,
		MaxDrawdown:  pf.maxDD,
		ClosedTrades: len(pf.trades),
		Wins:         pf.wins,
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(pf.wins) / float64(s.ClosedTrades)
	}
	return s
}
