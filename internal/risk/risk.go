// Package risk implements the per-trade entry gate: daily limits, session
// timing and position sizing. Evaluate is a pure decision function over its
// inputs; nothing here mutates trading state.
package risk

import (
	"math"
	"time"

	"tradedesk/internal/portfolio"
	"tradedesk/internal/session"
)

// Reason is a policy denial code returned to the caller unchanged.
type Reason string

const (
	ReasonDailyTradeLimit  Reason = "DAILY_TRADE_LIMIT"
	ReasonDailyLossLimit   Reason = "DAILY_LOSS_LIMIT"
	ReasonAfterEntryCutoff Reason = "AFTER_ENTRY_CUTOFF"
	ReasonSessionClosed    Reason = "SESSION_CLOSED"
	ReasonZeroRisk         Reason = "ZERO_RISK"
)

// Config holds the gate's limits and sizing parameters.
type Config struct {
	Capital        float64
	RiskPerTrade   float64 // fraction of capital risked per trade
	MaxDailyTrades int
	MaxDailyLosses int
}

// Decision is the outcome of evaluating a proposed entry.
type Decision struct {
	Allowed bool
	Qty     int
	Reason  Reason
}

// Gate evaluates proposed entries against daily limits and the session clock.
type Gate struct {
	cfg   Config
	clock session.Clock
}

// NewGate creates a risk gate.
func NewGate(cfg Config, clock session.Clock) *Gate {
	return &Gate{cfg: cfg, clock: clock}
}

// Evaluate decides whether a new entry at entryPrice with stopPrice is
// permitted right now, and sizes it. Checks run cheapest-first; the first
// failing rule's reason is returned.
func (g *Gate) Evaluate(counters portfolio.Counters, entryPrice, stopPrice float64, now time.Time) Decision {
	if counters.Trades >= g.cfg.MaxDailyTrades {
		return Decision{Reason: ReasonDailyTradeLimit}
	}
	if counters.Losses >= g.cfg.MaxDailyLosses {
		return Decision{Reason: ReasonDailyLossLimit}
	}
	if !g.clock.IsOpen(now) {
		return Decision{Reason: ReasonSessionClosed}
	}
	if !g.clock.EntryAllowed(now) {
		return Decision{Reason: ReasonAfterEntryCutoff}
	}

	qty := g.Size(entryPrice, stopPrice)
	if qty < 1 {
		return Decision{Reason: ReasonZeroRisk}
	}
	return Decision{Allowed: true, Qty: qty}
}

// Size computes floor(capital * riskPerTrade / |entry - stop|). Zero when the
// per-unit risk is not positive.
func (g *Gate) Size(entryPrice, stopPrice float64) int {
	perUnit := math.Abs(entryPrice - stopPrice)
	if perUnit <= 0 {
		return 0
	}
	return int(math.Floor(g.cfg.Capital * g.cfg.RiskPerTrade / perUnit))
}
