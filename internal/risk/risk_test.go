package risk

import (
	"testing"
	"time"

	"tradedesk/internal/portfolio"
	"tradedesk/internal/session"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	clock, err := session.New("09:15", "15:30", "14:45", "15:15")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return NewGate(Config{
		Capital:        100000,
		RiskPerTrade:   0.01,
		MaxDailyTrades: 3,
		MaxDailyLosses: 2,
	}, clock)
}

func at(hh, mm int) time.Time {
	return time.Date(2026, 9, 1, hh, mm, 0, 0, time.Local)
}

func TestEvaluate(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name     string
		counters portfolio.Counters
		entry    float64
		stop     float64
		now      time.Time
		allowed  bool
		qty      int
		reason   Reason
	}{
		{
			name: "sized entry",
			entry: 100, stop: 98, now: at(10, 0),
			allowed: true, qty: 500,
		},
		{
			name:     "fourth trade denied",
			counters: portfolio.Counters{Trades: 3},
			entry:    100, stop: 98, now: at(10, 0),
			reason: ReasonDailyTradeLimit,
		},
		{
			name:     "after two losses denied",
			counters: portfolio.Counters{Trades: 2, Losses: 2},
			entry:    100, stop: 98, now: at(10, 0),
			reason: ReasonDailyLossLimit,
		},
		{
			name:  "after entry cutoff",
			entry: 100, stop: 98, now: at(14, 45),
			reason: ReasonAfterEntryCutoff,
		},
		{
			name:  "session closed",
			entry: 100, stop: 98, now: at(8, 0),
			reason: ReasonSessionClosed,
		},
		{
			name:  "zero risk distance",
			entry: 100, stop: 100, now: at(10, 0),
			reason: ReasonZeroRisk,
		},
		{
			name:  "stop too far for one unit",
			entry: 100, stop: 98500, now: at(10, 0),
			reason: ReasonZeroRisk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := g.Evaluate(tt.counters, tt.entry, tt.stop, tt.now)
			if dec.Allowed != tt.allowed {
				t.Fatalf("Allowed=%v, expected %v (reason=%s)", dec.Allowed, tt.allowed, dec.Reason)
			}
			if dec.Qty != tt.qty {
				t.Fatalf("Qty=%d, expected %d", dec.Qty, tt.qty)
			}
			if dec.Reason != tt.reason {
				t.Fatalf("Reason=%q, expected %q", dec.Reason, tt.reason)
			}
		})
	}
}

func TestSizeFloors(t *testing.T) {
	g := newGate(t)
	// 1000 risk budget / 3 per unit = 333.33 -> 333
	if qty := g.Size(100, 97); qty != 333 {
		t.Fatalf("Size=%d, expected 333", qty)
	}
	if qty := g.Size(98, 100); qty != 500 {
		t.Fatalf("inverted stop Size=%d, expected 500", qty)
	}
}
