package portfolio

import (
	"testing"
	"time"
)

var base = time.Date(2026, 9, 1, 10, 0, 0, 0, time.Local)

func open(t *testing.T, pf *Portfolio, side Side, qty int, entry float64) {
	t.Helper()
	err := pf.OpenPosition(Position{
		Symbol: "NSE:NIFTY50-INDEX", Side: side, Qty: qty,
		EntryPrice: entry, OpenedAt: base,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	pf := New(base)
	open(t, pf, SideBuy, 500, 100)

	if err := pf.OpenPosition(Position{Qty: 1}); err != ErrPositionOpen {
		t.Fatalf("second open: err=%v, expected ErrPositionOpen", err)
	}

	trade, err := pf.ClosePosition("t1", 102, ExitTarget, "PAPER", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if trade.PnL != 1000 {
		t.Fatalf("PnL=%v, expected 1000", trade.PnL)
	}
	if pf.HasOpenPosition() {
		t.Fatal("position should be flat after close")
	}
	if _, err := pf.ClosePosition("t2", 1, ExitManual, "PAPER", base); err != ErrNoOpenPosition {
		t.Fatalf("close while flat: err=%v, expected ErrNoOpenPosition", err)
	}
}

func TestShortPnLSign(t *testing.T) {
	pf := New(base)
	open(t, pf, SideSell, 10, 100)

	trade, err := pf.ClosePosition("t1", 95, ExitTarget, "PAPER", base)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if trade.PnL != 50 {
		t.Fatalf("short PnL=%v, expected 50", trade.PnL)
	}
}

func TestCountersTrackTradesAndLosses(t *testing.T) {
	pf := New(base)

	open(t, pf, SideBuy, 10, 100)
	pf.ClosePosition("t1", 95, ExitStop, "PAPER", base) // loss

	open(t, pf, SideBuy, 10, 100)
	pf.ClosePosition("t2", 110, ExitTarget, "PAPER", base) // win

	c := pf.Counters()
	if c.Trades != 2 {
		t.Fatalf("Trades=%d, expected 2", c.Trades)
	}
	if c.Losses != 1 {
		t.Fatalf("Losses=%d, expected 1", c.Losses)
	}

	// Rolling to the next day resets counters but not the ledger.
	pf.RollDay(base.Add(24 * time.Hour))
	if c := pf.Counters(); c.Trades != 0 || c.Losses != 0 {
		t.Fatalf("counters after roll: %+v", c)
	}
	if len(pf.Trades()) != 2 {
		t.Fatal("ledger should survive the day roll")
	}
}

func TestStatsDrawdownAndWinRate(t *testing.T) {
	pf := New(base)

	// PnL series: +100, -40, -80, +30
	// cumulative: 100, 60, -20, 10; peak 100; max drawdown 120.
	series := []struct {
		side Side
		in   float64
		out  float64
	}{
		{SideBuy, 100, 110},  // +100 with qty 10
		{SideBuy, 100, 96},   // -40
		{SideBuy, 100, 92},   // -80
		{SideBuy, 100, 103},  // +30
	}
	for i, s := range series {
		open(t, pf, s.side, 10, s.in)
		if _, err := pf.ClosePosition("t", s.out, ExitManual, "PAPER", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	st := pf.Stats()
	if st.RealizedPnL != 10 {
		t.Fatalf("RealizedPnL=%v, expected 10", st.RealizedPnL)
	}
	if st.MaxDrawdown != 120 {
		t.Fatalf("MaxDrawdown=%v, expected 120", st.MaxDrawdown)
	}
	if st.ClosedTrades != 4 || st.Wins != 2 {
		t.Fatalf("ClosedTrades=%d Wins=%d", st.ClosedTrades, st.Wins)
	}
	if st.WinRate != 0.5 {
		t.Fatalf("WinRate=%v, expected 0.5", st.WinRate)
	}
}

func TestStatsEmptyLedger(t *testing.T) {
	pf := New(base)
	st := pf.Stats()
	if st.WinRate != 0 || st.MaxDrawdown != 0 || st.ClosedTrades != 0 {
		t.Fatalf("empty stats: %+v", st)
	}
}

func TestRestoreTradeSkipsCounters(t *testing.T) {
	pf := New(base)
	pf.RestoreTrade(Trade{ID: "old", PnL: -30})
	if pf.Counters().Trades != 0 || pf.Counters().Losses != 0 {
		t.Fatal("restore must not touch daily counters")
	}
	if pf.Stats().RealizedPnL != -30 {
		t.Fatalf("RealizedPnL=%v, expected -30", pf.Stats().RealizedPnL)
	}
}
