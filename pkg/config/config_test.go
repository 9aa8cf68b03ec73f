package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTradingMissingFileUsesDefaults(t *testing.T) {
	tr, err := LoadTrading(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadTrading returned error: %v", err)
	}
	def := DefaultTrading()
	if tr != def {
		t.Fatalf("expected defaults, got %+v", tr)
	}
}

func TestLoadTradingOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading.yaml")
	body := `
risk_per_trade: 0.02
max_daily_trades: 5
entry_cutoff: "14:00"
approval_timeout_sec: 30
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tr, err := LoadTrading(path)
	if err != nil {
		t.Fatalf("LoadTrading returned error: %v", err)
	}
	if tr.RiskPerTrade != 0.02 {
		t.Fatalf("RiskPerTrade=%v, expected 0.02", tr.RiskPerTrade)
	}
	if tr.MaxDailyTrades != 5 {
		t.Fatalf("MaxDailyTrades=%v, expected 5", tr.MaxDailyTrades)
	}
	if tr.EntryCutoff != "14:00" {
		t.Fatalf("EntryCutoff=%q, expected 14:00", tr.EntryCutoff)
	}
	if tr.ApprovalTimeoutSec != 30 {
		t.Fatalf("ApprovalTimeoutSec=%v, expected 30", tr.ApprovalTimeoutSec)
	}
	// Fields the file omits keep defaults.
	if tr.SquareOff != "15:15" {
		t.Fatalf("SquareOff=%q, expected default 15:15", tr.SquareOff)
	}
}

func TestLoadTradingRejectsBadRisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading.yaml")
	if err := os.WriteFile(path, []byte("risk_per_trade: 2.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTrading(path); err == nil {
		t.Fatal("expected error for risk_per_trade > 1")
	}
}
