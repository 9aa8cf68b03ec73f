// Package store persists the completed-trade ledger and a small engine
// snapshot (mode, daily counters) to SQLite. The engine core stays purely
// in-memory; the store attaches to the event bus and replays the ledger back
// into the portfolio on startup.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"tradedesk/internal/engine"
	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/portfolio"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty INTEGER NOT NULL,
    entry_price REAL NOT NULL,
    entry_time DATETIME NOT NULL,
    exit_price REAL NOT NULL,
    exit_time DATETIME NOT NULL,
    pnl REAL NOT NULL,
    mode TEXT NOT NULL,
    exit_reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    mode TEXT NOT NULL,
    counters_date DATETIME NOT NULL,
    trades_taken INTEGER NOT NULL,
    losses_taken INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Store wraps the SQL handle for easier swapping/testing.
type Store struct {
	DB *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SaveTrade appends one completed round trip. Replaying the same trade id is
// a no-op.
func (s *Store) SaveTrade(ctx context.Context, t portfolio.Trade) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, qty, entry_price, entry_time,
			exit_price, exit_time, pnl, mode, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.Symbol, string(t.Side), t.Qty, t.EntryPrice, t.EntryTime,
		t.ExitPrice, t.ExitTime, t.PnL, t.Mode, string(t.ExitReason))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// LoadTrades returns the persisted ledger ordered by exit time.
func (s *Store) LoadTrades(ctx context.Context) ([]portfolio.Trade, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, symbol, side, qty, entry_price, entry_time,
			exit_price, exit_time, pnl, mode, exit_reason
		FROM trades
		ORDER BY exit_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Trade
	for rows.Next() {
		var t portfolio.Trade
		var side, reason string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Qty, &t.EntryPrice, &t.EntryTime,
			&t.ExitPrice, &t.ExitTime, &t.PnL, &t.Mode, &reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = portfolio.Side(side)
		t.ExitReason = portfolio.ExitReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSnapshot upserts the single-row engine snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO engine_state (id, mode, counters_date, trades_taken, losses_taken, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			counters_date = excluded.counters_date,
			trades_taken = excluded.trades_taken,
			losses_taken = excluded.losses_taken,
			updated_at = CURRENT_TIMESTAMP
	`, string(snap.Mode), snap.Counters.Date, snap.Counters.Trades, snap.Counters.Losses)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted engine snapshot; ok is false when no
// snapshot has been saved yet.
func (s *Store) LoadSnapshot(ctx context.Context) (engine.Snapshot, bool, error) {
	var snap engine.Snapshot
	var mode string
	err := s.DB.QueryRowContext(ctx, `
		SELECT mode, counters_date, trades_taken, losses_taken
		FROM engine_state WHERE id = 1
	`).Scan(&mode, &snap.Counters.Date, &snap.Counters.Trades, &snap.Counters.Losses)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Mode = execution.Mode(mode)
	return snap, true, nil
}

// Restore replays persisted state into a fresh portfolio: the full ledger
// plus same-day counters. Returns the persisted mode (or fallback when no
// snapshot exists).
func (s *Store) Restore(ctx context.Context, pf *portfolio.Portfolio, now time.Time, fallback execution.Mode) (execution.Mode, error) {
	trades, err := s.LoadTrades(ctx)
	if err != nil {
		return fallback, err
	}
	for _, t := range trades {
		pf.RestoreTrade(t)
	}

	snap, ok, err := s.LoadSnapshot(ctx)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}

	y1, m1, d1 := snap.Counters.Date.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		pf.RestoreCounters(snap.Counters)
	}
	if len(trades) > 0 {
		log.Printf("store: restored %d trades, mode=%s", len(trades), snap.Mode)
	}
	return snap.Mode, nil
}

// Watch persists state as the engine publishes events: each closed trade is
// appended and the snapshot refreshed; mode switches and stops refresh the
// snapshot. Runs until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, bus *events.Bus, eng *engine.Engine) {
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
			switch p.Event {
			case events.EventTradeClosed:
				for _, t := range eng.Trades() {
					if t.ID == p.TradeID {
						if err := s.SaveTrade(ctx, t); err != nil {
							log.Printf("store: save trade %s: %v", t.ID, err)
						}
						break
					}
				}
				s.saveSnapshot(ctx, eng)
			case events.EventModeSwitched, events.EventEngineStopped, events.EventTradeExecuted:
				s.saveSnapshot(ctx, eng)
			}
		}
	}
}

func (s *Store) saveSnapshot(ctx context.Context, eng *engine.Engine) {
	if err := s.SaveSnapshot(ctx, eng.Snapshot()); err != nil {
		log.Printf("store: save snapshot: %v", err)
	}
}
