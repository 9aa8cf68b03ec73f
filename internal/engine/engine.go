// Package engine is the trading controller core: the PAPER/LIVE mode state
// machine, the pending-signal approval workflow, and the tick loop that drives
// evaluation, exit monitoring and the forced square-off.
//
// Every logical transaction (create pending, approve and execute, reject,
// expire, switch mode, square-off, stop) runs inside one mutex so no
// transaction observes another halfway through. The LIVE execution path holds
// that mutex for the full broker call so a timeout sweep or a second approval
// cannot race the same pending signal; the retry policy bounds how long that
// can take.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/portfolio"
	"tradedesk/internal/risk"
	"tradedesk/internal/session"
	"tradedesk/internal/strategy"
	"tradedesk/pkg/broker"
)

// SignalState is the lifecycle state of a pending signal.
type SignalState string

const (
	StatePending    SignalState = "PENDING"
	StateApproved   SignalState = "APPROVED"
	StateRejected   SignalState = "REJECTED"
	StateExpired    SignalState = "EXPIRED"
	StateSuperseded SignalState = "SUPERSEDED"
)

var (
	// ErrPendingExists rejects a second pending signal while one is awaiting
	// a decision.
	ErrPendingExists = errors.New("engine: pending signal exists")
	// ErrNotPending rejects a decision on a signal that is missing or already
	// decided; the loser of a decision race sees this.
	ErrNotPending = errors.New("engine: signal not pending")
	// ErrBlockedByOpenPosition rejects a mode switch while a position is held.
	ErrBlockedByOpenPosition = errors.New("engine: blocked by open position")
	// ErrConfirmationRequired rejects PAPER to LIVE without explicit confirmation.
	ErrConfirmationRequired = errors.New("engine: live confirmation required")
	// ErrAuthInvalid rejects PAPER to LIVE while the broker session is invalid.
	ErrAuthInvalid = errors.New("engine: broker auth invalid")
	// ErrStopped rejects operations after the engine has been stopped.
	ErrStopped = errors.New("engine: stopped")
)

// PendingSignal is one signal awaiting (or past) a human decision.
type PendingSignal struct {
	ID        string          `json:"id"`
	Action    strategy.Action `json:"action"`
	Entry     float64         `json:"entry"`
	StopLoss  float64         `json:"stop_loss"`
	Target    float64         `json:"target"`
	Qty       int             `json:"qty"`
	CreatedAt time.Time       `json:"created_at"`
	State     SignalState     `json:"state"`
}

// Status is a consistent snapshot of the engine for reporting.
type Status struct {
	Running       bool                   `json:"running"`
	Mode          execution.Mode         `json:"mode"`
	Symbol        string                 `json:"symbol"`
	Position      portfolio.Position     `json:"position"`
	Pending       *PendingSignal         `json:"pending_signal,omitempty"`
	PendingAgeSec float64                `json:"pending_age_sec,omitempty"`
	ApprovalLeft  float64                `json:"approval_seconds_left,omitempty"`
	Counters      portfolio.Counters     `json:"counters"`
	Breaker       execution.BreakerState `json:"breaker"`
	AuthValid     bool                   `json:"auth_valid"`
	LastTick      time.Time              `json:"last_tick,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
}

// Snapshot is the serializable engine state handed to the persistence layer.
type Snapshot struct {
	Mode     execution.Mode     `json:"mode"`
	Counters portfolio.Counters `json:"counters"`
}

// Config tunes the engine loops and the evaluation inputs.
type Config struct {
	Symbol          string
	Resolution      string
	HistoryBars     int
	TickInterval    time.Duration
	ErrTickInterval time.Duration // slower cadence after a failed tick
	SweepInterval   time.Duration
	ApprovalTimeout time.Duration
}

// Engine owns the shared trading state and serializes every mutation.
type Engine struct {
	mu      sync.Mutex
	mode    execution.Mode
	pf      *portfolio.Portfolio
	pending *PendingSignal
	stopped bool

	lastTick time.Time
	lastErr  error

	cfg    Config
	broker broker.Broker
	source strategy.Source
	levels strategy.Levels
	gate   *risk.Gate
	clock  session.Clock
	router *execution.Router
	bus    *events.Bus

	now func() time.Time
}

// New wires an engine. The portfolio may carry restored state.
func New(cfg Config, mode execution.Mode, pf *portfolio.Portfolio, b broker.Broker,
	source strategy.Source, levels strategy.Levels, gate *risk.Gate,
	clock session.Clock, router *execution.Router, bus *events.Bus) *Engine {

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 3 * time.Second
	}
	if cfg.ErrTickInterval <= 0 {
		cfg.ErrTickInterval = 15 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 60 * time.Second
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 50
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "5"
	}

	return &Engine{
		mode:   mode,
		pf:     pf,
		cfg:    cfg,
		broker: b,
		source: source,
		levels: levels,
		gate:   gate,
		clock:  clock,
		router: router,
		bus:    bus,
		now:    time.Now,
	}
}

// Start launches the evaluation tick and the approval-timeout sweep. Both
// loops exit when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.tickLoop(ctx)
	go e.sweepLoop(ctx)
}

func (e *Engine) tickLoop(ctx context.Context) {
	interval := e.cfg.TickInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := e.EvaluateTick(ctx); err != nil && !errors.Is(err, ErrStopped) {
			log.Printf("engine: tick failed: %v", err)
			interval = e.cfg.ErrTickInterval
		} else {
			interval = e.cfg.TickInterval
		}
		timer.Reset(interval)
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepExpired()
		}
	}
}

// EvaluateTick runs one evaluation cycle: day rollover, exit monitoring and
// forced square-off on an open position, then signal generation when flat.
// Safe to call concurrently with the background loop.
func (e *Engine) EvaluateTick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}

	now := e.now()
	e.lastTick = now
	e.pf.RollDay(now)

	if e.pf.HasOpenPosition() {
		err := e.monitorPositionLocked(ctx, now)
		e.lastErr = err
		return err
	}

	if !e.clock.EntryAllowed(now) || e.pending != nil {
		e.lastErr = nil
		return nil
	}

	err := e.evaluateEntryLocked(ctx, now)
	e.lastErr = err
	return err
}

// monitorPositionLocked checks the open position against square-off time and
// the stop/target levels, exiting when one is hit. Caller holds e.mu.
func (e *Engine) monitorPositionLocked(ctx context.Context, now time.Time) error {
	pos := e.pf.Position()

	if e.clock.SquareOffDue(now) {
		return e.exitLocked(ctx, portfolio.ExitSquareOff, now)
	}

	ltp, err := e.broker.LastPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("monitor %s: %w", pos.Symbol, err)
	}

	var reason portfolio.ExitReason
	switch pos.Side {
	case portfolio.SideBuy:
		if ltp <= pos.StopLoss {
			reason = portfolio.ExitStop
		} else if ltp >= pos.Target {
			reason = portfolio.ExitTarget
		}
	case portfolio.SideSell:
		if ltp >= pos.StopLoss {
			reason = portfolio.ExitStop
		} else if ltp <= pos.Target {
			reason = portfolio.ExitTarget
		}
	}
	if reason == "" {
		return nil
	}
	return e.exitLocked(ctx, reason, now)
}

// exitLocked closes the open position through the router. Caller holds e.mu.
func (e *Engine) exitLocked(ctx context.Context, reason portfolio.ExitReason, now time.Time) error {
	pos := e.pf.Position()
	tradeID := uuid.NewString()

	trade, err := e.router.Exit(ctx, e.pf, tradeID, reason, e.mode, uuid.NewString(), now)
	if err != nil {
		return fmt.Errorf("exit %s (%s): %w", pos.Symbol, reason, err)
	}

	log.Printf("engine: closed %s %s qty=%d pnl=%.2f reason=%s",
		trade.Side, trade.Symbol, trade.Qty, trade.PnL, reason)

	if reason == portfolio.ExitSquareOff {
		e.publish(events.EventSquareOff, events.Payload{
			TradeID: trade.ID, Symbol: trade.Symbol,
			Details: map[string]any{"pnl": trade.PnL},
		})
	}
	e.publish(events.EventTradeClosed, events.Payload{
		TradeID: trade.ID, Symbol: trade.Symbol,
		Details: map[string]any{
			"pnl": trade.PnL, "exit_reason": string(reason), "exit_price": trade.ExitPrice,
		},
	})
	return nil
}

// evaluateEntryLocked generates a signal and, if the risk gate allows it,
// creates the pending entry awaiting approval. Caller holds e.mu, flat and
// with no pending signal.
func (e *Engine) evaluateEntryLocked(ctx context.Context, now time.Time) error {
	candles, err := e.broker.History(ctx, e.cfg.Symbol, e.cfg.Resolution, e.cfg.HistoryBars)
	if err != nil {
		return fmt.Errorf("history %s: %w", e.cfg.Symbol, err)
	}

	action := e.source.GenerateSignal(candles)
	if action == strategy.ActionNone {
		return nil
	}

	ltp, err := e.broker.LastPrice(ctx, e.cfg.Symbol)
	if err != nil || ltp <= 0 {
		return fmt.Errorf("quote %s: %w", e.cfg.Symbol, err)
	}

	sig := e.levels.Build(action, ltp)
	decision := e.gate.Evaluate(e.pf.Counters(), sig.Entry, sig.StopLoss, now)
	if !decision.Allowed {
		log.Printf("engine: %s signal denied: %s", action, decision.Reason)
		return nil
	}

	e.pending = &PendingSignal{
		ID:        uuid.NewString(),
		Action:    action,
		Entry:     sig.Entry,
		StopLoss:  sig.StopLoss,
		Target:    sig.Target,
		Qty:       decision.Qty,
		CreatedAt: now,
		State:     StatePending,
	}
	log.Printf("engine: pending %s %s qty=%d entry=%.2f sl=%.2f tgt=%.2f id=%s",
		action, e.cfg.Symbol, decision.Qty, sig.Entry, sig.StopLoss, sig.Target, e.pending.ID)

	e.publish(events.EventSignalCreated, events.Payload{
		SignalID: e.pending.ID, Symbol: e.cfg.Symbol,
		Details: map[string]any{
			"action": string(action), "entry": sig.Entry,
			"stop_loss": sig.StopLoss, "target": sig.Target, "qty": decision.Qty,
		},
	})
	return nil
}

// Approve transitions the pending signal to APPROVED and executes it inside
// the same critical section. Exactly one of two racing approvals succeeds;
// the other gets ErrNotPending.
func (e *Engine) Approve(ctx context.Context, id string) (portfolio.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return portfolio.Position{}, ErrStopped
	}
	if e.pending == nil || e.pending.ID != id || e.pending.State != StatePending {
		return portfolio.Position{}, ErrNotPending
	}

	p := e.pending
	p.State = StateApproved
	e.pending = nil

	e.publish(events.EventSignalApproved, events.Payload{SignalID: p.ID, Symbol: e.cfg.Symbol})

	now := e.now()
	side := portfolio.SideBuy
	if p.Action == strategy.ActionSell {
		side = portfolio.SideSell
	}
	pos, err := e.router.Enter(ctx, e.pf, execution.Order{
		Symbol:        e.cfg.Symbol,
		Side:          side,
		Qty:           p.Qty,
		StopLoss:      p.StopLoss,
		Target:        p.Target,
		CorrelationID: p.ID,
	}, e.mode, now)
	if err != nil {
		log.Printf("engine: execution failed for signal %s: %v", p.ID, err)
		return portfolio.Position{}, err
	}

	log.Printf("engine: executed %s %s qty=%d entry=%.2f mode=%s",
		side, pos.Symbol, pos.Qty, pos.EntryPrice, e.mode)
	e.publish(events.EventTradeExecuted, events.Payload{
		SignalID: p.ID, Symbol: pos.Symbol,
		Details: map[string]any{
			"side": string(side), "qty": pos.Qty, "entry_price": pos.EntryPrice,
		},
	})
	return pos, nil
}

// Reject transitions the pending signal to REJECTED.
func (e *Engine) Reject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.pending == nil || e.pending.ID != id || e.pending.State != StatePending {
		return ErrNotPending
	}

	e.pending.State = StateRejected
	e.publish(events.EventSignalRejected, events.Payload{SignalID: e.pending.ID, Symbol: e.cfg.Symbol})
	e.pending = nil
	return nil
}

// SweepExpired expires the pending signal once its age exceeds the approval
// timeout. Runs on its own cadence, independent of the tick.
func (e *Engine) SweepExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.pending.State != StatePending {
		return
	}
	if e.now().Sub(e.pending.CreatedAt) < e.cfg.ApprovalTimeout {
		return
	}

	e.pending.State = StateExpired
	log.Printf("engine: signal %s expired without a decision", e.pending.ID)
	e.publish(events.EventSignalExpired, events.Payload{SignalID: e.pending.ID, Symbol: e.cfg.Symbol})
	e.pending = nil
}

// SwitchMode changes the global execution mode. Fails while a position is
// open in either direction; PAPER to LIVE additionally requires explicit
// confirmation and a valid broker session. Any pending signal is superseded
// by a successful switch.
func (e *Engine) SwitchMode(ctx context.Context, target execution.Mode, confirmLive bool) error {
	if target != execution.ModePaper && target != execution.ModeLive {
		return fmt.Errorf("engine: unknown mode %q", target)
	}

	// Auth is a collaborator call with its own caching; resolve it before
	// taking the transaction lock.
	authValid := true
	if target == execution.ModeLive {
		authValid = e.broker.IsAuthenticated(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.mode == target {
		return nil
	}
	if e.pf.HasOpenPosition() {
		return ErrBlockedByOpenPosition
	}
	if target == execution.ModeLive {
		if !confirmLive {
			return ErrConfirmationRequired
		}
		if !authValid {
			return ErrAuthInvalid
		}
	}

	from := e.mode
	e.mode = target
	e.supersedePendingLocked("mode switch")

	log.Printf("engine: mode switched %s -> %s", from, target)
	e.publish(events.EventModeSwitched, events.Payload{
		Details: map[string]any{"from": string(from), "to": string(target)},
	})
	if target == execution.ModeLive {
		e.publish(events.EventRiskAudit, events.Payload{
			Details: map[string]any{"note": "live trading enabled", "from": string(from)},
		})
	}
	return nil
}

// Stop halts the engine: supersedes any pending signal, squares off an open
// position best-effort, and blocks further ticks and decisions. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}

	e.supersedePendingLocked("engine stop")
	if e.pf.HasOpenPosition() {
		if err := e.exitLocked(ctx, portfolio.ExitManual, e.now()); err != nil {
			log.Printf("engine: square-off on stop failed, position left open: %v", err)
		}
	}

	e.stopped = true
	log.Printf("engine: stopped")
	e.publish(events.EventEngineStopped, events.Payload{})
	return nil
}

// supersedePendingLocked invalidates a pending signal made stale by a state
// change. Caller holds e.mu.
func (e *Engine) supersedePendingLocked(cause string) {
	if e.pending == nil || e.pending.State != StatePending {
		return
	}
	e.pending.State = StateSuperseded
	log.Printf("engine: signal %s superseded by %s", e.pending.ID, cause)
	e.publish(events.EventSignalSuperseded, events.Payload{
		SignalID: e.pending.ID, Symbol: e.cfg.Symbol,
		Details: map[string]any{"cause": cause},
	})
	e.pending = nil
}

// Mode returns the current execution mode.
func (e *Engine) Mode() execution.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Pending returns a copy of the pending signal, or nil when none is waiting.
func (e *Engine) Pending() *PendingSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	cp := *e.pending
	return &cp
}

// Status assembles a consistent snapshot. The auth flag is resolved outside
// the lock; it is advisory, not part of the transaction state.
func (e *Engine) Status(ctx context.Context) Status {
	authValid := e.broker.IsAuthenticated(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Running:   !e.stopped,
		Mode:      e.mode,
		Symbol:    e.cfg.Symbol,
		Position:  e.pf.Position(),
		Counters:  e.pf.Counters(),
		Breaker:   e.router.Breaker().State(),
		AuthValid: authValid,
		LastTick:  e.lastTick,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	if e.pending != nil {
		cp := *e.pending
		s.Pending = &cp
		age := e.now().Sub(cp.CreatedAt)
		s.PendingAgeSec = age.Seconds()
		if left := e.cfg.ApprovalTimeout - age; left > 0 {
			s.ApprovalLeft = left.Seconds()
		}
	}
	return s
}

// PnL returns the aggregate ledger statistics.
func (e *Engine) PnL() portfolio.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pf.Stats()
}

// Trades returns the ledger in execution order.
func (e *Engine) Trades() []portfolio.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pf.Trades()
}

// Snapshot returns the serializable engine state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Mode: e.mode, Counters: e.pf.Counters()}
}

func (e *Engine) publish(ev events.Event, p events.Payload) {
	p.Mode = string(e.mode)
	e.bus.Publish(ev, p)
}
