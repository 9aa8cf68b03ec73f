// Package execution routes approved signals to either a simulated paper fill
// or the live broker, applying the resilience policy (retry with backoff,
// circuit breaking, duplicate-order suppression) on the live path.
//
// The router mutates the portfolio only after the fill path has succeeded,
// and is always invoked inside the engine's transaction lock, so a failed
// attempt leaves position and pending state exactly as it found them.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tradedesk/internal/portfolio"
	"tradedesk/pkg/broker"
)

// Mode selects simulated or brokered execution.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

var (
	// ErrCircuitOpen is returned before any broker call when the breaker is open.
	ErrCircuitOpen = errors.New("execution: circuit open")
	// ErrNoMarketData is returned when no last-traded price is available.
	ErrNoMarketData = errors.New("execution: no market data")
)

// Order is the execution request derived from an approved signal or a forced
// exit. CorrelationID must be unique per attempt series; the live path uses
// it to suppress duplicate submissions.
type Order struct {
	Symbol        string
	Side          portfolio.Side
	Qty           int
	StopLoss      float64
	Target        float64
	CorrelationID string
}

// Config tunes the live-path resilience policy.
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Router dispatches orders per mode.
type Router struct {
	broker  broker.Broker
	breaker *Breaker
	cfg     Config
	sleep   func(time.Duration) // injectable for tests
}

// NewRouter creates a router over the broker with the given breaker.
func NewRouter(b broker.Broker, breaker *Breaker, cfg Config) *Router {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Router{broker: b, breaker: breaker, cfg: cfg, sleep: time.Sleep}
}

// Breaker exposes the router's circuit breaker state for status reporting.
func (r *Router) Breaker() *Breaker { return r.breaker }

// Enter fills an entry order and opens the position. The paper path fills
// immediately at the last traded price; the live path goes through the
// resilience policy first. On any error the portfolio is untouched.
func (r *Router) Enter(ctx context.Context, pf *portfolio.Portfolio, o Order, mode Mode, now time.Time) (portfolio.Position, error) {
	ltp, err := r.broker.LastPrice(ctx, o.Symbol)
	if err != nil || ltp <= 0 {
		return portfolio.Position{}, ErrNoMarketData
	}

	if mode == ModeLive {
		if err := r.placeResilient(ctx, broker.OrderRequest{
			Symbol: o.Symbol,
			Side:   broker.OrderSide(o.Side),
			Qty:    o.Qty,
		}, o.CorrelationID); err != nil {
			return portfolio.Position{}, err
		}
	}

	pos := portfolio.Position{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Qty:        o.Qty,
		EntryPrice: ltp,
		StopLoss:   o.StopLoss,
		Target:     o.Target,
		OpenedAt:   now,
	}
	if err := pf.OpenPosition(pos); err != nil {
		return portfolio.Position{}, err
	}
	return pos, nil
}

// Exit fills the closing order for the open position and realizes the trade.
func (r *Router) Exit(ctx context.Context, pf *portfolio.Portfolio, tradeID string, reason portfolio.ExitReason, mode Mode, correlationID string, now time.Time) (portfolio.Trade, error) {
	pos := pf.Position()
	if !pos.Open() {
		return portfolio.Trade{}, portfolio.ErrNoOpenPosition
	}

	ltp, err := r.broker.LastPrice(ctx, pos.Symbol)
	if err != nil || ltp <= 0 {
		return portfolio.Trade{}, ErrNoMarketData
	}

	if mode == ModeLive {
		if err := r.placeResilient(ctx, broker.OrderRequest{
			Symbol: pos.Symbol,
			Side:   opposite(pos.Side),
			Qty:    pos.Qty,
		}, correlationID); err != nil {
			return portfolio.Trade{}, err
		}
	}

	return pf.ClosePosition(tradeID, ltp, reason, string(mode), now)
}

// placeResilient submits one live order under the resilience policy:
// breaker check first, then bounded retries with exponential backoff for
// transient failures. Before any retry the order's status is polled by
// correlation id; an already-acknowledged order is never re-submitted.
//
// Fatal broker errors (auth, validation) propagate immediately and still
// count toward the breaker's failure streak: a venue rejecting orders is
// unhealthy for our purposes whatever the status code says.
func (r *Router) placeResilient(ctx context.Context, req broker.OrderRequest, correlationID string) error {
	if !r.breaker.Allow() {
		return ErrCircuitOpen
	}

	submitted := false
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			log.Printf("execution: retrying order %s attempt=%d backoff=%v", correlationID, attempt, backoff)
			r.sleep(backoff)
		}

		if submitted {
			// A prior attempt may have reached the venue; reconcile by
			// correlation id instead of re-sending.
			status, err := r.broker.OrderStatus(ctx, correlationID)
			if err != nil {
				lastErr = err
				if broker.Fatal(err) {
					break
				}
				continue
			}
			switch status {
			case broker.StatusFilled:
				r.breaker.Success()
				return nil
			case broker.StatusRejected:
				lastErr = broker.NewError(broker.KindValidation, "order_status",
					fmt.Errorf("order %s rejected by venue", correlationID))
				r.breaker.Failure()
				return lastErr
			case broker.StatusPending:
				lastErr = fmt.Errorf("order %s still pending", correlationID)
				continue
			case broker.StatusUnknown:
				// Never reached the venue; safe to submit again.
				submitted = false
			}
		}

		ack, err := r.broker.PlaceOrder(ctx, req, correlationID)
		if err == nil {
			if ack.Status == broker.StatusRejected {
				lastErr = broker.NewError(broker.KindValidation, "place_order",
					fmt.Errorf("order %s rejected", correlationID))
				r.breaker.Failure()
				return lastErr
			}
			r.breaker.Success()
			return nil
		}

		lastErr = err
		if broker.Fatal(err) {
			break
		}
		// The submission may have landed despite the error; reconcile on the
		// next attempt rather than blindly re-sending.
		submitted = true
	}

	r.breaker.Failure()
	if lastErr == nil {
		lastErr = fmt.Errorf("order %s failed after %d attempts", correlationID, r.cfg.MaxRetries+1)
	}
	return lastErr
}

func opposite(s portfolio.Side) broker.OrderSide {
	if s == portfolio.SideBuy {
		return broker.SideSell
	}
	return broker.SideBuy
}
