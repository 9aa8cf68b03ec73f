// Package broker defines the contract between the trading engine and a
// brokerage venue. The engine treats the broker as a stateless service with
// its own token lifecycle; only the four operations below are visible to it.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest describes a market order to place with the venue.
type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Qty    int
}

// OrderAck is the venue's acknowledgment of a placed order.
type OrderAck struct {
	OrderID string // venue-assigned id
	Status  OrderStatus
}

// OrderStatus reflects the venue-side state of an order.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "FILLED"
	StatusPending  OrderStatus = "PENDING"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Candle is one OHLCV bar: [epoch, open, high, low, close, volume].
type Candle struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Broker is the venue contract consumed by the execution router.
// PlaceOrder must be idempotent per correlationID: re-submitting a
// correlationID the venue has already acknowledged is a caller bug, and
// implementations are free to reject it.
type Broker interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	History(ctx context.Context, symbol string, resolution string, bars int) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest, correlationID string) (OrderAck, error)
	OrderStatus(ctx context.Context, correlationID string) (OrderStatus, error)
	IsAuthenticated(ctx context.Context) bool
}

// ErrorKind classifies broker failures for the router's retry policy.
type ErrorKind int

const (
	// KindTransient covers rate limits and gateway/service unavailability;
	// safe to retry with backoff.
	KindTransient ErrorKind = iota
	// KindAuth covers authorization rejections; never retried.
	KindAuth
	// KindValidation covers order-validation rejections; never retried.
	KindValidation
)

// Error is a classified broker failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient reports whether err is a retryable broker failure. Unclassified
// errors (network-level, context timeouts) are treated as transient.
func Transient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == KindTransient
	}
	return err != nil
}

// Fatal reports whether err is a non-retryable broker rejection.
func Fatal(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == KindAuth || be.Kind == KindValidation
	}
	return false
}
