package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Sim is an in-process broker for local development and paper sessions
// without venue credentials. Prices follow a random walk; every order fills
// immediately at the walked price.
type Sim struct {
	mu     sync.Mutex
	price  float64
	step   float64
	rng    *rand.Rand
	orders map[string]OrderStatus
}

// NewSim creates a simulated broker walking from startPrice.
func NewSim(startPrice float64) *Sim {
	if startPrice <= 0 {
		startPrice = 100
	}
	return &Sim{
		price:  startPrice,
		step:   0.8,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		orders: make(map[string]OrderStatus),
	}
}

func (s *Sim) LastPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price += (s.rng.Float64()*2 - 1) * s.step
	return s.price, nil
}

func (s *Sim) History(ctx context.Context, symbol, resolution string, bars int) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Candle, 0, bars)
	px := s.price
	now := time.Now().Unix()
	for i := bars - 1; i >= 0; i-- {
		o := px
		c := px + (s.rng.Float64()*2-1)*s.step
		h := maxF(o, c) + s.rng.Float64()*s.step
		l := minF(o, c) - s.rng.Float64()*s.step
		out = append(out, Candle{
			Time:   now - int64(i)*300,
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: 1000 + s.rng.Float64()*500,
		})
		px = c
	}
	s.price = px
	return out, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest, correlationID string) (OrderAck, error) {
	if req.Qty <= 0 {
		return OrderAck{}, NewError(KindValidation, "place_order", fmt.Errorf("qty must be positive, got %d", req.Qty))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[correlationID]; ok {
		return OrderAck{}, NewError(KindValidation, "place_order", fmt.Errorf("duplicate correlation id %s", correlationID))
	}
	s.orders[correlationID] = StatusFilled
	return OrderAck{OrderID: "sim-" + correlationID, Status: StatusFilled}, nil
}

func (s *Sim) OrderStatus(ctx context.Context, correlationID string) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.orders[correlationID]; ok {
		return st, nil
	}
	return StatusUnknown, nil
}

func (s *Sim) IsAuthenticated(ctx context.Context) bool { return true }

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
