package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradedesk/internal/portfolio"
	"tradedesk/pkg/broker"
)

// step scripts one PlaceOrder outcome for the fake broker.
type step struct {
	ack broker.OrderAck
	err error
}

type fakeBroker struct {
	price      float64
	priceErr   error
	placeSteps []step
	placeCalls int
	statusResp broker.OrderStatus
	statusErr  error
	statusSeen []string
}

func (f *fakeBroker) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeBroker) History(ctx context.Context, symbol, resolution string, bars int) ([]broker.Candle, error) {
	return nil, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest, correlationID string) (broker.OrderAck, error) {
	i := f.placeCalls
	f.placeCalls++
	if i >= len(f.placeSteps) {
		return broker.OrderAck{Status: broker.StatusFilled}, nil
	}
	return f.placeSteps[i].ack, f.placeSteps[i].err
}

func (f *fakeBroker) OrderStatus(ctx context.Context, correlationID string) (broker.OrderStatus, error) {
	f.statusSeen = append(f.statusSeen, correlationID)
	return f.statusResp, f.statusErr
}

func (f *fakeBroker) IsAuthenticated(ctx context.Context) bool { return true }

func newTestRouter(fb *fakeBroker, threshold int) *Router {
	r := NewRouter(fb, NewBreaker(threshold, time.Minute), Config{MaxRetries: 2, BackoffBase: time.Millisecond})
	r.sleep = func(time.Duration) {}
	return r
}

func testOrder() Order {
	return Order{
		Symbol: "NSE:NIFTY50-INDEX", Side: portfolio.SideBuy, Qty: 50,
		StopLoss: 21950, Target: 22100, CorrelationID: "c-1",
	}
}

func TestEnterPaperFillsAtLTP(t *testing.T) {
	fb := &fakeBroker{price: 22010}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	pos, err := r.Enter(context.Background(), pf, testOrder(), ModePaper, time.Now())
	if err != nil {
		t.Fatalf("paper enter: %v", err)
	}
	if pos.EntryPrice != 22010 || pos.Qty != 50 {
		t.Fatalf("position: %+v", pos)
	}
	if fb.placeCalls != 0 {
		t.Fatalf("paper mode hit the broker %d times", fb.placeCalls)
	}
	if !pf.HasOpenPosition() {
		t.Fatal("position not opened")
	}
}

func TestEnterNoMarketData(t *testing.T) {
	fb := &fakeBroker{priceErr: errors.New("quote feed down")}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	_, err := r.Enter(context.Background(), pf, testOrder(), ModePaper, time.Now())
	if !errors.Is(err, ErrNoMarketData) {
		t.Fatalf("error: %v", err)
	}
	if pf.HasOpenPosition() {
		t.Fatal("position opened without a price")
	}
}

func TestEnterLiveCircuitOpen(t *testing.T) {
	fb := &fakeBroker{price: 22010}
	r := newTestRouter(fb, 1)
	r.breaker.Failure() // trips at threshold 1
	pf := portfolio.New(time.Now())

	_, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error: %v", err)
	}
	if fb.placeCalls != 0 {
		t.Fatal("open circuit still reached the broker")
	}
	if pf.HasOpenPosition() {
		t.Fatal("position opened behind an open circuit")
	}
}

func TestEnterLiveRetriesTransientThenFills(t *testing.T) {
	transient := broker.NewError(broker.KindTransient, "place_order", errors.New("429"))
	fb := &fakeBroker{
		price:      22010,
		placeSteps: []step{{err: transient}},
		statusResp: broker.StatusUnknown, // first attempt never landed
	}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	pos, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	if err != nil {
		t.Fatalf("live enter: %v", err)
	}
	if fb.placeCalls != 2 {
		t.Fatalf("place calls: %d", fb.placeCalls)
	}
	if len(fb.statusSeen) != 1 || fb.statusSeen[0] != "c-1" {
		t.Fatalf("status polls: %v", fb.statusSeen)
	}
	if pos.EntryPrice != 22010 {
		t.Fatalf("position: %+v", pos)
	}
	if r.breaker.State() != BreakerClosed {
		t.Fatalf("breaker after recovery: %v", r.breaker.State())
	}
}

func TestEnterLiveDuplicateSuppressed(t *testing.T) {
	transient := broker.NewError(broker.KindTransient, "place_order", errors.New("gateway timeout"))
	fb := &fakeBroker{
		price:      22010,
		placeSteps: []step{{err: transient}},
		statusResp: broker.StatusFilled, // the lost submission actually landed
	}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	if _, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now()); err != nil {
		t.Fatalf("live enter: %v", err)
	}
	if fb.placeCalls != 1 {
		t.Fatalf("order re-submitted %d times despite fill", fb.placeCalls)
	}
}

func TestEnterLiveRetryExhaustion(t *testing.T) {
	transient := broker.NewError(broker.KindTransient, "place_order", errors.New("503"))
	fb := &fakeBroker{
		price:      22010,
		placeSteps: []step{{err: transient}, {err: transient}, {err: transient}},
		statusResp: broker.StatusUnknown,
	}
	r := newTestRouter(fb, 5)
	pf := portfolio.New(time.Now())

	_, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	if err == nil {
		t.Fatal("exhausted retries returned nil")
	}
	if !broker.Transient(err) {
		t.Fatalf("final error lost classification: %v", err)
	}
	if pf.HasOpenPosition() {
		t.Fatal("position opened after failed execution")
	}
	if c := pf.Counters(); c.Trades != 0 {
		t.Fatalf("trade counted after failure: %+v", c)
	}
}

func TestEnterLiveFatalNoRetry(t *testing.T) {
	fatal := broker.NewError(broker.KindValidation, "place_order", errors.New("invalid qty"))
	fb := &fakeBroker{price: 22010, placeSteps: []step{{err: fatal}}}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	_, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	if !broker.Fatal(err) {
		t.Fatalf("error: %v", err)
	}
	if fb.placeCalls != 1 {
		t.Fatalf("fatal error retried: %d calls", fb.placeCalls)
	}
}

func TestEnterLiveFatalCountsTowardBreaker(t *testing.T) {
	fatal := broker.NewError(broker.KindAuth, "place_order", errors.New("token expired"))
	fb := &fakeBroker{price: 22010, placeSteps: []step{{err: fatal}, {err: fatal}}}
	r := newTestRouter(fb, 2)
	pf := portfolio.New(time.Now())

	r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	o2 := testOrder()
	o2.CorrelationID = "c-2"
	r.Enter(context.Background(), pf, o2, ModeLive, time.Now())

	if r.breaker.State() != BreakerOpen {
		t.Fatalf("breaker after 2 fatal failures: %v", r.breaker.State())
	}
}

func TestEnterLiveVenueRejection(t *testing.T) {
	fb := &fakeBroker{
		price:      22010,
		placeSteps: []step{{ack: broker.OrderAck{Status: broker.StatusRejected}}},
	}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	_, err := r.Enter(context.Background(), pf, testOrder(), ModeLive, time.Now())
	if !broker.Fatal(err) {
		t.Fatalf("error: %v", err)
	}
	if fb.placeCalls != 1 {
		t.Fatalf("rejection retried: %d calls", fb.placeCalls)
	}
}

func TestExitClosesPosition(t *testing.T) {
	fb := &fakeBroker{price: 22100}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())
	pf.OpenPosition(portfolio.Position{
		Symbol: "NSE:NIFTY50-INDEX", Side: portfolio.SideBuy, Qty: 50,
		EntryPrice: 22000, OpenedAt: time.Now(),
	})

	trade, err := r.Exit(context.Background(), pf, "t-1", portfolio.ExitTarget, ModePaper, "c-exit", time.Now())
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if trade.PnL != 5000 {
		t.Fatalf("pnl: %v", trade.PnL)
	}
	if pf.HasOpenPosition() {
		t.Fatal("position survived exit")
	}
}

func TestExitLivePlacesOppositeSide(t *testing.T) {
	fb := &fakeBroker{price: 21900}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())
	pf.OpenPosition(portfolio.Position{
		Symbol: "NSE:NIFTY50-INDEX", Side: portfolio.SideSell, Qty: 50,
		EntryPrice: 22000, OpenedAt: time.Now(),
	})

	trade, err := r.Exit(context.Background(), pf, "t-1", portfolio.ExitSquareOff, ModeLive, "c-exit", time.Now())
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if fb.placeCalls != 1 {
		t.Fatalf("place calls: %d", fb.placeCalls)
	}
	if trade.PnL != 5000 {
		t.Fatalf("short pnl: %v", trade.PnL)
	}
}

func TestExitWhenFlat(t *testing.T) {
	fb := &fakeBroker{price: 22000}
	r := newTestRouter(fb, 3)
	pf := portfolio.New(time.Now())

	_, err := r.Exit(context.Background(), pf, "t-1", portfolio.ExitManual, ModePaper, "c-exit", time.Now())
	if !errors.Is(err, portfolio.ErrNoOpenPosition) {
		t.Fatalf("error: %v", err)
	}
}
