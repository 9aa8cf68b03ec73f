package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Payload
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Payload)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Payload, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Payload, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// SubscribeAll registers a listener across every engine event topic; the
// returned unsubscribe function detaches all of them.
func (b *Bus) SubscribeAll(buffer int) (<-chan Payload, func()) {
	all := []Event{
		EventSignalCreated, EventSignalApproved, EventSignalRejected,
		EventSignalExpired, EventSignalSuperseded,
		EventTradeExecuted, EventTradeClosed,
		EventModeSwitched, EventSquareOff, EventRiskAudit, EventEngineStopped,
	}

	out := make(chan Payload, buffer)
	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(all))

	for _, e := range all {
		ch, unsub := b.Subscribe(e, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(ch <-chan Payload) {
			defer wg.Done()
			for p := range ch {
				select {
				case out <- p:
				default:
					// drop if the aggregate reader is slow
				}
			}
		}(ch)
	}

	cancel := func() {
		for _, u := range unsubs {
			u()
		}
		go func() {
			wg.Wait()
			close(out)
		}()
	}
	return out, cancel
}

// Publish fan-outs the payload to subscribers asynchronously to avoid blocking.
func (b *Bus) Publish(e Event, p Payload) {
	p.Event = e
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- p:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
