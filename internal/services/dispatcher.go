package services

import (
	"context"
	"log/slog"
	"sync"

	"storefront_pay_echo/internal/models"
)

// PaymentEvent is the outcome pushed to waiting status streams
type PaymentEvent struct {
	Success         bool                 `json:"success"`
	Status          models.PaymentStatus `json:"status"`
	OrderID         string               `json:"order_id"`
	TransactionTime string               `json:"transactionTime,omitempty"`
}

// NewPaymentEvent builds the event for a payment that has reached status
func NewPaymentEvent(p *models.Payment, transactionTime string) PaymentEvent {
	return PaymentEvent{
		Success:         p.Status == models.PaymentStatusSuccess,
		Status:          p.Status,
		OrderID:         p.OrderID,
		TransactionTime: transactionTime,
	}
}

// Listener receives published events. It runs on the publisher's goroutine and must not block.
type Listener func(PaymentEvent)

// PaymentEvents addresses listeners by reference triple
type PaymentEvents interface {
	Publish(ctx context.Context, refs models.Refs, evt PaymentEvent) error
	Subscribe(refs models.Refs, fn Listener) (unsubscribe func())
}

type subscription struct {
	fn Listener
}

// Dispatcher is the in-process PaymentEvents. Events published with nobody
// listening are dropped; the payment store holds the durable state.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]*subscription
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[string][]*subscription),
		logger:    logger,
	}
}

// Subscribe registers fn under the key of refs. The returned func removes
// exactly this registration and is safe to call more than once.
func (d *Dispatcher) Subscribe(refs models.Refs, fn Listener) func() {
	key := refs.Key()
	sub := &subscription{fn: fn}

	d.mu.Lock()
	d.listeners[key] = append(d.listeners[key], sub)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(key, sub) })
	}
}

func (d *Dispatcher) remove(key string, sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.listeners[key]
	for i, s := range subs {
		if s != sub {
			continue
		}
		// copy so snapshots taken by in-flight publishes stay intact
		next := make([]*subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, key)
		} else {
			d.listeners[key] = next
		}
		return
	}
}

// Publish calls every listener on the exact key in registration order. When
// ref3 is set, listeners that subscribed without ref3 are called afterwards.
func (d *Dispatcher) Publish(ctx context.Context, refs models.Refs, evt PaymentEvent) error {
	keys := []string{refs.Key()}
	if refs.Ref3 != "" {
		keys = append(keys, refs.Wildcard().Key())
	}

	d.mu.RLock()
	var subs []*subscription
	for _, k := range keys {
		subs = append(subs, d.listeners[k]...)
	}
	d.mu.RUnlock()

	for i, s := range subs {
		d.deliver(ctx, refs, i, s, evt)
	}

	d.logger.DebugContext(ctx, "payment event dispatched",
		"key", refs.Key(),
		"status", evt.Status,
		"listeners", len(subs),
	)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, refs models.Refs, i int, s *subscription, evt PaymentEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "payment listener panic",
				"key", refs.Key(),
				"listener_index", i,
				"panic", r,
			)
		}
	}()
	s.fn(evt)
}

// ListenerCount returns the number of listeners registered on the exact key
// of refs. Listeners on refs.Wildcard() are not included even though a
// publish for refs reaches them; count those with a second call.
func (d *Dispatcher) ListenerCount(refs models.Refs) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[refs.Key()])
}
