package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"storefront_pay_echo/internal/models"
)

func TestDispatcherMissingRef3ReachesOnlyMatchingKey(t *testing.T) {
	d := NewDispatcher(nil)
	refs := models.Refs{Ref1: "ORDERORD1", Ref2: "USER1"}

	var got []string
	d.Subscribe(refs, func(PaymentEvent) { got = append(got, "pair") })
	d.Subscribe(models.Refs{Ref1: "ORDERORD1", Ref2: "USER1", Ref3: "P1"}, func(PaymentEvent) { got = append(got, "with-ref3") })
	d.Subscribe(models.Refs{Ref1: "ORDERORD2", Ref2: "USER1"}, func(PaymentEvent) { got = append(got, "other") })

	require.NoError(t, d.Publish(context.Background(), refs, PaymentEvent{Success: true, Status: models.PaymentStatusSuccess}))
	require.Equal(t, []string{"pair"}, got)
}

func TestDispatcherRef3FansOutToWildcard(t *testing.T) {
	d := NewDispatcher(nil)
	exact := models.Refs{Ref1: "A", Ref2: "B", Ref3: "C"}

	var got []string
	d.Subscribe(exact.Wildcard(), func(PaymentEvent) { got = append(got, "wildcard") })
	d.Subscribe(exact, func(PaymentEvent) { got = append(got, "exact-1") })
	d.Subscribe(exact, func(PaymentEvent) { got = append(got, "exact-2") })
	d.Subscribe(models.Refs{Ref1: "A", Ref2: "B", Ref3: "D"}, func(PaymentEvent) { got = append(got, "sibling") })

	require.NoError(t, d.Publish(context.Background(), exact, PaymentEvent{}))
	require.Equal(t, []string{"exact-1", "exact-2", "wildcard"}, got)
}

func TestDispatcherUnsubscribeIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil)
	refs := models.Refs{Ref1: "A", Ref2: "B"}

	var calls int32
	unsubscribe := d.Subscribe(refs, func(PaymentEvent) { atomic.AddInt32(&calls, 1) })
	keep := d.Subscribe(refs, func(PaymentEvent) {})
	require.Equal(t, 2, d.ListenerCount(refs))

	unsubscribe()
	unsubscribe()
	require.Equal(t, 1, d.ListenerCount(refs))

	require.NoError(t, d.Publish(context.Background(), refs, PaymentEvent{}))
	require.Zero(t, atomic.LoadInt32(&calls))

	keep()
	require.Zero(t, d.ListenerCount(refs))
}

func TestDispatcherRecoversPanickingListener(t *testing.T) {
	d := NewDispatcher(nil)
	refs := models.Refs{Ref1: "A", Ref2: "B"}

	var reached bool
	d.Subscribe(refs, func(PaymentEvent) { panic("boom") })
	d.Subscribe(refs, func(PaymentEvent) { reached = true })

	require.NotPanics(t, func() {
		_ = d.Publish(context.Background(), refs, PaymentEvent{})
	})
	require.True(t, reached)
}

func TestDispatcherListenerMayUnsubscribeDuringPublish(t *testing.T) {
	d := NewDispatcher(nil)
	refs := models.Refs{Ref1: "A", Ref2: "B"}

	var unsubscribe func()
	var calls int
	unsubscribe = d.Subscribe(refs, func(PaymentEvent) {
		calls++
		unsubscribe()
	})

	_ = d.Publish(context.Background(), refs, PaymentEvent{})
	_ = d.Publish(context.Background(), refs, PaymentEvent{})
	require.Equal(t, 1, calls)
	require.Zero(t, d.ListenerCount(refs))
}

func TestDispatcherConcurrentSubscribers(t *testing.T) {
	d := NewDispatcher(nil)
	refs := models.Refs{Ref1: "A", Ref2: "B"}

	const n = 200
	var wg sync.WaitGroup
	var delivered int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := d.Subscribe(refs, func(PaymentEvent) { atomic.AddInt64(&delivered, 1) })
			_ = d.Publish(context.Background(), refs, PaymentEvent{})
			unsubscribe()
		}()
	}
	wg.Wait()

	require.Zero(t, d.ListenerCount(refs))
	require.GreaterOrEqual(t, atomic.LoadInt64(&delivered), int64(n))
}
