package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"storefront_pay_echo/internal/models"
)

// PaymentEventsChannel is the Redis channel every instance listens on
const PaymentEventsChannel = "payments:events"

type paymentEnvelope struct {
	Refs  models.Refs  `json:"refs"`
	Event PaymentEvent `json:"event"`
}

// RedisDispatcher fans payment events out across instances. Publish goes
// through Redis; Run feeds every received event into the local Dispatcher,
// which holds this instance's listeners.
type RedisDispatcher struct {
	client  *redis.Client
	local   *Dispatcher
	logger  *slog.Logger
	channel string

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisDispatcher(client *redis.Client, local *Dispatcher, logger *slog.Logger) *RedisDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDispatcher{
		client:  client,
		local:   local,
		logger:  logger,
		channel: PaymentEventsChannel,
		ready:   make(chan struct{}),
	}
}

func (d *RedisDispatcher) Publish(ctx context.Context, refs models.Refs, evt PaymentEvent) error {
	data, err := json.Marshal(paymentEnvelope{Refs: refs, Event: evt})
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, data).Err(); err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}
	return nil
}

func (d *RedisDispatcher) Subscribe(refs models.Refs, fn Listener) func() {
	return d.local.Subscribe(refs, fn)
}

// Ready is closed once Run holds an active Redis subscription.
func (d *RedisDispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Run relays events from Redis into the local dispatcher until ctx is done.
func (d *RedisDispatcher) Run(ctx context.Context) error {
	sub := d.client.Subscribe(ctx, d.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", d.channel, err)
	}
	d.readyOnce.Do(func() { close(d.ready) })
	d.logger.Info("payment event relay started", "channel", d.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env paymentEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				d.logger.Warn("dropping malformed payment event", "error", err)
				continue
			}
			_ = d.local.Publish(ctx, env.Refs, env.Event)
		}
	}
}
