package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"todoflow/internal/logger"
)

// Handler consumes one message. A non-nil error (including a deadline hit
// on the per-message context) leaves the message unacknowledged and it is
// delivered again, so handlers must be idempotent.
type Handler func(ctx context.Context, msg any) error

// BusConfig bounds delivery. All values come from the environment, not
// from the consumers.
type BusConfig struct {
	MessageTimeout  time.Duration // per-delivery handler deadline
	MaxRedeliveries int           // retries after the first delivery
	RetryMaxElapsed time.Duration // total retry budget per message
	QueueSize       int
}

type subscription struct {
	topic   string
	name    string
	handler Handler
	ch      chan any
}

// Bus is an in-process topic bus with at-least-once delivery. Each
// subscriber owns a queue and a worker goroutine; a failed delivery is
// retried with exponential backoff up to the configured bounds, then
// dropped with an error log. It is the seam where an external broker
// would plug in; consumers see the same contract either way.
type Bus struct {
	cfg  BusConfig
	mu   sync.Mutex
	subs map[string][]*subscription
	wg   sync.WaitGroup

	started bool
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 30 * time.Second
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = 5
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 20 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Bus{
		cfg:  cfg,
		subs: make(map[string][]*subscription),
	}
}

// Subscribe registers a handler for a topic. Must be called before Start.
func (b *Bus) Subscribe(topic, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("events: Subscribe after Start")
	}
	b.subs[topic] = append(b.subs[topic], &subscription{
		topic:   topic,
		name:    name,
		handler: h,
		ch:      make(chan any, b.cfg.QueueSize),
	})
}

// Start launches one worker per subscription. Workers stop when ctx is
// cancelled; Wait blocks until they are done.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			b.wg.Add(1)
			go b.run(ctx, sub)
		}
	}
}

func (b *Bus) Wait() {
	b.wg.Wait()
}

// Publish enqueues a message for every subscriber of the topic. A full
// subscriber queue is an error rather than a silent drop.
func (b *Bus) Publish(ctx context.Context, topic string, msg any) error {
	b.mu.Lock()
	subs := b.subs[topic]
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("events: queue full for subscriber %q on topic %q", sub.name, topic)
		}
	}
	return nil
}

func (b *Bus) run(ctx context.Context, sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			b.deliver(ctx, sub, msg)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, msg any) {
	deliveries := 0
	op := func() error {
		deliveries++
		mctx, cancel := context.WithTimeout(ctx, b.cfg.MessageTimeout)
		defer cancel()
		return sub.handler(mctx, msg)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = b.cfg.RetryMaxElapsed

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(b.cfg.MaxRedeliveries)),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		logger.Error("dropping message after repeated delivery failures", err,
			zap.String("topic", sub.topic),
			zap.String("subscriber", sub.name),
			zap.Int("deliveries", deliveries),
		)
	}
}
