package events_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoflow/internal/events"
)

func testBus(maxRedeliveries int) *events.Bus {
	return events.NewBus(events.BusConfig{
		MessageTimeout:  time.Second,
		MaxRedeliveries: maxRedeliveries,
		RetryMaxElapsed: 5 * time.Second,
	})
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	bus := testBus(1)
	received := make(chan any, 1)
	bus.Subscribe("topic", "sub", func(_ context.Context, msg any) error {
		received <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	require.NoError(t, bus.Publish(ctx, "topic", "hello"))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestBus_FanOutToAllSubscribers(t *testing.T) {
	bus := testBus(1)
	var first, second atomic.Int32
	bus.Subscribe("topic", "first", func(context.Context, any) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe("topic", "second", func(context.Context, any) error {
		second.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	require.NoError(t, bus.Publish(ctx, "topic", "hello"))

	assert.Eventually(t, func() bool {
		return first.Load() == 1 && second.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_RedeliversUntilAcknowledged(t *testing.T) {
	bus := testBus(5)
	var deliveries atomic.Int32
	done := make(chan struct{})
	bus.Subscribe("topic", "flaky", func(context.Context, any) error {
		// Fail the first two deliveries; at-least-once semantics mean we
		// see the message again until we acknowledge it.
		if deliveries.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	require.NoError(t, bus.Publish(ctx, "topic", "retry me"))

	select {
	case <-done:
		assert.Equal(t, int32(3), deliveries.Load())
	case <-time.After(10 * time.Second):
		t.Fatal("message was never acknowledged")
	}
}

func TestBus_DropsAfterMaxRedeliveries(t *testing.T) {
	bus := testBus(2)
	var deliveries atomic.Int32
	bus.Subscribe("topic", "broken", func(context.Context, any) error {
		deliveries.Add(1)
		return errors.New("permanent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	require.NoError(t, bus.Publish(ctx, "topic", "doomed"))

	// First delivery plus two redeliveries, then the message is dropped.
	assert.Eventually(t, func() bool {
		return deliveries.Load() == 3
	}, 10*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(3), deliveries.Load())
}

func TestBus_PublishToTopicWithoutSubscribers(t *testing.T) {
	bus := testBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	assert.NoError(t, bus.Publish(ctx, "nobody-home", "hello"))
}

func TestBus_SequentialMessagesArriveInOrderPerSubscriber(t *testing.T) {
	bus := testBus(1)
	var got []int
	done := make(chan struct{})
	bus.Subscribe("topic", "ordered", func(_ context.Context, msg any) error {
		got = append(got, msg.(int))
		if len(got) == 3 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.Publish(ctx, "topic", i))
	}

	select {
	case <-done:
		assert.Equal(t, []int{1, 2, 3}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not delivered")
	}
}
