package notify

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []domain.Event {
	var events []domain.Event
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return events
			}
			events = append(events, evt)
		default:
			return events
		}
	}
}

func TestBus_PublishDeliversOncePerSubscriber(t *testing.T) {
	bus := NewBus(8, logger.NewDiscard())
	a := bus.Subscribe()
	b := bus.Subscribe()

	n := bus.Publish(domain.ProcessingEvent("hello"))
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{a, b} {
		events := drain(sub)
		require.Len(t, events, 1)
		assert.Equal(t, "hello", events[0].Message)
	}
}

func TestBus_SubscriptionIDsAreUnique(t *testing.T) {
	bus := NewBus(1, logger.NewDiscard())
	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.NotEqual(t, a.ID(), b.ID())

	bus.Unsubscribe(a)
	c := bus.Subscribe()
	assert.NotEqual(t, a.ID(), c.ID())
	assert.NotEqual(t, b.ID(), c.ID())
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus(0, logger.NewDiscard())

	assert.Equal(t, 0, bus.Publish(domain.ProcessingEvent("nobody")))
	assert.Equal(t, DefaultBufferSize, bus.bufferSize)
}

func TestBus_LateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus(8, logger.NewDiscard())
	bus.Publish(domain.ProcessingEvent("before"))

	sub := bus.Subscribe()
	bus.Publish(domain.ProcessingEvent("after"))

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, "after", events[0].Message)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(8, logger.NewDiscard())
	sub := bus.Subscribe()
	other := bus.Subscribe()
	require.Equal(t, 2, bus.Len())

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
	assert.Equal(t, 1, bus.Len())

	assert.Equal(t, 1, bus.Publish(domain.ProcessingEvent("x")))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	assert.Len(t, drain(other), 1)
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewBus(32, logger.NewDiscard())
	sub := bus.Subscribe()

	for i := 0; i < 20; i++ {
		bus.Publish(domain.ProcessingEvent(fmt.Sprintf("msg-%d", i)))
	}

	events := drain(sub)
	require.Len(t, events, 20)
	for i, evt := range events {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), evt.Message)
	}
}

func TestBus_FullBufferDropsOnlyForSlowSubscriber(t *testing.T) {
	bus := NewBus(2, logger.NewDiscard())
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	var fastGot []domain.Event
	for i := 0; i < 4; i++ {
		bus.Publish(domain.ProcessingEvent(fmt.Sprintf("msg-%d", i)))
		fastGot = append(fastGot, drain(fast)...)
	}

	assert.Len(t, fastGot, 4)

	slowGot := drain(slow)
	require.Len(t, slowGot, 2)
	assert.Equal(t, "msg-0", slowGot[0].Message)
	assert.Equal(t, "msg-1", slowGot[1].Message)
}

func TestBus_CompletedEventFields(t *testing.T) {
	bus := NewBus(1, logger.NewDiscard())
	sub := bus.Subscribe()

	bus.Publish(domain.CompletedEvent("done", 7, "/media/images/processed/processed_a.png"))

	evt := <-sub.C()
	require.NotNil(t, evt.ImageID)
	assert.Equal(t, int64(7), *evt.ImageID)
	assert.Equal(t, "/media/images/processed/processed_a.png", evt.ProcessedImage)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(4, logger.NewDiscard())
	subs := []*Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}

	bus.Close()
	assert.Equal(t, 0, bus.Len())

	for _, sub := range subs {
		_, ok := <-sub.C()
		assert.False(t, ok)
	}

	// Unsubscribe after Close is a no-op
	bus.Unsubscribe(subs[0])
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus(1024, logger.NewDiscard())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe()
			for j := 0; j < 10; j++ {
				bus.Publish(domain.ProcessingEvent("tick"))
			}
			bus.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, bus.Len())
}
