package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Kind: KindServiceAvailable, ServiceID: 0x1234, InstanceID: 0x5678})

	select {
	case ev := <-sub:
		assert.Equal(t, KindServiceAvailable, ev.Kind)
		assert.Equal(t, uint16(0x1234), ev.ServiceID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Kind: KindStateRegistered})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case ev := <-sub:
			assert.Equal(t, KindStateRegistered, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 100; i++ {
		b.Publish(&Event{Kind: KindServiceAvailable})
	}

	// Buffer is bounded at 50; publishing should never block the caller.
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(sub), 50)
}

func TestBrokerCoalescesWatchdogTicks(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// No consumer running yet: publish a burst of ticks and confirm they
	// collapse to a single pending tick instead of queuing one per call.
	for i := 0; i < 20; i++ {
		b.Publish(&Event{Kind: KindWatchdogTick})
	}

	b.Start()
	defer b.Stop()

	select {
	case ev := <-sub:
		assert.Equal(t, KindWatchdogTick, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced tick")
	}

	select {
	case ev := <-sub:
		t.Fatalf("expected only one coalesced tick, got a second: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerDeliversAvailabilityBeforeSubscriptionStatus(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Publish the whole sequence before the consumer goroutine starts, so
	// the assertions below don't race against run()'s drain loop.
	b.Publish(&Event{Kind: KindServiceAvailable, ServiceID: 0x1234, InstanceID: 0x0001})
	b.Publish(&Event{Kind: KindWatchdogTick})
	b.Publish(&Event{Kind: KindSubscriptionStatus, ServiceID: 0x1234, InstanceID: 0x0001})

	b.Start()
	defer b.Stop()

	first := mustReceive(t, sub)
	assert.Equal(t, KindServiceAvailable, first.Kind)

	second := mustReceive(t, sub)
	assert.Equal(t, KindSubscriptionStatus, second.Kind, "the coalesced tick must not jump ahead of a prior event")
	assert.Greater(t, second.Seq, first.Seq)
}

func mustReceive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
