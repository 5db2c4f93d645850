package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the category of a lifecycle event.
type Kind string

const (
	KindServiceAvailable   Kind = "service.available"
	KindServiceUnavailable Kind = "service.unavailable"
	KindStateRegistered    Kind = "app.registered"
	KindStateDeregistered  Kind = "app.deregistered"
	KindSubscriptionStatus Kind = "subscription.status"
	KindWatchdogTick       Kind = "watchdog.tick"
)

// Event represents a single routing-core lifecycle occurrence. Seq is a
// broker-assigned monotonic sequence number, letting a subscriber detect
// whether its buffer has dropped anything between two events it did
// receive.
type Event struct {
	Kind         Kind
	Seq          uint64
	Timestamp    time.Time
	ServiceID    uint16
	InstanceID   uint16
	EventgroupID uint16
	ClientID     uint16
	Message      string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans out routing-core lifecycle events to subscribers; the admin
// inspect surface reads CoreFacade.Snapshot instead. Every event except watchdog ticks
// travels through eventCh and is delivered strictly in publish order, so a
// subscriber always observes a service's availability.* event before any
// subscription.status event that logically followed it.
//
// Watchdog ticks are different: they fire on a fixed cadence regardless of
// whether anything downstream is keeping up, and carry no information
// beyond "a tick happened". Queuing them on eventCh like any other event
// would let a burst of ticks sit ahead of, or interleave with, real
// availability/subscription traffic whenever a consumer falls behind. So
// ticks are coalesced to at most one pending tick and are only delivered
// once eventCh has fully drained, giving them a strictly lower priority
// than every other event kind.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	seq         uint64

	tickMu      sync.Mutex
	pendingTick *Event
	tickCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		tickCh:      make(chan struct{}, 1),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Watchdog ticks are routed
// through the coalescing slot instead of eventCh; every other kind keeps
// its place in publish order.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = atomic.AddUint64(&b.seq, 1)

	if event.Kind == KindWatchdogTick {
		b.coalesceTick(event)
		return
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// coalesceTick stashes event as the single pending tick, overwriting
// whatever tick (if any) hadn't been delivered yet, and wakes run() if it
// isn't already awake for one.
func (b *Broker) coalesceTick(event *Event) {
	b.tickMu.Lock()
	b.pendingTick = event
	b.tickMu.Unlock()

	select {
	case b.tickCh <- struct{}{}:
	default:
	}
}

func (b *Broker) run() {
	for {
		// Drain eventCh to empty before ever looking at a pending tick, so
		// a tick can never be delivered ahead of, or interleaved with, an
		// event that was published before it.
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
			continue
		default:
		}

		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.tickCh:
			b.deliverPendingTick()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliverPendingTick() {
	b.tickMu.Lock()
	event := b.pendingTick
	b.pendingTick = nil
	b.tickMu.Unlock()

	if event == nil {
		return
	}
	b.broadcast(event)
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
