package eventstore

import (
	"sync"
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
)

// EventKey identifies a single event of a service instance.
type EventKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Event    someip.EventID
}

type groupKey struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
}

type pendingKey struct {
	Client someip.ClientID
	EventKey
}

// payloadCell is the last payload seen for an event, kept for debounce
// comparison and for the timer wheel's redelivery; it is kept for every
// event type. fieldValue additionally retains the value for Field events so
// a late subscriber can be sent the current value.
type payloadCell struct {
	last       []byte
	fieldValue []byte
	fresh      bool
}

// eventRecord is the mutable per-event state EventStore tracks alongside
// the existence record registry.Registry owns.
type eventRecord struct {
	mu sync.Mutex

	key         EventKey
	eventgroups []someip.EventgroupID
	eventType   someip.EventType

	cell     payloadCell
	debounce DebounceFilter
	state    debounceState

	pendingUpdate    bool // an update was recorded since the wheel last delivered
	deliveredOnce    bool // a stale value has already been delivered once
	nextWheelDueAt   time.Time
}

// Forwarder delivers a decided-to-forward notification to its recipients.
// Implemented by pkg/core, which schedules the delivery onto the
// dispatcher instead of invoking handlers from inside eventstore's locks.
type Forwarder interface {
	Forward(key EventKey, recipients []someip.ClientID, payload []byte)
}
