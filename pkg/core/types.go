package core

import (
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/wire"
)

// Message is the decoded unit CoreFacade hands to message handlers and
// accepts from Send; the raw wire framing lives entirely in pkg/wire.
type Message struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Method     someip.MethodID
	Client     someip.ClientID
	Session    someip.SessionID
	Type       wire.MessageType
	ReturnCode wire.ReturnCode
	MajorVer   uint8
	Payload    []byte
}

// State is the facade's own lifecycle state, per spec.md 5's ordering
// guarantee: Deregistered -> Registered -> Deregistered without skipping.
type State int

const (
	StateDeregistered State = iota
	StateRegistered
)

func (s State) String() string {
	if s == StateRegistered {
		return "registered"
	}
	return "deregistered"
}

// AvailabilityStatus reports whether a (service, instance) pair currently
// has a live provider.
type AvailabilityStatus int

const (
	Unavailable AvailabilityStatus = iota
	Available
)

func (a AvailabilityStatus) String() string {
	if a == Available {
		return "available"
	}
	return "unavailable"
}

// HandlerRegistrationType controls how register_message_handler inserts
// into the per-(service,instance,method) handler list, spec.md 4.6.
type HandlerRegistrationType int

const (
	// Replace clears the existing handler list for the key before adding.
	Replace HandlerRegistrationType = iota
	// Append adds to the end of the existing handler list.
	Append
	// Prepend adds to the front of the existing handler list.
	Prepend
)

// MessageHandler receives a decoded message addressed to this app.
type MessageHandler func(Message)

// AvailabilityHandler observes a (service, instance) pair's availability
// transitions, filtered at registration time by a (service, instance)
// pattern that may use someip.AnyService/someip.AnyInstance wildcards.
type AvailabilityHandler func(s someip.ServiceID, i someip.InstanceID, status AvailabilityStatus)

// StateHandler observes this app's own Registered/Deregistered transitions.
type StateHandler func(State)

// SubscriptionStatusHandler observes ack/nack outcomes for subscriptions
// this app holds.
type SubscriptionStatusHandler func(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID, state someip.AckState, ackErr error)

// WatchdogHandler is invoked once per configured watchdog interval until
// cleared by SetWatchdogHandler(nil, 0).
type WatchdogHandler func()

type messageKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Method   someip.MethodID
}

type availabilityEntry struct {
	service  someip.ServiceID
	instance someip.InstanceID
	handler  AvailabilityHandler
}

func (e availabilityEntry) matches(s someip.ServiceID, i someip.InstanceID) bool {
	if e.service != someip.AnyService && e.service != s {
		return false
	}
	if e.instance != someip.AnyInstance && e.instance != i {
		return false
	}
	return true
}
