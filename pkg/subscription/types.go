package subscription

import (
	"github.com/cuemby/someip-core/pkg/someip"
)

// key identifies one subscription: a client's interest in one event (or
// every event, when Event is someip.AnyEvent) of one eventgroup.
type key struct {
	Client     someip.ClientID
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Event      someip.EventID
}

// Subscription is the tracked state for one subscribe() call.
type Subscription struct {
	Client     someip.ClientID
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Event      someip.EventID
	Major      someip.MajorVersion
	State      someip.AckState
}

// StatusNotifier is delivered a SubscriptionStatus callback whenever a
// subscription's ack state changes; implemented by pkg/core, which
// schedules the actual handler invocation onto the dispatcher.
type StatusNotifier interface {
	NotifySubscriptionStatus(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID, state someip.AckState, err error)
}
