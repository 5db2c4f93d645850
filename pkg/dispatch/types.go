package dispatch

import (
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
)

// Kind tags a queued item with the handler family it invokes, replacing
// the duck-typed callback union from the original with a sum type the
// dispatcher can pattern-match on.
type Kind int

const (
	KindMessage Kind = iota
	KindAvailability
	KindState
	KindSubscription
	KindOfferedServices
	KindWatchdog
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindAvailability:
		return "availability"
	case KindState:
		return "state"
	case KindSubscription:
		return "subscription"
	case KindOfferedServices:
		return "offered_services"
	case KindWatchdog:
		return "watchdog"
	default:
		return "unknown"
	}
}

// serviceKey identifies the (service, instance) an item's head-of-line
// ordering gate is scoped to; items with no applicable service (State,
// Watchdog) use the zero key and are never gated against one another.
type serviceKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
}

// item is one unit of work on the dispatch queue.
type item struct {
	kind      Kind
	key       serviceKey
	fn        func()
	neverDrop bool
	queuedAt  time.Time
}
