package registry

import (
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
)

// ServiceInfo is the existence record for a (ServiceID, InstanceID) pair.
type ServiceInfo struct {
	Service   someip.ServiceID
	Instance  someip.InstanceID
	Major     someip.MajorVersion
	Minor     someip.MinorVersion
	IsLocal   bool
	Provider  someip.ClientID
	TTL       someip.TTL
	OfferedAt time.Time
}

// EventInfo is the existence record for a single event of a service
// instance. IsPlaceholder marks a record created by subscribe() before any
// register_event call ever arrives (spec's cache-placeholder contract).
type EventInfo struct {
	Service           someip.ServiceID
	Instance          someip.InstanceID
	Event             someip.EventID
	Eventgroups       []someip.EventgroupID
	Type              someip.EventType
	Reliability       someip.Reliability
	CycleMs           int64
	ChangeResetsCycle bool
	UpdateOnChange    bool
	IsProvided        bool
	IsPlaceholder     bool
}

// EventgroupInfo collects the events that belong to one eventgroup of a
// service instance.
type EventgroupInfo struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Events     []someip.EventID
}

// offerHistoryDepth bounds the per-service offer history ring buffer.
const offerHistoryDepth = 16

type offerRecord struct {
	client someip.ClientID
	until  time.Time
	// id correlates this withdrawal across the offer-history ring, the
	// registry's own log lines, and any audit trail a caller builds from
	// them; it has no role in the wire protocol.
	id string
}

// DeriveReliability resolves an event's effective reliability from explicit
// configuration, the caller-supplied value, and the owning service's
// reliability, in that priority order, per spec.md 4.3.
func DeriveReliability(explicit, fromCaller, fromService someip.Reliability) someip.Reliability {
	if explicit != someip.ReliabilityUnknown {
		return explicit
	}
	if fromCaller != someip.ReliabilityUnknown {
		return fromCaller
	}
	return fromService
}
