package registry

import (
	"sync"
	"time"

	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry is the single source of truth for service, event, and
// eventgroup existence. A single reader-writer lock guards the top-level
// maps; each serviceEntry has its own mutex for its own mutation, so a
// write to one service never blocks a reader on another.
type Registry struct {
	mu       sync.RWMutex
	services map[someip.ServiceID]map[someip.InstanceID]*serviceEntry
	logger   zerolog.Logger
}

type serviceEntry struct {
	mu          sync.Mutex
	info        *ServiceInfo
	requesters  map[someip.ClientID]int
	events      map[someip.EventID]*EventInfo
	eventgroups map[someip.EventgroupID]*EventgroupInfo
	history     [offerHistoryDepth]offerRecord
	historyLen  int
	historyNext int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		services: make(map[someip.ServiceID]map[someip.InstanceID]*serviceEntry),
		logger:   log.WithComponent("registry"),
	}
}

func (r *Registry) entry(s someip.ServiceID, i someip.InstanceID, create bool) *serviceEntry {
	r.mu.RLock()
	if byInstance, ok := r.services[s]; ok {
		if e, ok := byInstance[i]; ok {
			r.mu.RUnlock()
			return e
		}
	}
	r.mu.RUnlock()

	if !create {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byInstance, ok := r.services[s]
	if !ok {
		byInstance = make(map[someip.InstanceID]*serviceEntry)
		r.services[s] = byInstance
	}
	if e, ok := byInstance[i]; ok {
		return e
	}
	e := &serviceEntry{
		requesters:  make(map[someip.ClientID]int),
		events:      make(map[someip.EventID]*EventInfo),
		eventgroups: make(map[someip.EventgroupID]*EventgroupInfo),
	}
	byInstance[i] = e
	return e
}

func (r *Registry) deleteEntryIfEmpty(s someip.ServiceID, i someip.InstanceID, e *serviceEntry) {
	e.mu.Lock()
	empty := e.info == nil && len(e.requesters) == 0
	e.mu.Unlock()
	if !empty {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if byInstance, ok := r.services[s]; ok {
		delete(byInstance, i)
		if len(byInstance) == 0 {
			delete(r.services, s)
		}
	}
}

// Offer registers client as the provider of (s, i) at (major, minor). A
// record with no live provider is adopted fresh; a record with a live
// provider accepts only a matching re-offer from that same provider.
func (r *Registry) Offer(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	e := r.entry(s, i, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.info == nil || e.info.Provider == someip.IllegalClient {
		e.info = &ServiceInfo{
			Service:   s,
			Instance:  i,
			Major:     major,
			Minor:     minor,
			IsLocal:   true,
			Provider:  client,
			TTL:       someip.DefaultTTL,
			OfferedAt: time.Now(),
		}
		return nil
	}

	if e.info.Provider != client {
		return ErrAlreadyOffered
	}
	if e.info.Major != major || e.info.Minor != minor {
		return ErrVersionMismatch
	}
	e.info.OfferedAt = time.Now()
	return nil
}

// StopOffer withdraws client's offer of (s, i). It returns the event ids
// that were attached to the service so the caller can clear their payload
// and subscriber state in eventstore/subscription, which this package does
// not own.
func (r *Registry) StopOffer(client someip.ClientID, s someip.ServiceID, i someip.InstanceID) ([]someip.EventID, error) {
	e := r.entry(s, i, false)
	if e == nil {
		return nil, ErrServiceUnknown
	}

	e.mu.Lock()
	if e.info == nil || e.info.Provider != client {
		e.mu.Unlock()
		return nil, ErrNotAuthorized
	}

	events := make([]someip.EventID, 0, len(e.events))
	for id := range e.events {
		events = append(events, id)
	}

	record := offerRecord{client: client, until: time.Now(), id: uuid.New().String()}
	e.history[e.historyNext] = record
	e.historyNext = (e.historyNext + 1) % offerHistoryDepth
	if e.historyLen < offerHistoryDepth {
		e.historyLen++
	}
	log.WithClientID(log.WithService(r.logger, uint16(s), uint16(i)), uint16(client)).Debug().
		Str("withdrawal_id", record.id).
		Msg("service offer withdrawn")

	e.info.Provider = someip.IllegalClient
	noReferences := len(e.requesters) == 0
	if noReferences {
		e.info = nil
	}
	e.mu.Unlock()

	// The entry itself stays even when unreferenced, so its offer history
	// remains visible to WasRecentProvider; Release drops it.
	return events, nil
}

// Request increments (s, i)'s reference count on behalf of client.
func (r *Registry) Request(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	e := r.entry(s, i, false)
	if e == nil {
		return ErrServiceUnknown
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info == nil {
		return ErrServiceUnknown
	}
	if !someip.VersionSatisfies(major, minor, e.info.Major, e.info.Minor) {
		return ErrVersionMismatch
	}
	e.requesters[client]++
	return nil
}

// Release decrements (s, i)'s reference count on behalf of client and trims
// the offer history once the entry becomes unreferenced.
func (r *Registry) Release(client someip.ClientID, s someip.ServiceID, i someip.InstanceID) error {
	e := r.entry(s, i, false)
	if e == nil {
		return ErrServiceUnknown
	}

	e.mu.Lock()
	if n, ok := e.requesters[client]; ok {
		if n <= 1 {
			delete(e.requesters, client)
		} else {
			e.requesters[client] = n - 1
		}
	}
	empty := e.info == nil && len(e.requesters) == 0
	e.mu.Unlock()

	if empty {
		r.deleteEntryIfEmpty(s, i, e)
	}
	return nil
}

// Snapshot returns every currently-offered or requested ServiceInfo, for
// diagnostics (someip-routingd inspect --remote). Order is unspecified.
func (r *Registry) Snapshot() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(r.services))
	for _, instances := range r.services {
		for _, e := range instances {
			e.mu.Lock()
			if e.info != nil {
				out = append(out, *e.info)
			}
			e.mu.Unlock()
		}
	}
	return out
}

// FindService returns the current ServiceInfo for (s, i), if any.
func (r *Registry) FindService(s someip.ServiceID, i someip.InstanceID) (ServiceInfo, bool) {
	e := r.entry(s, i, false)
	if e == nil {
		return ServiceInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info == nil {
		return ServiceInfo{}, false
	}
	return *e.info, true
}

// IsAvailable reports whether (s, i) has a live provider whose version
// satisfies (major, minor) under the wildcard rule.
func (r *Registry) IsAvailable(s someip.ServiceID, i someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) bool {
	info, ok := r.FindService(s, i)
	if !ok || info.Provider == someip.IllegalClient {
		return false
	}
	return someip.VersionSatisfies(major, minor, info.Major, info.Minor)
}

// WasRecentProvider reports whether client appears in (s, i)'s offer
// history, used to accept late responses from a just-stopped provider in
// audit mode.
func (r *Registry) WasRecentProvider(s someip.ServiceID, i someip.InstanceID, client someip.ClientID) bool {
	e := r.entry(s, i, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for idx := 0; idx < e.historyLen; idx++ {
		if e.history[idx].client == client {
			return true
		}
	}
	return false
}

// UpsertEvent creates or updates the existence record for an event,
// promoting a placeholder if one was created by a subscribe() that arrived
// before register_event. Called by pkg/eventstore, which owns payload and
// subscriber state for the same (s, i, e).
func (r *Registry) UpsertEvent(info EventInfo) EventInfo {
	e := r.entry(info.Service, info.Instance, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, hadPlaceholder := e.events[info.Event]
	if hadPlaceholder && existing.IsPlaceholder {
		info.Eventgroups = mergeEventgroups(existing.Eventgroups, info.Eventgroups)
	}
	e.events[info.Event] = &info

	for _, g := range info.Eventgroups {
		eg, ok := e.eventgroups[g]
		if !ok {
			eg = &EventgroupInfo{Service: info.Service, Instance: info.Instance, Eventgroup: g}
			e.eventgroups[g] = eg
		}
		if !containsEvent(eg.Events, info.Event) {
			eg.Events = append(eg.Events, info.Event)
		}
	}
	return info
}

// RegisterPlaceholder creates a cache-placeholder event record if (s, i, e)
// is not already known, returning the (possibly pre-existing) record.
func (r *Registry) RegisterPlaceholder(s someip.ServiceID, i someip.InstanceID, ev someip.EventID, g someip.EventgroupID) EventInfo {
	e := r.entry(s, i, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.events[ev]; ok {
		return *existing
	}
	info := EventInfo{
		Service:       s,
		Instance:      i,
		Event:         ev,
		Eventgroups:   []someip.EventgroupID{g},
		Type:          someip.EventTypeUnknown,
		IsPlaceholder: true,
	}
	e.events[ev] = &info

	eg, ok := e.eventgroups[g]
	if !ok {
		eg = &EventgroupInfo{Service: s, Instance: i, Eventgroup: g}
		e.eventgroups[g] = eg
	}
	eg.Events = append(eg.Events, ev)
	return info
}

// FindEvent returns the existence record for a single event.
func (r *Registry) FindEvent(s someip.ServiceID, i someip.InstanceID, ev someip.EventID) (EventInfo, bool) {
	e := r.entry(s, i, false)
	if e == nil {
		return EventInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.events[ev]
	if !ok {
		return EventInfo{}, false
	}
	return *info, true
}

// FindEventgroup returns the existence record for an eventgroup, including
// the member events known so far.
func (r *Registry) FindEventgroup(s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID) (EventgroupInfo, bool) {
	e := r.entry(s, i, false)
	if e == nil {
		return EventgroupInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	eg, ok := e.eventgroups[g]
	if !ok {
		return EventgroupInfo{}, false
	}
	cp := *eg
	cp.Events = append([]someip.EventID(nil), eg.Events...)
	return cp, true
}

func containsEvent(events []someip.EventID, target someip.EventID) bool {
	for _, ev := range events {
		if ev == target {
			return true
		}
	}
	return false
}

func mergeEventgroups(a, b []someip.EventgroupID) []someip.EventgroupID {
	seen := make(map[someip.EventgroupID]bool, len(a)+len(b))
	out := make([]someip.EventgroupID, 0, len(a)+len(b))
	for _, g := range append(append([]someip.EventgroupID{}, a...), b...) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}
