package eventstore

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/metrics"
	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/someipconfig"
	"github.com/rs/zerolog"
)

// ErrEventUnknown is returned by set_payload/notify_one for an event with
// no existence record at all (not even a placeholder).
var ErrEventUnknown = errors.New("eventstore: event unknown")

// EventStore owns per-event payloads and eventgroup subscriber sets and
// implements the publish path described in spec.md 4.3.
type EventStore struct {
	mu sync.RWMutex

	reg       *registry.Registry
	cfg       someipconfig.Config
	clock     Clock
	forwarder Forwarder
	logger    zerolog.Logger

	events      map[EventKey]*eventRecord
	subscribers map[groupKey]map[someip.ClientID]bool
	pending     map[pendingKey][]byte

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an EventStore. clock may be nil, in which case RealClock is
// used. The send-current-value-after timer wheel is started separately by
// StartTimerWheel.
func New(reg *registry.Registry, cfg someipconfig.Config, clock Clock, forwarder Forwarder) *EventStore {
	if clock == nil {
		clock = RealClock
	}
	return &EventStore{
		reg:         reg,
		cfg:         cfg,
		clock:       clock,
		forwarder:   forwarder,
		logger:      log.WithComponent("eventstore"),
		events:      make(map[EventKey]*eventRecord),
		subscribers: make(map[groupKey]map[someip.ClientID]bool),
		pending:     make(map[pendingKey][]byte),
		stopCh:      make(chan struct{}),
	}
}

// RegisterEvent creates or upgrades-from-placeholder the event record for
// (s, i, e). debounce may be nil, in which case someipconfig's per-event
// debounce entry is used if present, else debouncing is disabled.
func (es *EventStore) RegisterEvent(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID,
	eventgroups []someip.EventgroupID, typ someip.EventType, reliability someip.Reliability,
	cycleMs int64, changeResetsCycle bool, updateOnChange bool, debounce *DebounceFilter, isProvided bool) error {

	key := EventKey{Service: s, Instance: i, Event: e}

	info := registry.EventInfo{
		Service:           s,
		Instance:          i,
		Event:             e,
		Eventgroups:       eventgroups,
		Type:              typ,
		Reliability:       reliability,
		CycleMs:           cycleMs,
		ChangeResetsCycle: changeResetsCycle,
		UpdateOnChange:    updateOnChange,
		IsProvided:        isProvided,
	}
	stored := es.reg.UpsertEvent(info)

	// A zero interval lets every update through: debouncing disabled.
	filter := DebounceFilter{IntervalMs: 0}
	if debounce != nil {
		filter = *debounce
	} else if cfgFilter, ok := es.cfg.Debounce(someipconfig.EventKey{Service: s, Instance: i, Event: e}); ok {
		filter = DebounceFilter{
			OnChange:               cfgFilter.OnChange,
			OnChangeResetsInterval: cfgFilter.OnChangeResetsInterval,
			IntervalMs:             cfgFilter.IntervalMs,
			Ignore:                 cfgFilter.Ignore,
			SendCurrentValueAfter:  cfgFilter.SendCurrentValueAfter,
		}
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	rec, exists := es.events[key]
	if !exists {
		rec = &eventRecord{key: key}
		es.events[key] = rec
	}
	rec.mu.Lock()
	rec.eventgroups = stored.Eventgroups
	rec.eventType = typ
	rec.debounce = filter
	rec.mu.Unlock()

	return nil
}

// StopOfferEvent clears an event's retained payload cell when its provider
// withdraws, without touching subscriber membership: a later register_event
// for the same (s, i, e) starts from a clean cell, but subscribers placed by
// the registry's placeholder path stay in place for the next provider.
func (es *EventStore) StopOfferEvent(s someip.ServiceID, i someip.InstanceID, e someip.EventID) {
	rec := es.lookup(EventKey{Service: s, Instance: i, Event: e})
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.cell = payloadCell{}
	rec.pendingUpdate = false
	rec.deliveredOnce = false
	rec.mu.Unlock()
}

// SetPayload runs the debounce decision for a broadcast update and forwards
// it to every subscriber of the event's eventgroups when it passes.
func (es *EventStore) SetPayload(s someip.ServiceID, i someip.InstanceID, e someip.EventID, payload []byte, force bool) (bool, error) {
	key := EventKey{Service: s, Instance: i, Event: e}
	rec := es.lookup(key)
	if rec == nil {
		return false, ErrEventUnknown
	}

	rec.mu.Lock()
	now := es.clock.Now()
	forward := force
	changed := true
	if !force {
		forward, changed, rec.state = rec.debounce.evaluate(rec.cell.last, payload, now, rec.state)
	} else {
		rec.state.lastForwarded = now
		rec.state.everForwarded = true
	}
	rec.cell.last = payload
	rec.cell.fresh = true
	if rec.eventType == someip.EventTypeField {
		rec.cell.fieldValue = payload
	}
	if rec.debounce.SendCurrentValueAfter && changed {
		rec.pendingUpdate = true
	}
	eventgroups := append([]someip.EventgroupID(nil), rec.eventgroups...)
	rec.mu.Unlock()

	recipients := es.subscribersOfEventgroups(s, i, eventgroups)
	if forward {
		metrics.NotificationsForwardedTotal.Inc()
		if es.forwarder != nil {
			es.forwarder.Forward(key, recipients, payload)
		}
	} else {
		metrics.NotificationsSuppressedTotal.Inc()
	}
	return forward, nil
}

// NotifyOne runs the same debounce decision as SetPayload but targets a
// single subscriber. If subscribing is true the client's subscription is
// still pending acknowledgement, so the notification is cached instead of
// delivered; SubscriptionEngine flushes it via FlushPending on ack.
func (es *EventStore) NotifyOne(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID, payload []byte, force bool, subscribing bool) (bool, error) {
	key := EventKey{Service: s, Instance: i, Event: e}
	rec := es.lookup(key)
	if rec == nil {
		return false, ErrEventUnknown
	}

	if subscribing {
		es.mu.Lock()
		es.pending[pendingKey{Client: client, EventKey: key}] = payload
		es.mu.Unlock()
		return false, nil
	}

	rec.mu.Lock()
	now := es.clock.Now()
	forward := force
	if !force {
		forward, _, rec.state = rec.debounce.evaluate(rec.cell.last, payload, now, rec.state)
	} else {
		rec.state.lastForwarded = now
		rec.state.everForwarded = true
	}
	rec.cell.last = payload
	rec.cell.fresh = true
	rec.mu.Unlock()

	if forward {
		metrics.NotificationsForwardedTotal.Inc()
		if es.forwarder != nil {
			es.forwarder.Forward(key, []someip.ClientID{client}, payload)
		}
	} else {
		metrics.NotificationsSuppressedTotal.Inc()
	}
	return forward, nil
}

// FlushPending delivers and clears any notification cached for client on
// (s, i, e) while its subscription was still pending acknowledgement.
func (es *EventStore) FlushPending(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID) bool {
	key := pendingKey{Client: client, EventKey: EventKey{Service: s, Instance: i, Event: e}}

	es.mu.Lock()
	payload, ok := es.pending[key]
	if ok {
		delete(es.pending, key)
	}
	es.mu.Unlock()

	if !ok {
		return false
	}
	if es.forwarder != nil {
		es.forwarder.Forward(key.EventKey, []someip.ClientID{client}, payload)
	}
	return true
}

// Subscribers returns the current subscriber set for eventgroup g of (s,i).
func (es *EventStore) Subscribers(s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID) []someip.ClientID {
	es.mu.RLock()
	defer es.mu.RUnlock()
	set := es.subscribers[groupKey{Service: s, Instance: i, Eventgroup: g}]
	out := make([]someip.ClientID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// AddSubscriber adds client to eventgroup g's subscriber set; used by
// pkg/subscription when a subscribe() call succeeds.
func (es *EventStore) AddSubscriber(s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, client someip.ClientID) {
	es.mu.Lock()
	defer es.mu.Unlock()
	key := groupKey{Service: s, Instance: i, Eventgroup: g}
	set, ok := es.subscribers[key]
	if !ok {
		set = make(map[someip.ClientID]bool)
		es.subscribers[key] = set
	}
	set[client] = true
}

// RemoveSubscriber removes client from eventgroup g's subscriber set.
func (es *EventStore) RemoveSubscriber(s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, client someip.ClientID) {
	es.mu.Lock()
	defer es.mu.Unlock()
	key := groupKey{Service: s, Instance: i, Eventgroup: g}
	if set, ok := es.subscribers[key]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(es.subscribers, key)
		}
	}
}

// RemoveSubscriberEverywhere drops client from every eventgroup it
// subscribes to, for remove_subscriptions_for_client on disconnect.
func (es *EventStore) RemoveSubscriberEverywhere(client someip.ClientID) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for key, set := range es.subscribers {
		delete(set, client)
		if len(set) == 0 {
			delete(es.subscribers, key)
		}
	}
	for key := range es.pending {
		if key.Client == client {
			delete(es.pending, key)
		}
	}
}

// FieldValue returns the retained current value of a Field event, for
// delivering an initial-value notify on subscribe.
func (es *EventStore) FieldValue(s someip.ServiceID, i someip.InstanceID, e someip.EventID) ([]byte, bool) {
	rec := es.lookup(EventKey{Service: s, Instance: i, Event: e})
	if rec == nil {
		return nil, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.cell.fieldValue == nil {
		return nil, false
	}
	return rec.cell.fieldValue, true
}

func (es *EventStore) lookup(key EventKey) *eventRecord {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.events[key]
}

func (es *EventStore) subscribersOfEventgroups(s someip.ServiceID, i someip.InstanceID, groups []someip.EventgroupID) []someip.ClientID {
	es.mu.RLock()
	defer es.mu.RUnlock()
	seen := make(map[someip.ClientID]bool)
	for _, g := range groups {
		for c := range es.subscribers[groupKey{Service: s, Instance: i, Eventgroup: g}] {
			seen[c] = true
		}
	}
	out := make([]someip.ClientID, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// StartTimerWheel launches the background goroutine that drives
// send-current-value-after redelivery, ticking every interval. One
// goroutine per store bounds the goroutine count the way the dispatcher
// pool bounds worker count, rather than one timer per subscription.
func (es *EventStore) StartTimerWheel(interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	es.wg.Add(1)
	go es.runTimerWheel(interval)
}

// Stop halts the timer wheel goroutine.
func (es *EventStore) Stop() {
	close(es.stopCh)
	es.wg.Wait()
}

func (es *EventStore) runTimerWheel(interval time.Duration) {
	defer es.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			es.scanDue()
		case <-es.stopCh:
			return
		}
	}
}

func (es *EventStore) scanDue() {
	now := es.clock.Now()

	es.mu.RLock()
	due := make([]*eventRecord, 0)
	for _, rec := range es.events {
		rec.mu.Lock()
		if rec.debounce.SendCurrentValueAfter && rec.debounce.IntervalMs > 0 && !now.Before(rec.nextWheelDueAt) {
			due = append(due, rec)
		}
		rec.mu.Unlock()
	}
	es.mu.RUnlock()

	for _, rec := range due {
		es.deliverDue(rec, now)
	}
}

func (es *EventStore) deliverDue(rec *eventRecord, now time.Time) {
	rec.mu.Lock()
	interval := time.Duration(rec.debounce.IntervalMs) * time.Millisecond
	rec.nextWheelDueAt = now.Add(interval)

	var payload []byte
	var shouldDeliver bool
	switch {
	case rec.pendingUpdate:
		payload = rec.cell.last
		shouldDeliver = true
		rec.pendingUpdate = false
		rec.deliveredOnce = false
	case !rec.deliveredOnce && rec.cell.fresh:
		payload = rec.cell.last
		shouldDeliver = true
		rec.deliveredOnce = true
	}
	key := rec.key
	groups := append([]someip.EventgroupID(nil), rec.eventgroups...)
	rec.mu.Unlock()

	if !shouldDeliver {
		return
	}
	recipients := es.subscribersOfEventgroups(key.Service, key.Instance, groups)
	if len(recipients) == 0 {
		return
	}
	metrics.DebounceIntervalFlushesTotal.Inc()
	if es.forwarder != nil {
		es.forwarder.Forward(key, recipients, payload)
	}
}
