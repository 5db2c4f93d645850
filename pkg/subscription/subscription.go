package subscription

import (
	"sync"

	"github.com/cuemby/someip-core/pkg/eventstore"
	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/security"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/rs/zerolog"
)

// Engine is the SubscriptionEngine collaborator of spec.md 4.4: it owns the
// per-(client, service, instance, eventgroup, event) ack state machine and
// orchestrates registry placeholder creation, eventstore membership, and
// SecurityPolicy authorization. It does not store payloads or subscriber
// sets itself; those live in pkg/eventstore, kept consistent through the
// two packages' shared (service, instance, eventgroup) keys.
type Engine struct {
	mu sync.Mutex

	reg      *registry.Registry
	store    *eventstore.EventStore
	policy   security.Policy
	notifier StatusNotifier
	logger   zerolog.Logger

	subs map[key]*Subscription
}

// New creates a subscription Engine. notifier may be nil, in which case ack
// transitions are tracked but no SubscriptionStatus callback fires.
func New(reg *registry.Registry, store *eventstore.EventStore, policy security.Policy, notifier StatusNotifier) *Engine {
	if policy == nil {
		policy = security.AllowAllPolicy{}
	}
	return &Engine{
		reg:      reg,
		store:    store,
		policy:   policy,
		notifier: notifier,
		logger:   log.WithComponent("subscription"),
		subs:     make(map[key]*Subscription),
	}
}

// Subscribe implements spec.md 4.4's subscribe(): it authorizes the
// request, creates any placeholder events the registry does not know about
// yet, enqueues an initial-value notify for Field events, registers
// eventgroup membership in the event store, and records the subscription
// in the Subscribing ack state.
//
// When e is someip.AnyEvent, every event currently known to belong to g is
// authorized individually via AuthorizeMember; a denial for any one of
// them blocks the whole subscription, matching spec.md line 240, even
// under an audit-mode Policy (AuditPolicy.AuthorizeMember never softens).
func (eng *Engine) Subscribe(client someip.ClientID, sec security.Client, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, major someip.MajorVersion, e someip.EventID) error {
	if v := eng.policy.AuthorizeSubscribe(sec, s, i, g); !v.Allow {
		return ErrNotAuthorized
	}

	targets, groupKnown := eng.memberEvents(s, i, g, e)

	if e == someip.AnyEvent {
		for _, ev := range targets {
			if v := eng.policy.AuthorizeMember(sec, s, i, someip.MethodID(ev)); !v.Allow {
				return ErrNotAuthorized
			}
		}
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	eng.store.AddSubscriber(s, i, g, client)

	if e == someip.AnyEvent && !groupKnown {
		eng.reg.RegisterPlaceholder(s, i, someip.AnyEvent, g)
	}
	for _, ev := range targets {
		eng.ensureEvent(s, i, ev, g)
		eng.enqueueInitialValue(client, s, i, ev)
	}

	k := key{Client: client, Service: s, Instance: i, Eventgroup: g, Event: e}
	eng.subs[k] = &Subscription{
		Client:     client,
		Service:    s,
		Instance:   i,
		Eventgroup: g,
		Event:      e,
		Major:      major,
		State:      someip.AckSubscribing,
	}
	return nil
}

// Unsubscribe removes the tracked subscription for (client, s, i, g, e) and
// drops the client's eventstore membership in g once it has no remaining
// subscription to any event of g.
func (eng *Engine) Unsubscribe(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	delete(eng.subs, key{Client: client, Service: s, Instance: i, Eventgroup: g, Event: e})

	if !eng.hasRemainingSubscriptionLocked(client, s, i, g) {
		eng.store.RemoveSubscriber(s, i, g, client)
	}
}

// OnSubscriptionAck applies an ack or nack to a tracked subscription,
// flushing any notification cached during the Subscribing window and
// firing the StatusNotifier callback.
func (eng *Engine) OnSubscriptionAck(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID, ackErr error) error {
	eng.mu.Lock()
	k := key{Client: client, Service: s, Instance: i, Eventgroup: g, Event: e}
	sub, ok := eng.subs[k]
	if !ok {
		eng.mu.Unlock()
		return ErrUnknown
	}

	ev := ackEventAccepted
	if ackErr != nil {
		ev = ackEventRejected
	}
	next, err := nextAckState(sub.State, ev)
	if err != nil {
		eng.mu.Unlock()
		return err
	}
	sub.State = next

	targets, _ := eng.memberEvents(s, i, g, e)
	eng.mu.Unlock()

	log.WithClientID(log.WithEventgroup(eng.logger, uint16(s), uint16(i), uint16(g)), uint16(client)).Debug().
		Str("state", next.String()).Msg("subscription ack state transition")

	for _, ev := range targets {
		eng.store.FlushPending(client, s, i, ev)
	}

	if eng.notifier != nil {
		eng.notifier.NotifySubscriptionStatus(client, s, i, g, e, next, ackErr)
	}
	return nil
}

// RemoveSubscriptionsForClient drops every tracked subscription for client
// and its eventstore membership everywhere, used on disconnect.
func (eng *Engine) RemoveSubscriptionsForClient(client someip.ClientID) {
	eng.mu.Lock()
	for k := range eng.subs {
		if k.Client == client {
			delete(eng.subs, k)
		}
	}
	eng.mu.Unlock()

	eng.store.RemoveSubscriberEverywhere(client)
}

// State returns the current ack state of a tracked subscription.
func (eng *Engine) State(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID) (someip.AckState, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	sub, ok := eng.subs[key{Client: client, Service: s, Instance: i, Eventgroup: g, Event: e}]
	if !ok {
		return 0, false
	}
	return sub.State, true
}

// Snapshot returns every tracked subscription, for diagnostics
// (someip-routingd inspect --remote). Order is unspecified.
func (eng *Engine) Snapshot() []Subscription {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make([]Subscription, 0, len(eng.subs))
	for _, s := range eng.subs {
		out = append(out, *s)
	}
	return out
}

// memberEvents resolves the concrete event ids a subscribe/ack targets: a
// single-element slice for a specific event, or the eventgroup's currently
// known members for someip.AnyEvent. groupKnown reports whether the
// eventgroup had a registry record at all.
func (eng *Engine) memberEvents(s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID) (targets []someip.EventID, groupKnown bool) {
	if e != someip.AnyEvent {
		return []someip.EventID{e}, true
	}
	info, ok := eng.reg.FindEventgroup(s, i, g)
	if !ok {
		return nil, false
	}
	return info.Events, true
}

func (eng *Engine) ensureEvent(s someip.ServiceID, i someip.InstanceID, e someip.EventID, g someip.EventgroupID) {
	if _, ok := eng.reg.FindEvent(s, i, e); !ok {
		eng.reg.RegisterPlaceholder(s, i, e, g)
	}
}

func (eng *Engine) enqueueInitialValue(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID) {
	info, ok := eng.reg.FindEvent(s, i, e)
	if !ok || info.Type != someip.EventTypeField {
		return
	}
	value, ok := eng.store.FieldValue(s, i, e)
	if !ok {
		return
	}
	if _, err := eng.store.NotifyOne(client, s, i, e, value, false, true); err != nil {
		eng.logger.Warn().Err(err).Msg("failed to enqueue initial field value")
	}
}

func (eng *Engine) hasRemainingSubscriptionLocked(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID) bool {
	for k := range eng.subs {
		if k.Client == client && k.Service == s && k.Instance == i && k.Eventgroup == g {
			return true
		}
	}
	return false
}
