package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/someip-core/pkg/dispatch"
	"github.com/cuemby/someip-core/pkg/endpoint"
	"github.com/cuemby/someip-core/pkg/events"
	"github.com/cuemby/someip-core/pkg/eventstore"
	"github.com/cuemby/someip-core/pkg/ids"
	"github.com/cuemby/someip-core/pkg/metrics"
	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/security"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/someipconfig"
	"github.com/cuemby/someip-core/pkg/subscription"
	"github.com/cuemby/someip-core/pkg/wire"
	"github.com/rs/zerolog"
)

// CoreFacade is the public entry point of spec.md 4.6. Every collaborator
// is constructor-injected (spec.md 9's "global mutable state" redesign
// note): nothing here reaches for a package-level singleton.
type CoreFacade struct {
	cfg    someipconfig.Config
	router endpoint.Router
	policy security.Policy
	idPool *ids.Pool
	logger zerolog.Logger

	reg    *registry.Registry
	store  *eventstore.EventStore
	subs   *subscription.Engine
	disp   *dispatch.Dispatcher
	broker *events.Broker

	mu            sync.RWMutex
	appName       string
	clientID      someip.ClientID
	isRoutingHost bool
	state         State

	handlersMu           sync.RWMutex
	messageHandlers      map[messageKey][]MessageHandler
	availabilityHandlers []availabilityEntry
	stateHandlers        []StateHandler
	subStatusHandlers    []SubscriptionStatusHandler

	watchdogMu     sync.Mutex
	watchdogCancel chan struct{}
}

// NewCoreFacade wires Registry, EventStore, SubscriptionEngine, and
// Dispatcher against the supplied configuration and collaborators.
func NewCoreFacade(cfg someipconfig.Config, router endpoint.Router, sec security.Policy, idPool *ids.Pool, logger zerolog.Logger) (*CoreFacade, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: %w: config is nil", ErrInvalidArgument)
	}
	if router == nil {
		return nil, fmt.Errorf("core: %w: router is nil", ErrInvalidArgument)
	}
	if sec == nil {
		sec = security.AllowAllPolicy{}
	}

	f := &CoreFacade{
		cfg:             cfg,
		router:          router,
		policy:          sec,
		idPool:          idPool,
		logger:          logger,
		reg:             registry.New(),
		broker:          events.NewBroker(),
		messageHandlers: make(map[messageKey][]MessageHandler),
		clientID:        someip.IllegalClient,
	}
	f.disp = dispatch.New(cfg.MaxDispatchers(), cfg.MaxDispatchTime(), 0)
	f.store = eventstore.New(f.reg, cfg, nil, f)
	f.subs = subscription.New(f.reg, f.store, sec, f)

	router.OnMessage(f.onRawFrame)
	return f, nil
}

// Init allocates this app's ClientId (adopting the routing-host role if it
// is the first attacher on the network). The facade's frame handler is
// already registered with the EndpointRouter by NewCoreFacade. name
// identifies the app to the id pool.
func (f *CoreFacade) Init(name string) (someip.ClientID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idPool == nil {
		return someip.IllegalClient, fmt.Errorf("core: init: %w: no id pool configured", ErrInvalidArgument)
	}
	id, isHost, err := f.idPool.Attach(someip.IllegalClient, name)
	if err != nil {
		if errors.Is(err, ids.ErrPoolExhausted) {
			metrics.ClientIDPoolExhaustedTotal.Inc()
			return someip.IllegalClient, fmt.Errorf("core: init: %w", ErrPoolExhausted)
		}
		return someip.IllegalClient, fmt.Errorf("core: init: %w", ErrIoError)
	}
	metrics.ClientIDsInUse.Set(float64(f.idPool.InUse()))

	f.appName = name
	f.clientID = id
	f.isRoutingHost = isHost
	return id, nil
}

// Start spawns the dispatcher's base worker, the event store's timer
// wheel, the lifecycle event broker, and the endpoint router's own I/O
// loop, then transitions to Registered.
func (f *CoreFacade) Start() error {
	f.disp.Start()
	f.store.StartTimerWheel(0)
	f.broker.Start()
	if err := f.router.Start(); err != nil {
		return fmt.Errorf("core: start: %w", ErrIoError)
	}
	f.setState(StateRegistered)
	return nil
}

// Stop cancels the watchdog, stops the event store's timer wheel (flushing
// nothing further is scheduled after this point), stops the dispatcher,
// stops the router, releases this app's ClientId, and transitions to
// Deregistered.
func (f *CoreFacade) Stop() error {
	f.ClearWatchdog()
	f.store.Stop()
	if err := f.disp.Stop(); err != nil {
		f.logger.Warn().Err(err).Msg("dispatcher stop returned an error")
	}
	if err := f.router.Stop(); err != nil {
		f.logger.Warn().Err(err).Msg("router stop returned an error")
	}

	f.mu.Lock()
	id := f.clientID
	f.mu.Unlock()
	if f.idPool != nil && id != someip.IllegalClient {
		if err := f.idPool.Release(id); err != nil {
			f.logger.Warn().Err(err).Msg("failed to release client id")
		}
		metrics.ClientIDsInUse.Set(float64(f.idPool.InUse()))
	}

	f.setState(StateDeregistered)
	f.broker.Stop()
	return nil
}

func (f *CoreFacade) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()

	f.handlersMu.RLock()
	handlers := append([]StateHandler(nil), f.stateHandlers...)
	f.handlersMu.RUnlock()

	kind := events.KindStateRegistered
	if s == StateDeregistered {
		kind = events.KindStateDeregistered
	}
	f.broker.Publish(&events.Event{Kind: kind, ClientID: uint16(f.ClientID())})

	if err := f.disp.EnqueueState(func() {
		for _, h := range handlers {
			h(s)
		}
	}); err != nil {
		f.logger.Warn().Err(err).Msg("failed to enqueue state handler invocation")
	}
}

// ClientID returns this app's allocated client id, or someip.IllegalClient
// before Init.
func (f *CoreFacade) ClientID() someip.ClientID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clientID
}

// State returns the facade's current lifecycle state.
func (f *CoreFacade) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// OfferService delegates to Registry and, on success, schedules an
// Available availability callback to every registered handler whose
// (service, instance) filter matches.
func (f *CoreFacade) OfferService(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	if v := f.policy.AuthorizeOffer(security.Client{ClientID: client}, s, i); !v.Allow {
		return ErrNotAuthorized
	}
	if err := f.reg.Offer(client, s, i, major, minor); err != nil {
		return mapRegistryErr(err)
	}
	metrics.ServicesTotal.Inc()
	f.emitAvailability(s, i, Available)
	return nil
}

// StopOfferService delegates to Registry, clears the retained payload cell
// of every event the service carried, and schedules an Unavailable
// availability callback.
func (f *CoreFacade) StopOfferService(client someip.ClientID, s someip.ServiceID, i someip.InstanceID) error {
	eventIDs, err := f.reg.StopOffer(client, s, i)
	if err != nil {
		return mapRegistryErr(err)
	}
	for _, e := range eventIDs {
		f.store.StopOfferEvent(s, i, e)
	}
	metrics.ServicesTotal.Dec()
	f.emitAvailability(s, i, Unavailable)
	return nil
}

// RequestService delegates to Registry; if (s, i) is already available, an
// Available callback is scheduled immediately so the requester does not
// need to poll.
func (f *CoreFacade) RequestService(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	if v := f.policy.AuthorizeRequest(security.Client{ClientID: client}, s, i); !v.Allow {
		return ErrNotAuthorized
	}
	if err := f.reg.Request(client, s, i, major, minor); err != nil {
		return mapRegistryErr(err)
	}
	if f.reg.IsAvailable(s, i, major, minor) {
		f.emitAvailability(s, i, Available)
	}
	return nil
}

// ReleaseService delegates to Registry.
func (f *CoreFacade) ReleaseService(client someip.ClientID, s someip.ServiceID, i someip.InstanceID) error {
	if err := f.reg.Release(client, s, i); err != nil {
		return mapRegistryErr(err)
	}
	return nil
}

func (f *CoreFacade) emitAvailability(s someip.ServiceID, i someip.InstanceID, status AvailabilityStatus) {
	f.handlersMu.RLock()
	matched := make([]AvailabilityHandler, 0, len(f.availabilityHandlers))
	for _, e := range f.availabilityHandlers {
		if e.matches(s, i) {
			matched = append(matched, e.handler)
		}
	}
	f.handlersMu.RUnlock()

	kind := events.KindServiceAvailable
	if status == Unavailable {
		kind = events.KindServiceUnavailable
	}
	f.broker.Publish(&events.Event{Kind: kind, ServiceID: uint16(s), InstanceID: uint16(i)})

	if err := f.disp.EnqueueAvailability(s, i, func() {
		for _, h := range matched {
			h(s, i, status)
		}
	}); err != nil {
		f.logger.Warn().Err(err).Msg("failed to enqueue availability handler invocation")
	}
}

// RegisterEvent delegates to EventStore.
func (f *CoreFacade) RegisterEvent(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID,
	eventgroups []someip.EventgroupID, typ someip.EventType, reliability someip.Reliability,
	cycleMs int64, changeResetsCycle bool, updateOnChange bool, isProvided bool) error {
	if err := f.store.RegisterEvent(client, s, i, e, eventgroups, typ, reliability, cycleMs, changeResetsCycle, updateOnChange, nil, isProvided); err != nil {
		return fmt.Errorf("core: register event: %w", ErrEventUnknown)
	}
	metrics.EventsTotal.WithLabelValues(eventTypeLabel(typ)).Inc()
	return nil
}

// StopOfferEvent delegates to EventStore.
func (f *CoreFacade) StopOfferEvent(s someip.ServiceID, i someip.InstanceID, e someip.EventID) {
	f.store.StopOfferEvent(s, i, e)
}

// Subscribe delegates to SubscriptionEngine.
func (f *CoreFacade) Subscribe(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, major someip.MajorVersion, e someip.EventID) error {
	sec := security.Client{ClientID: client}
	if err := f.subs.Subscribe(client, sec, s, i, g, major, e); err != nil {
		if errors.Is(err, subscription.ErrNotAuthorized) {
			return ErrNotAuthorized
		}
		return err
	}
	metrics.SubscriptionsTotal.Inc()
	return nil
}

// Unsubscribe delegates to SubscriptionEngine.
func (f *CoreFacade) Unsubscribe(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID) {
	f.subs.Unsubscribe(client, s, i, g, e)
	metrics.SubscriptionsTotal.Dec()
}

// Notify delegates to EventStore's broadcast publish path.
func (f *CoreFacade) Notify(s someip.ServiceID, i someip.InstanceID, e someip.EventID, payload []byte, force bool) (bool, error) {
	forwarded, err := f.store.SetPayload(s, i, e, payload, force)
	if err != nil {
		return false, fmt.Errorf("core: notify: %w", ErrEventUnknown)
	}
	return forwarded, nil
}

// NotifyOne delegates to EventStore's single-subscriber publish path.
func (f *CoreFacade) NotifyOne(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, e someip.EventID, payload []byte, force bool) (bool, error) {
	forwarded, err := f.store.NotifyOne(client, s, i, e, payload, force, false)
	if err != nil {
		return false, fmt.Errorf("core: notify_one: %w", ErrEventUnknown)
	}
	return forwarded, nil
}

// Send serializes msg and hands it to the EndpointRouter. For requests
// (and any message with no explicit client/session), the facade's own
// ClientId and the next monotonic SessionID are stamped in first, matching
// spec.md's send(msg, force) control flow. The target connection is the
// service's current provider, looked up in the Registry.
func (f *CoreFacade) Send(msg Message, force bool) (bool, error) {
	if msg.Client == someip.IllegalClient {
		msg.Client = f.ClientID()
	}
	if msg.Session == 0 && f.cfg.HasSessionHandling() {
		msg.Session = f.disp.NextSessionID(f.appName)
	}

	target := msg.Client
	if msg.Type == wire.MessageTypeRequest || msg.Type == wire.MessageTypeRequestNoReturn {
		info, ok := f.reg.FindService(msg.Service, msg.Instance)
		if !ok || info.Provider == someip.IllegalClient {
			if !force {
				return false, fmt.Errorf("core: send: %w", ErrServiceUnknown)
			}
		} else {
			target = info.Provider
		}
	}

	traceID := wire.NewTraceID()
	f.logger.Debug().Str("trace_id", traceID).
		Uint16("service_id", uint16(msg.Service)).Uint16("instance_id", uint16(msg.Instance)).
		Uint16("method_id", uint16(msg.Method)).Uint16("target_client_id", uint16(target)).
		Msg("sending frame")

	frame := wire.Encode(wire.Header{
		ServiceID:     uint16(msg.Service),
		MethodOrEvent: uint16(msg.Method),
		ClientID:      uint16(msg.Client),
		SessionID:     uint16(msg.Session),
		ProtocolVer:   wire.ProtocolVersion,
		InterfaceVer:  msg.MajorVer,
		MessageType:   msg.Type,
		ReturnCode:    msg.ReturnCode,
	}, msg.Payload)

	if err := f.router.Send(target, frame); err != nil {
		return false, fmt.Errorf("core: send: %w: %v", ErrIoError, err)
	}
	return true, nil
}

// onRawFrame is registered with the EndpointRouter: it decodes the wire
// frame and schedules a Message-kind dispatcher item for whichever message
// handlers match (service, instance, method).
func (f *CoreFacade) onRawFrame(client someip.ClientID, frame []byte) {
	h, payload, err := wire.Decode(frame)
	if err != nil {
		f.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	msg := Message{
		Service:    someip.ServiceID(h.ServiceID),
		Instance:   0,
		Method:     someip.MethodID(h.MethodID()),
		Client:     client,
		Session:    someip.SessionID(h.SessionID),
		Type:       h.MessageType,
		ReturnCode: h.ReturnCode,
		MajorVer:   h.InterfaceVer,
		Payload:    payload,
	}
	if h.IsEvent() {
		msg.Method = someip.MethodID(h.EventID())
	}

	f.handlersMu.RLock()
	handlers := append([]MessageHandler(nil), f.messageHandlers[messageKey{Service: msg.Service, Instance: msg.Instance, Method: msg.Method}]...)
	f.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	neverDrop := h.IsEvent()
	if err := f.disp.EnqueueMessage(msg.Service, msg.Instance, neverDrop, func() {
		for _, handler := range handlers {
			handler(msg)
		}
	}); err != nil {
		f.logger.Warn().Err(err).Str("reason", err.Error()).Msg("dropped inbound message")
	}
}

// Forward implements eventstore.Forwarder: EventStore calls this from
// inside its own lock-free decision path, and the facade schedules the
// actual handler invocation onto the Dispatcher so user code never runs
// under an EventStore lock.
func (f *CoreFacade) Forward(key eventstore.EventKey, recipients []someip.ClientID, payload []byte) {
	f.handlersMu.RLock()
	handlers := append([]MessageHandler(nil), f.messageHandlers[messageKey{Service: key.Service, Instance: key.Instance, Method: someip.MethodID(key.Event)}]...)
	f.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	for _, recipient := range recipients {
		msg := Message{
			Service:    key.Service,
			Instance:   key.Instance,
			Method:     someip.MethodID(key.Event),
			Client:     recipient,
			Type:       wire.MessageTypeNotification,
			ReturnCode: wire.ReturnCodeOK,
			Payload:    payload,
		}
		if err := f.disp.EnqueueMessage(key.Service, key.Instance, true, func() {
			for _, handler := range handlers {
				handler(msg)
			}
		}); err != nil {
			f.logger.Warn().Err(err).Msg("dropped notification forward")
		}
	}
}

// NotifySubscriptionStatus implements subscription.StatusNotifier.
func (f *CoreFacade) NotifySubscriptionStatus(client someip.ClientID, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID, e someip.EventID, state someip.AckState, ackErr error) {
	f.handlersMu.RLock()
	handlers := append([]SubscriptionStatusHandler(nil), f.subStatusHandlers...)
	f.handlersMu.RUnlock()

	f.broker.Publish(&events.Event{
		Kind: events.KindSubscriptionStatus, ServiceID: uint16(s), InstanceID: uint16(i),
		EventgroupID: uint16(g), ClientID: uint16(client),
	})

	if err := f.disp.EnqueueSubscription(func() {
		for _, h := range handlers {
			h(client, s, i, g, e, state, ackErr)
		}
	}); err != nil {
		f.logger.Warn().Err(err).Msg("failed to enqueue subscription status handler invocation")
	}
}

// RegisterMessageHandler inserts handler into the ordered list kept for
// (s, i, m) per typ's Replace/Append/Prepend semantics.
func (f *CoreFacade) RegisterMessageHandler(s someip.ServiceID, i someip.InstanceID, m someip.MethodID, handler MessageHandler, typ HandlerRegistrationType) {
	key := messageKey{Service: s, Instance: i, Method: m}
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	switch typ {
	case Replace:
		f.messageHandlers[key] = []MessageHandler{handler}
	case Prepend:
		f.messageHandlers[key] = append([]MessageHandler{handler}, f.messageHandlers[key]...)
	default: // Append
		f.messageHandlers[key] = append(f.messageHandlers[key], handler)
	}
}

// RegisterAvailabilityHandler registers handler for every availability
// transition matching the (s, i) pattern, which may use
// someip.AnyService/someip.AnyInstance wildcards.
func (f *CoreFacade) RegisterAvailabilityHandler(s someip.ServiceID, i someip.InstanceID, handler AvailabilityHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.availabilityHandlers = append(f.availabilityHandlers, availabilityEntry{service: s, instance: i, handler: handler})
}

// RegisterStateHandler registers handler for this app's own lifecycle
// transitions.
func (f *CoreFacade) RegisterStateHandler(handler StateHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.stateHandlers = append(f.stateHandlers, handler)
}

// RegisterSubscriptionStatusHandler registers handler for every ack/nack
// outcome this facade's SubscriptionEngine produces.
func (f *CoreFacade) RegisterSubscriptionStatusHandler(handler SubscriptionStatusHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.subStatusHandlers = append(f.subStatusHandlers, handler)
}

// SetWatchdogHandler schedules handler as a periodic Watchdog-kind
// dispatcher item every interval, canceling any previously scheduled
// watchdog first. Passing a nil handler only clears the existing one.
func (f *CoreFacade) SetWatchdogHandler(handler WatchdogHandler, interval time.Duration) {
	f.ClearWatchdog()
	if handler == nil || interval <= 0 {
		return
	}

	f.watchdogMu.Lock()
	stop := make(chan struct{})
	f.watchdogCancel = stop
	f.watchdogMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := f.disp.EnqueueWatchdog(func() {
					f.broker.Publish(&events.Event{Kind: events.KindWatchdogTick})
					handler()
				}); err != nil {
					f.logger.Warn().Err(err).Msg("failed to enqueue watchdog tick")
				}
			case <-stop:
				return
			}
		}
	}()
}

// ClearWatchdog cancels the periodic watchdog handler, if one is set.
// Idempotent.
func (f *CoreFacade) ClearWatchdog() {
	f.watchdogMu.Lock()
	defer f.watchdogMu.Unlock()
	if f.watchdogCancel != nil {
		close(f.watchdogCancel)
		f.watchdogCancel = nil
	}
}

// Snapshot returns the current registry and subscription state, served by
// the admin RPC that `someip-routingd inspect --remote` calls. It takes no locks of its own
// beyond what Registry.Snapshot and Engine.Snapshot already hold.
func (f *CoreFacade) Snapshot() (services []registry.ServiceInfo, subs []subscription.Subscription) {
	return f.reg.Snapshot(), f.subs.Snapshot()
}

func mapRegistryErr(err error) error {
	switch {
	case errors.Is(err, registry.ErrAlreadyOffered):
		return ErrAlreadyOffered
	case errors.Is(err, registry.ErrVersionMismatch):
		return ErrVersionMismatch
	case errors.Is(err, registry.ErrServiceUnknown):
		return ErrServiceUnknown
	case errors.Is(err, registry.ErrNotAuthorized):
		return ErrNotAuthorized
	default:
		return err
	}
}

func eventTypeLabel(t someip.EventType) string {
	switch t {
	case someip.EventTypeEvent:
		return "event"
	case someip.EventTypeField:
		return "field"
	case someip.EventTypeSelective:
		return "selective"
	default:
		return "unknown"
	}
}
