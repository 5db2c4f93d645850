package core

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/someip-core/pkg/endpoint"
	"github.com/cuemby/someip-core/pkg/ids"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/someipconfig"
	"github.com/cuemby/someip-core/pkg/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu          sync.Mutex
	used        map[someip.ClientID]string
	routingHost someip.ClientID
	hasHost     bool
}

func newMemStore() *memStore { return &memStore{used: make(map[someip.ClientID]string)} }

func (s *memStore) Load() (map[someip.ClientID]string, someip.ClientID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[someip.ClientID]string, len(s.used))
	for k, v := range s.used {
		cp[k] = v
	}
	return cp, s.routingHost, s.hasHost, nil
}

func (s *memStore) Put(id someip.ClientID, app string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[id] = app
	return nil
}

func (s *memStore) Delete(id someip.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.used, id)
	return nil
}

func (s *memStore) SetRoutingHost(id someip.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routingHost = id
	s.hasHost = true
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = make(map[someip.ClientID]string)
	s.hasHost = false
	return nil
}

func (s *memStore) Close() error { return nil }

func testConfig(t *testing.T) someipconfig.Config {
	t.Helper()
	cfg, err := someipconfig.ParseYAML([]byte(""))
	require.NoError(t, err)
	return cfg
}

func newTestFacade(t *testing.T) (*CoreFacade, endpoint.Router) {
	t.Helper()
	router := endpoint.NewLoopbackRouter(0)
	pool := ids.NewPool("test-net", 0x10, 0xff00, newMemStore())
	f, err := NewCoreFacade(testConfig(t), router, nil, pool, zerolog.Nop())
	require.NoError(t, err)
	_, err = f.Init("test-app")
	require.NoError(t, err)
	require.NoError(t, f.Start())
	t.Cleanup(func() { f.Stop() })
	return f, router
}

func TestInitAllocatesRoutingHostClientID(t *testing.T) {
	f, _ := newTestFacade(t)
	assert.NotEqual(t, someip.IllegalClient, f.ClientID())
	assert.Equal(t, StateRegistered, f.State())
}

func TestOfferServiceEmitsAvailabilityCallback(t *testing.T) {
	f, _ := newTestFacade(t)

	received := make(chan AvailabilityStatus, 1)
	f.RegisterAvailabilityHandler(someip.AnyService, someip.AnyInstance, func(s someip.ServiceID, i someip.InstanceID, status AvailabilityStatus) {
		received <- status
	})

	require.NoError(t, f.OfferService(1, 0x1234, 0x0001, 1, 0))

	select {
	case status := <-received:
		assert.Equal(t, Available, status)
	case <-time.After(time.Second):
		t.Fatal("availability handler never invoked")
	}
}

func TestStopOfferServiceEmitsUnavailableAndClearsEventPayload(t *testing.T) {
	f, _ := newTestFacade(t)

	require.NoError(t, f.OfferService(1, 0x1234, 0x0001, 1, 0))
	require.NoError(t, f.RegisterEvent(1, 0x1234, 0x0001, 0x8001, []someip.EventgroupID{1}, someip.EventTypeField, someip.ReliabilityReliable, 0, false, false, true))
	_, err := f.Notify(0x1234, 0x0001, 0x8001, []byte{0xAA}, true)
	require.NoError(t, err)

	received := make(chan AvailabilityStatus, 1)
	f.RegisterAvailabilityHandler(0x1234, 0x0001, func(s someip.ServiceID, i someip.InstanceID, status AvailabilityStatus) {
		received <- status
	})

	require.NoError(t, f.StopOfferService(1, 0x1234, 0x0001))

	select {
	case status := <-received:
		assert.Equal(t, Unavailable, status)
	case <-time.After(time.Second):
		t.Fatal("availability handler never invoked")
	}
	_, ok := f.store.FieldValue(0x1234, 0x0001, 0x8001)
	assert.False(t, ok)
}

func TestOfferServiceByDifferentClientFails(t *testing.T) {
	f, _ := newTestFacade(t)
	require.NoError(t, f.OfferService(1, 0x1234, 0x0001, 1, 0))
	err := f.OfferService(2, 0x1234, 0x0001, 1, 0)
	assert.ErrorIs(t, err, ErrAlreadyOffered)
}

func TestSubscribeAndNotifyDeliversToMessageHandler(t *testing.T) {
	f, _ := newTestFacade(t)

	require.NoError(t, f.RegisterEvent(1, 0x1234, 0x0001, 0x8001, []someip.EventgroupID{0xA}, someip.EventTypeEvent, someip.ReliabilityUnreliable, 0, false, false, true))

	received := make(chan Message, 1)
	f.RegisterMessageHandler(0x1234, 0x0001, someip.MethodID(0x8001), func(m Message) {
		received <- m
	}, Replace)

	require.NoError(t, f.Subscribe(0x0002, 0x1234, 0x0001, 0xA, someip.AnyMajor, 0x8001))
	require.NoError(t, f.subs.OnSubscriptionAck(0x0002, 0x1234, 0x0001, 0xA, 0x8001, nil))

	_, err := f.Notify(0x1234, 0x0001, 0x8001, []byte{0x01, 0x02, 0x03}, true)
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, msg.Payload)
		assert.Equal(t, someip.ClientID(0x0002), msg.Client)
	case <-time.After(time.Second):
		t.Fatal("message handler never invoked")
	}
}

func TestSendEncodesAndTransmitsThroughRouter(t *testing.T) {
	f, router := newTestFacade(t)

	received := make(chan someip.ClientID, 1)
	router.OnMessage(func(client someip.ClientID, frame []byte) {
		received <- client
	})

	require.NoError(t, f.OfferService(0x0009, 0x1234, 0x0001, 1, 0))

	ok, err := f.Send(Message{
		Service: 0x1234, Instance: 0x0001, Method: 0x0001,
		Type: wire.MessageTypeRequest, Payload: []byte{0xAA},
	}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case client := <-received:
		assert.Equal(t, someip.ClientID(0x0009), client)
	case <-time.After(time.Second):
		t.Fatal("router never received the frame")
	}
}

func TestSendToUnavailableServiceWithoutForceFails(t *testing.T) {
	f, _ := newTestFacade(t)
	ok, err := f.Send(Message{Service: 0x9999, Instance: 1, Method: 1, Type: wire.MessageTypeRequest}, false)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrServiceUnknown)
}

func TestWatchdogFiresPeriodically(t *testing.T) {
	f, _ := newTestFacade(t)

	ticks := make(chan struct{}, 4)
	f.SetWatchdogHandler(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}, 10*time.Millisecond)

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	f.ClearWatchdog()
}

func TestStopReleasesClientID(t *testing.T) {
	router := endpoint.NewLoopbackRouter(0)
	pool := ids.NewPool("test-net-2", 0x20, 0xff00, newMemStore())
	f, err := NewCoreFacade(testConfig(t), router, nil, pool, zerolog.Nop())
	require.NoError(t, err)
	_, err = f.Init("app")
	require.NoError(t, err)
	require.NoError(t, f.Start())

	id := f.ClientID()
	require.NoError(t, f.Stop())

	assert.Equal(t, StateDeregistered, f.State())
	_, err = pool.Request(id, "other-app")
	require.NoError(t, err)
}
