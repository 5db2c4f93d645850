package eventstore

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/someipconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type delivery struct {
	key        EventKey
	recipients []someip.ClientID
	payload    []byte
}

type fakeForwarder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (f *fakeForwarder) Forward(key EventKey, recipients []someip.ClientID, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{key: key, recipients: recipients, payload: payload})
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func (f *fakeForwarder) last() delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[len(f.deliveries)-1]
}

func defaultConfig(t *testing.T) someipconfig.Config {
	t.Helper()
	cfg, err := someipconfig.ParseYAML([]byte(``))
	require.NoError(t, err)
	return cfg
}

func TestSetPayloadForwardsFirstUpdate(t *testing.T) {
	reg := registry.New()
	fwd := &fakeForwarder{}
	es := New(reg, defaultConfig(t), newFakeClock(), fwd)

	require.NoError(t, es.RegisterEvent(1, 0x1234, 0x0001, 0x8001, []someip.EventgroupID{1}, someip.EventTypeEvent, someip.ReliabilityReliable, 0, false, false, nil, true))
	es.AddSubscriber(0x1234, 0x0001, 1, 2)

	forwarded, err := es.SetPayload(0x1234, 0x0001, 0x8001, []byte{1, 2, 3}, false)
	require.NoError(t, err)
	assert.True(t, forwarded)
	assert.Equal(t, 1, fwd.count())
	assert.Equal(t, []someip.ClientID{2}, fwd.last().recipients)
}

func TestSetPayloadSuppressesUnchangedUnderOnChange(t *testing.T) {
	reg := registry.New()
	fwd := &fakeForwarder{}
	es := New(reg, defaultConfig(t), newFakeClock(), fwd)

	filter := &DebounceFilter{OnChange: true, IntervalMs: -1}
	require.NoError(t, es.RegisterEvent(1, 0x1234, 0x0001, 0x8001, nil, someip.EventTypeEvent, someip.ReliabilityReliable, 0, false, false, filter, true))
	es.AddSubscriber(0x1234, 0x0001, 1, 2) // not in this event's eventgroups, fine

	_, err := es.SetPayload(0x1234, 0x0001, 0x8001, []byte{1}, false)
	require.NoError(t, err)
	forwarded, err := es.SetPayload(0x1234, 0x0001, 0x8001, []byte{1}, false)
	require.NoError(t, err)
	assert.False(t, forwarded)
}

func TestSetPayloadForceAlwaysForwards(t *testing.T) {
	reg := registry.New()
	fwd := &fakeForwarder{}
	es := New(reg, defaultConfig(t), newFakeClock(), fwd)

	filter := &DebounceFilter{OnChange: true, IntervalMs: -1}
	require.NoError(t, es.RegisterEvent(1, 0x1234, 0x0001, 0x8001, []someip.EventgroupID{1}, someip.EventTypeEvent, someip.ReliabilityReliable, 0, false, false, filter, true))
	es.AddSubscriber(0x1234, 0x0001, 1, 2)

	_, err := es.SetPayload(0x1234, 0x0001, 0x8001, []byte{1}, false)
	require.NoError(t, err)
	forwarded, err := es.SetPayload(0x1234, 0x0001, 0x8001, []byte{1}, true)
	require.NoError(t, err)
	assert.True(t, forwarded)
}

func TestSetPayloadUnknownEvent(t *testing.T) {
	reg := registry.New()
	es := New(reg, defaultConfig(t), newFakeClock(), &fakeForwarder{})
	_, err := es.SetPayload(1, 1, 1, []byte{1}, false)
	assert.ErrorIs(t, err, ErrEventUnknown)
}

func TestNotifyOneCachesDuringSubscribing(t *testing.T) {
	reg := registry.New()
	fwd := &fakeForwarder{}
	es := New(reg, defaultConfig(t), newFakeClock(), fwd)
	require.NoError(t, es.RegisterEvent(1, 0x1234, 0x0001, 0x8001, nil, someip.EventTypeEvent, someip.ReliabilityReliable, 0, false, false, nil, true))

	forwarded, err := es.NotifyOne(2, 0x1234, 0x0001, 0x8001, []byte{9}, true, true)
	require.NoError(t, err)
	assert.False(t, forwarded)
	assert.Equal(t, 0, fwd.count())

	ok := es.FlushPending(2, 0x1234, 0x0001, 0x8001)
	assert.True(t, ok)
	assert.Equal(t, 1, fwd.count())
	assert.Equal(t, []byte{9}, fwd.last().payload)
}

func TestFlushPendingNoOpWhenNothingCached(t *testing.T) {
	reg := registry.New()
	es := New(reg, defaultConfig(t), newFakeClock(), &fakeForwarder{})
	assert.False(t, es.FlushPending(2, 1, 1, 1))
}

func TestSubscribersAndRemoveEverywhere(t *testing.T) {
	reg := registry.New()
	es := New(reg, defaultConfig(t), newFakeClock(), &fakeForwarder{})
	es.AddSubscriber(1, 1, 1, 10)
	es.AddSubscriber(1, 1, 1, 11)

	assert.ElementsMatch(t, []someip.ClientID{10, 11}, es.Subscribers(1, 1, 1))

	es.RemoveSubscriberEverywhere(10)
	assert.ElementsMatch(t, []someip.ClientID{11}, es.Subscribers(1, 1, 1))
}

func TestFieldValueRetainedOnlyForFieldType(t *testing.T) {
	reg := registry.New()
	es := New(reg, defaultConfig(t), newFakeClock(), &fakeForwarder{})

	require.NoError(t, es.RegisterEvent(1, 1, 1, 1, nil, someip.EventTypeField, someip.ReliabilityReliable, 0, false, false, nil, true))
	_, err := es.SetPayload(1, 1, 1, []byte{5, 6}, true)
	require.NoError(t, err)

	val, ok := es.FieldValue(1, 1, 1)
	require.True(t, ok)
	assert.Equal(t, []byte{5, 6}, val)
}

func TestTimerWheelDeliversPendingUpdate(t *testing.T) {
	reg := registry.New()
	fwd := &fakeForwarder{}
	clock := newFakeClock()
	es := New(reg, defaultConfig(t), clock, fwd)

	filter := &DebounceFilter{SendCurrentValueAfter: true, IntervalMs: 50, OnChange: false}
	require.NoError(t, es.RegisterEvent(1, 1, 1, 1, []someip.EventgroupID{1}, someip.EventTypeEvent, someip.ReliabilityReliable, 0, false, false, filter, true))
	es.AddSubscriber(1, 1, 1, 99)

	_, err := es.SetPayload(1, 1, 1, []byte{1}, true)
	require.NoError(t, err)
	before := fwd.count()

	clock.Advance(60 * time.Millisecond)
	es.scanDue()

	assert.Equal(t, before+1, fwd.count())
}

func TestStartStopTimerWheel(t *testing.T) {
	reg := registry.New()
	es := New(reg, defaultConfig(t), newFakeClock(), &fakeForwarder{})
	es.StartTimerWheel(5 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	es.Stop()
}
