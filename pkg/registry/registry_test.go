package registry

import (
	"testing"

	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferCreatesNewService(t *testing.T) {
	r := New()
	err := r.Offer(1, 0x1234, 0x0001, 1, 0)
	require.NoError(t, err)

	info, ok := r.FindService(0x1234, 0x0001)
	require.True(t, ok)
	assert.Equal(t, someip.ClientID(1), info.Provider)
	assert.True(t, info.IsLocal)
}

func TestOfferRefreshesMatchingVersion(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	err := r.Offer(1, 0x1234, 0x0001, 1, 0)
	assert.NoError(t, err)
}

func TestOfferRejectsVersionMismatchFromSameProvider(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	err := r.Offer(1, 0x1234, 0x0001, 2, 0)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestOfferRejectsConcurrentOfferFromAnotherClient(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	err := r.Offer(2, 0x1234, 0x0001, 1, 0)
	assert.ErrorIs(t, err, ErrAlreadyOffered)
}

func TestOfferAllowedAfterPreviousProviderRemoved(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	_, err := r.StopOffer(1, 0x1234, 0x0001)
	require.NoError(t, err)

	err = r.Offer(2, 0x1234, 0x0001, 3, 7)
	assert.NoError(t, err)

	info, ok := r.FindService(0x1234, 0x0001)
	require.True(t, ok)
	assert.Equal(t, someip.ClientID(2), info.Provider)
	assert.Equal(t, someip.MajorVersion(3), info.Major)
}

func TestStopOfferByNonProviderIsRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	_, err := r.StopOffer(2, 0x1234, 0x0001)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestStopOfferReturnsAttachedEvents(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	r.UpsertEvent(EventInfo{Service: 0x1234, Instance: 0x0001, Event: 0x8001, IsProvided: true})

	events, err := r.StopOffer(1, 0x1234, 0x0001)
	require.NoError(t, err)
	assert.Contains(t, events, someip.EventID(0x8001))
}

func TestRequestRequiresExistingService(t *testing.T) {
	r := New()
	err := r.Request(1, 0x1234, 0x0001, 1, 0)
	assert.ErrorIs(t, err, ErrServiceUnknown)
}

func TestRequestVersionWildcard(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 3, 5))

	assert.NoError(t, r.Request(2, 0x1234, 0x0001, someip.AnyMajor, someip.AnyMinor))
	assert.NoError(t, r.Request(2, 0x1234, 0x0001, 3, 2))
	assert.ErrorIs(t, r.Request(2, 0x1234, 0x0001, 3, 9), ErrVersionMismatch)
	assert.ErrorIs(t, r.Request(2, 0x1234, 0x0001, 4, 0), ErrVersionMismatch)
}

func TestIsAvailable(t *testing.T) {
	r := New()
	assert.False(t, r.IsAvailable(0x1234, 0x0001, someip.AnyMajor, someip.AnyMinor))

	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	assert.True(t, r.IsAvailable(0x1234, 0x0001, someip.AnyMajor, someip.AnyMinor))

	_, err := r.StopOffer(1, 0x1234, 0x0001)
	require.NoError(t, err)
	assert.False(t, r.IsAvailable(0x1234, 0x0001, someip.AnyMajor, someip.AnyMinor))
}

func TestReleaseDropsUnreferencedService(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	require.NoError(t, r.Request(2, 0x1234, 0x0001, someip.AnyMajor, someip.AnyMinor))

	_, err := r.StopOffer(1, 0x1234, 0x0001)
	require.NoError(t, err)
	_, ok := r.FindService(0x1234, 0x0001)
	assert.True(t, ok, "still referenced by a requester")

	require.NoError(t, r.Release(2, 0x1234, 0x0001))
	_, ok = r.FindService(0x1234, 0x0001)
	assert.False(t, ok)
}

func TestWasRecentProvider(t *testing.T) {
	r := New()
	require.NoError(t, r.Offer(1, 0x1234, 0x0001, 1, 0))
	_, err := r.StopOffer(1, 0x1234, 0x0001)
	require.NoError(t, err)

	assert.True(t, r.WasRecentProvider(0x1234, 0x0001, 1))
	assert.False(t, r.WasRecentProvider(0x1234, 0x0001, 99))
}

func TestPlaceholderPromotionMergesEventgroups(t *testing.T) {
	r := New()
	placeholder := r.RegisterPlaceholder(0x1234, 0x0001, 0x8001, 0x0001)
	assert.True(t, placeholder.IsPlaceholder)

	real := r.UpsertEvent(EventInfo{
		Service:     0x1234,
		Instance:    0x0001,
		Event:       0x8001,
		Eventgroups: []someip.EventgroupID{0x0002},
		IsProvided:  true,
	})
	assert.False(t, real.IsPlaceholder)
	assert.ElementsMatch(t, []someip.EventgroupID{0x0001, 0x0002}, real.Eventgroups)

	stored, ok := r.FindEvent(0x1234, 0x0001, 0x8001)
	require.True(t, ok)
	assert.False(t, stored.IsPlaceholder)
}

func TestFindEventgroupReturnsMembers(t *testing.T) {
	r := New()
	r.UpsertEvent(EventInfo{Service: 0x1234, Instance: 0x0001, Event: 0x8001, Eventgroups: []someip.EventgroupID{1}})
	r.UpsertEvent(EventInfo{Service: 0x1234, Instance: 0x0001, Event: 0x8002, Eventgroups: []someip.EventgroupID{1}})

	eg, ok := r.FindEventgroup(0x1234, 0x0001, 1)
	require.True(t, ok)
	assert.ElementsMatch(t, []someip.EventID{0x8001, 0x8002}, eg.Events)
}

func TestDeriveReliability(t *testing.T) {
	assert.Equal(t, someip.ReliabilityReliable, DeriveReliability(someip.ReliabilityReliable, someip.ReliabilityUnreliable, someip.ReliabilityBoth))
	assert.Equal(t, someip.ReliabilityUnreliable, DeriveReliability(someip.ReliabilityUnknown, someip.ReliabilityUnreliable, someip.ReliabilityBoth))
	assert.Equal(t, someip.ReliabilityBoth, DeriveReliability(someip.ReliabilityUnknown, someip.ReliabilityUnknown, someip.ReliabilityBoth))
}
