package ids

import (
	"testing"

	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStorePutLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(dir, "net0")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(0x1002, "app-a"))
	require.NoError(t, store.SetRoutingHost(0x1001))

	used, routingHost, hasHost, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "app-a", used[0x1002])
	assert.True(t, hasHost)
	assert.Equal(t, someip.ClientID(0x1001), routingHost)

	require.NoError(t, store.Delete(0x1002))
	used, _, _, err = store.Load()
	require.NoError(t, err)
	_, ok := used[0x1002]
	assert.False(t, ok)
}

func TestBoltStoreClear(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(dir, "net0")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(0x1002, "app-a"))
	require.NoError(t, store.SetRoutingHost(0x1001))
	require.NoError(t, store.Clear())

	used, _, hasHost, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.False(t, hasHost)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(dir, "net0")
	require.NoError(t, err)
	require.NoError(t, store.Put(0x1005, "app-a"))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(dir, "net0")
	require.NoError(t, err)
	defer reopened.Close()

	used, _, _, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, "app-a", used[0x1005])
}
