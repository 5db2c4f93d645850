package admin

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/cuemby/someip-core/pkg/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeProvider struct {
	services []registry.ServiceInfo
	subs     []subscription.Subscription
}

func (p fakeProvider) Snapshot() ([]registry.ServiceInfo, []subscription.Subscription) {
	return p.services, p.subs
}

func startAdminServer(t *testing.T, provider SnapshotProvider) AdminServiceClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	srv := grpc.NewServer()
	RegisterServer(srv, provider)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewAdminServiceClient(conn)
}

func TestSnapshotReturnsServicesAndSubscriptions(t *testing.T) {
	provider := fakeProvider{
		services: []registry.ServiceInfo{
			{Service: 0x1234, Instance: 0x0001, Major: 1, Minor: 0, Provider: 9, IsLocal: true},
		},
		subs: []subscription.Subscription{
			{Client: 2, Service: 0x1234, Instance: 0x0001, Eventgroup: 0xA, Event: 0x8001, State: someip.AckAcknowledged},
		},
	}
	client := startAdminServer(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := client.Snapshot(ctx, &structpb.Struct{})
	require.NoError(t, err)

	m := snap.AsMap()
	services, ok := m["services"].([]interface{})
	require.True(t, ok)
	require.Len(t, services, 1)
	svc := services[0].(map[string]interface{})
	assert.Equal(t, float64(0x1234), svc["service_id"])
	assert.Equal(t, float64(9), svc["provider"])

	subs, ok := m["subscriptions"].([]interface{})
	require.True(t, ok)
	require.Len(t, subs, 1)
	sub := subs[0].(map[string]interface{})
	assert.Equal(t, float64(0xA), sub["eventgroup_id"])
	assert.Equal(t, someip.AckAcknowledged.String(), sub["state"])
}

func TestSnapshotWithNoState(t *testing.T) {
	client := startAdminServer(t, fakeProvider{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := client.Snapshot(ctx, &structpb.Struct{})
	require.NoError(t, err)

	m := snap.AsMap()
	assert.Empty(t, m["services"])
	assert.Empty(t, m["subscriptions"])
}
