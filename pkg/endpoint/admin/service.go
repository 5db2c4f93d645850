package admin

import (
	"context"

	"github.com/cuemby/someip-core/pkg/registry"
	"github.com/cuemby/someip-core/pkg/subscription"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceName is the gRPC full service name a client dials against.
const serviceName = "someip.admin.AdminService"

// SnapshotProvider is implemented by core.CoreFacade; it is the only
// dependency this package takes on the rest of the module, kept narrow so
// admin has no import-cycle on pkg/core.
type SnapshotProvider interface {
	Snapshot() (services []registry.ServiceInfo, subs []subscription.Subscription)
}

// AdminServiceServer is the server-side contract for the AdminService gRPC
// service, following the shape protoc-gen-go-grpc emits for a single
// unary method.
type AdminServiceServer interface {
	Snapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server implements AdminServiceServer against a SnapshotProvider.
type Server struct {
	provider SnapshotProvider
}

// NewServer wraps provider as an AdminServiceServer.
func NewServer(provider SnapshotProvider) *Server {
	return &Server{provider: provider}
}

// Snapshot ignores its request (reserved for future filtering) and returns
// the current registry and subscription state as a structpb.Struct, since
// the diagnostic shape has no fixed .proto schema of its own.
func (s *Server) Snapshot(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	services, subs := s.provider.Snapshot()

	serviceList := make([]interface{}, 0, len(services))
	for _, si := range services {
		serviceList = append(serviceList, map[string]interface{}{
			"service_id":  float64(si.Service),
			"instance_id": float64(si.Instance),
			"major":       float64(si.Major),
			"minor":       float64(si.Minor),
			"provider":    float64(si.Provider),
			"is_local":    si.IsLocal,
			"offered_at":  si.OfferedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	subList := make([]interface{}, 0, len(subs))
	for _, sub := range subs {
		subList = append(subList, map[string]interface{}{
			"client_id":     float64(sub.Client),
			"service_id":    float64(sub.Service),
			"instance_id":   float64(sub.Instance),
			"eventgroup_id": float64(sub.Eventgroup),
			"event_id":      float64(sub.Event),
			"state":         sub.State.String(),
		})
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"services":      serviceList,
		"subscriptions": subList,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterServer attaches the AdminService to an existing *grpc.Server,
// backed by provider.
func RegisterServer(s *grpc.Server, provider SnapshotProvider) {
	s.RegisterService(&serviceDesc, NewServer(provider))
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Snapshot",
			Handler:    snapshotHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/endpoint/admin/service.go",
}

func snapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/Snapshot",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).Snapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
