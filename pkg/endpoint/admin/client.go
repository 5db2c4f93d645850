package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceClient is the client-side contract for the AdminService gRPC
// service, following the shape protoc-gen-go-grpc emits for a single
// unary method.
type AdminServiceClient interface {
	Snapshot(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type adminServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminServiceClient wraps an existing connection as an
// AdminServiceClient, for someip-routingd inspect --remote.
func NewAdminServiceClient(cc grpc.ClientConnInterface) AdminServiceClient {
	return &adminServiceClient{cc: cc}
}

func (c *adminServiceClient) Snapshot(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Snapshot", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
