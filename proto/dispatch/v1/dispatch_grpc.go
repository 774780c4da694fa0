package dispatchv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DispatchService_ReserveSlot_FullMethodName = "/dispatch.v1.DispatchService/ReserveSlot"
	DispatchService_ListWindows_FullMethodName = "/dispatch.v1.DispatchService/ListWindows"
)

// DispatchServiceClient is the client API for DispatchService.
type DispatchServiceClient interface {
	ReserveSlot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListWindows(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type dispatchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDispatchServiceClient(cc grpc.ClientConnInterface) DispatchServiceClient {
	return &dispatchServiceClient{cc}
}

func (c *dispatchServiceClient) ReserveSlot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DispatchService_ReserveSlot_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchServiceClient) ListWindows(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, DispatchService_ListWindows_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DispatchServiceServer is the server API for DispatchService.
// All implementations must embed UnimplementedDispatchServiceServer.
type DispatchServiceServer interface {
	ReserveSlot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListWindows(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	mustEmbedUnimplementedDispatchServiceServer()
}

// UnimplementedDispatchServiceServer must be embedded to have forward compatible implementations.
type UnimplementedDispatchServiceServer struct{}

func (UnimplementedDispatchServiceServer) ReserveSlot(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReserveSlot not implemented")
}

func (UnimplementedDispatchServiceServer) ListWindows(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListWindows not implemented")
}

func (UnimplementedDispatchServiceServer) mustEmbedUnimplementedDispatchServiceServer() {}

func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&DispatchService_ServiceDesc, srv)
}

func _DispatchService_ReserveSlot_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).ReserveSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DispatchService_ReserveSlot_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServiceServer).ReserveSlot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _DispatchService_ListWindows_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).ListWindows(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DispatchService_ListWindows_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServiceServer).ListWindows(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// DispatchService_ServiceDesc is the grpc.ServiceDesc for DispatchService.
var DispatchService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dispatch.v1.DispatchService",
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReserveSlot",
			Handler:    _DispatchService_ReserveSlot_Handler,
		},
		{
			MethodName: "ListWindows",
			Handler:    _DispatchService_ListWindows_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatch/v1/dispatch.proto",
}
