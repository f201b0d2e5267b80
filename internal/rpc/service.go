// Package rpc defines the records.v1.RecordService wire contract shared by
// the client gateway and the server.
//
// Messages travel as google.protobuf.Struct; the typed request and response
// shapes below are converted with ToStruct and FromStruct.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "records.v1.RecordService"

const (
	MethodUpsert         = "/" + ServiceName + "/Upsert"
	MethodDelete         = "/" + ServiceName + "/Delete"
	MethodFetch          = "/" + ServiceName + "/Fetch"
	MethodPing           = "/" + ServiceName + "/Ping"
	MethodPresignReceipt = "/" + ServiceName + "/PresignReceipt"
)

// RecordServiceServer is implemented by the backend.
type RecordServiceServer interface {
	Upsert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PresignReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(RecordServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, fn call) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(RecordServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(RecordServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is registered with a grpc.Server by RegisterRecordServiceServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Upsert", Handler: unary(MethodUpsert, RecordServiceServer.Upsert)},
		{MethodName: "Delete", Handler: unary(MethodDelete, RecordServiceServer.Delete)},
		{MethodName: "Fetch", Handler: unary(MethodFetch, RecordServiceServer.Fetch)},
		{MethodName: "Ping", Handler: unary(MethodPing, RecordServiceServer.Ping)},
		{MethodName: "PresignReceipt", Handler: unary(MethodPresignReceipt, RecordServiceServer.PresignReceipt)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "records/v1/records.proto",
}

func RegisterRecordServiceServer(s grpc.ServiceRegistrar, srv RecordServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RecordServiceClient is the client stub.
type RecordServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRecordServiceClient(cc grpc.ClientConnInterface) *RecordServiceClient {
	return &RecordServiceClient{cc: cc}
}

func (c *RecordServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RecordServiceClient) Upsert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpsert, in, opts...)
}

func (c *RecordServiceClient) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDelete, in, opts...)
}

func (c *RecordServiceClient) Fetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodFetch, in, opts...)
}

func (c *RecordServiceClient) Ping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPing, in, opts...)
}

func (c *RecordServiceClient) PresignReceipt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPresignReceipt, in, opts...)
}
