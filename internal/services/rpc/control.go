// Package rpc exposes the coordinator's control operations over gRPC. The
// service is declared by hand over structpb messages, so no protoc step is
// needed:
//
//	service smarthome.v1.Control {
//	  rpc Dispatch(google.protobuf.Struct) returns (google.protobuf.Struct); // {device, value}
//	  rpc GetState(google.protobuf.Struct) returns (google.protobuf.Struct); // {}
//	  rpc SetMode(google.protobuf.Struct)  returns (google.protobuf.Struct); // {mode}
//	}
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "smarthome.v1.Control"

const (
	methodDispatch = "/" + ServiceName + "/Dispatch"
	methodGetState = "/" + ServiceName + "/GetState"
	methodSetMode  = "/" + ServiceName + "/SetMode"
)

// ControlServer is implemented by Server.
type ControlServer interface {
	Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

func unaryHandler(method string, call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		})
	}
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: unaryHandler(methodDispatch, ControlServer.Dispatch)},
		{MethodName: "GetState", Handler: unaryHandler(methodGetState, ControlServer.GetState)},
		{MethodName: "SetMode", Handler: unaryHandler(methodSetMode, ControlServer.SetMode)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smarthome/v1/control.proto",
}

// ControlClient calls a remote Control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDispatch, in, opts...)
}

func (c *ControlClient) GetState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetState, in, opts...)
}

func (c *ControlClient) SetMode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSetMode, in, opts...)
}
