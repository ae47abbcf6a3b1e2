// Package rpc defines the nearchat.v1.MessagingService gRPC service. Requests and
// responses are protobuf well-known types, so the descriptor is maintained by hand
// instead of generated from a .proto file.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nearchat.v1.MessagingService"

// Full method names, as seen by interceptors.
const (
	RegisterMethod           = "/" + ServiceName + "/Register"
	LoginMethod              = "/" + ServiceName + "/Login"
	ListConversationsMethod  = "/" + ServiceName + "/ListConversations"
	GetThreadMethod          = "/" + ServiceName + "/GetThread"
	SendMessageMethod        = "/" + ServiceName + "/SendMessage"
	WatchConversationsMethod = "/" + ServiceName + "/WatchConversations"
	WatchThreadMethod        = "/" + ServiceName + "/WatchThread"
	ListNearbyMethod         = "/" + ServiceName + "/ListNearby"
	SetPresenceMethod        = "/" + ServiceName + "/SetPresence"
)

// MessagingServiceServer is the server API for the messaging service.
type MessagingServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetThread(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	WatchConversations(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	WatchThread(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
	ListNearby(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPresence(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
}

// UnimplementedMessagingServiceServer returns Unimplemented for every method. Embed it
// by value for forward compatibility.
type UnimplementedMessagingServiceServer struct{}

func (UnimplementedMessagingServiceServer) Register(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedMessagingServiceServer) Login(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedMessagingServiceServer) ListConversations(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListConversations not implemented")
}
func (UnimplementedMessagingServiceServer) GetThread(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetThread not implemented")
}
func (UnimplementedMessagingServiceServer) SendMessage(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedMessagingServiceServer) WatchConversations(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Errorf(codes.Unimplemented, "method WatchConversations not implemented")
}
func (UnimplementedMessagingServiceServer) WatchThread(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Errorf(codes.Unimplemented, "method WatchThread not implemented")
}
func (UnimplementedMessagingServiceServer) ListNearby(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListNearby not implemented")
}
func (UnimplementedMessagingServiceServer) SetPresence(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SetPresence not implemented")
}

// RegisterMessagingServiceServer registers srv on s.
func RegisterMessagingServiceServer(s grpc.ServiceRegistrar, srv MessagingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler that decodes a Req, runs call through the interceptor
// chain and returns its response.
func unary[Req any, Res any](fullMethod string, call func(MessagingServiceServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MessagingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MessagingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// serverStream builds a handler for a single-request server-streaming method.
func serverStream[Req any](call func(MessagingServiceServer, *Req, grpc.ServerStreamingServer[structpb.Struct]) error) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(MessagingServiceServer), in, &grpc.GenericServerStream[Req, structpb.Struct]{ServerStream: stream})
	}
}

// ServiceDesc is the grpc.ServiceDesc for the messaging service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(RegisterMethod, MessagingServiceServer.Register)},
		{MethodName: "Login", Handler: unary(LoginMethod, MessagingServiceServer.Login)},
		{MethodName: "ListConversations", Handler: unary(ListConversationsMethod, MessagingServiceServer.ListConversations)},
		{MethodName: "GetThread", Handler: unary(GetThreadMethod, MessagingServiceServer.GetThread)},
		{MethodName: "SendMessage", Handler: unary(SendMessageMethod, MessagingServiceServer.SendMessage)},
		{MethodName: "ListNearby", Handler: unary(ListNearbyMethod, MessagingServiceServer.ListNearby)},
		{MethodName: "SetPresence", Handler: unary(SetPresenceMethod, MessagingServiceServer.SetPresence)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchConversations", Handler: serverStream(MessagingServiceServer.WatchConversations), ServerStreams: true},
		{StreamName: "WatchThread", Handler: serverStream(MessagingServiceServer.WatchThread), ServerStreams: true},
	},
	Metadata: "nearchat/v1/messaging.proto",
}
