// Package control exposes the user agent to a host process over gRPC.
//
// The service is registered by hand rather than generated: every request and
// reply is a google.protobuf.Struct (or Empty for plain acknowledgements), so
// the wire format is the standard proto codec without a compiled schema.
//
//	softphone.control.v1.Control
//	  Register(Struct) Struct        {id_uri, registrar, username, password, realm, expires}
//	  Unregister(Empty) Struct
//	  Renew(Empty) Struct
//	  MakeCall(Struct) Struct        {destination, param, audio_device_id} -> {call_id, state}
//	  Answer(Struct) Empty           {call_id, code, reason}
//	  Hangup(Struct) Struct          {call_id, code, reason} -> {call_id, outcome, status_code}
//	  PlaySong(Struct) Empty         {call_id, path}
//	  SendMessage(Struct) Empty      {call_id, text}
//	  DialDTMF(Struct) Empty         {call_id, digits}
//	  Events(Struct) stream Struct   {pattern, replay}
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "softphone.control.v1.Control"

// ControlServer is the server API of the control service.
type ControlServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unregister(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Renew(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	MakeCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Answer(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Hangup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaySong(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SendMessage(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DialDTMF(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Events(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts one ControlServer method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Events(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", ControlServer.Register),
		unary("Unregister", ControlServer.Unregister),
		unary("Renew", ControlServer.Renew),
		unary("MakeCall", ControlServer.MakeCall),
		unary("Answer", ControlServer.Answer),
		unary("Hangup", ControlServer.Hangup),
		unary("PlaySong", ControlServer.PlaySong),
		unary("SendMessage", ControlServer.SendMessage),
		unary("DialDTMF", ControlServer.DialDTMF),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			Handler:       eventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "softphone/control/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
