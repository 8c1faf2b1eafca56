// Package api exposes a link client over gRPC on the daemon's Unix socket.
//
// The service is rtlink.v1.Link. Requests and responses are protobuf
// well-known types: google.protobuf.Struct for structured values and
// google.protobuf.Empty where nothing is carried.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rtlink.v1.Link"

// LinkServer is the server API for the rtlink.v1.Link service.
type LinkServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Connect(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Disconnect(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetTyping(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListPresence(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListTyping(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetReadStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetrics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResetMetrics(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WatchEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterLinkServer registers srv on s.
func RegisterLinkServer(s grpc.ServiceRegistrar, srv LinkServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(LinkServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LinkServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LinkServer), ctx, req.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

// ServiceDesc describes rtlink.v1.Link for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LinkServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, LinkServer.GetStatus),
		unary("Connect", newEmpty, LinkServer.Connect),
		unary("Disconnect", newEmpty, LinkServer.Disconnect),
		unary("Send", newStruct, LinkServer.Send),
		unary("MarkRead", newStruct, LinkServer.MarkRead),
		unary("SetTyping", newStruct, LinkServer.SetTyping),
		unary("ListPresence", newEmpty, LinkServer.ListPresence),
		unary("ListTyping", newEmpty, LinkServer.ListTyping),
		unary("GetReadStatus", newStruct, LinkServer.GetReadStatus),
		unary("GetMetrics", newEmpty, LinkServer.GetMetrics),
		unary("ResetMetrics", newEmpty, LinkServer.ResetMetrics),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := newStruct()
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(LinkServer).WatchEvents(in, &eventStream{stream})
			},
		},
	},
	Metadata: "rtlink/v1/link.proto",
}

// LinkClient is the client API for the rtlink.v1.Link service.
type LinkClient struct {
	cc grpc.ClientConnInterface
}

// NewLinkClient wraps cc.
func NewLinkClient(cc grpc.ClientConnInterface) *LinkClient {
	return &LinkClient{cc: cc}
}

func invoke[Resp proto.Message](ctx context.Context, c *LinkClient, name string, in proto.Message, out Resp, opts ...grpc.CallOption) (Resp, error) {
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, in, out, opts...); err != nil {
		var zero Resp
		return zero, err
	}
	return out, nil
}

func (c *LinkClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c, "GetStatus", newEmpty(), newStruct(), opts...)
}

func (c *LinkClient) Connect(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c, "Connect", newEmpty(), newStruct(), opts...)
}

func (c *LinkClient) Disconnect(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke(ctx, c, "Disconnect", newEmpty(), newEmpty(), opts...)
	return err
}

// Send queues a message. payload may be nil.
func (c *LinkClient) Send(ctx context.Context, typ string, payload map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return nil, err
	}
	if payload == nil {
		delete(in.Fields, "payload")
	}
	return invoke(ctx, c, "Send", in, newStruct(), opts...)
}

func (c *LinkClient) MarkRead(ctx context.Context, ids []int64, opts ...grpc.CallOption) error {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	in, err := structpb.NewStruct(map[string]any{"message_ids": list})
	if err != nil {
		return err
	}
	_, err = invoke(ctx, c, "MarkRead", in, newEmpty(), opts...)
	return err
}

func (c *LinkClient) SetTyping(ctx context.Context, typing bool, opts ...grpc.CallOption) error {
	in, _ := structpb.NewStruct(map[string]any{"typing": typing})
	_, err := invoke(ctx, c, "SetTyping", in, newEmpty(), opts...)
	return err
}

func (c *LinkClient) ListPresence(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c, "ListPresence", newEmpty(), newStruct(), opts...)
}

func (c *LinkClient) ListTyping(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c, "ListTyping", newEmpty(), newStruct(), opts...)
}

func (c *LinkClient) GetReadStatus(ctx context.Context, id int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, _ := structpb.NewStruct(map[string]any{"message_id": id})
	return invoke(ctx, c, "GetReadStatus", in, newStruct(), opts...)
}

func (c *LinkClient) GetMetrics(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c, "GetMetrics", newEmpty(), newStruct(), opts...)
}

func (c *LinkClient) ResetMetrics(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke(ctx, c, "ResetMetrics", newEmpty(), newEmpty(), opts...)
	return err
}

// EventReceiver is the client side of WatchEvents.
type EventReceiver interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type eventReceiver struct {
	grpc.ClientStream
}

func (r *eventReceiver) Recv() (*structpb.Struct, error) {
	m := newStruct()
	if err := r.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchEvents streams bus events whose kind starts with namespace. An empty
// namespace means every link event.
func (c *LinkClient) WatchEvents(ctx context.Context, namespace string, opts ...grpc.CallOption) (EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchEvents", opts...)
	if err != nil {
		return nil, err
	}
	in, _ := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &eventReceiver{stream}, nil
}
