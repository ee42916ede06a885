package api

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "dmsync.v1.Engine"

// EngineServer is the daemon-side implementation of the control surface.
type EngineServer interface {
	ListPeers(context.Context, *PeersRequest) (*PeersResponse, error)
	ListConversations(context.Context, *ConversationsRequest) (*ConversationsResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// RegisterEngineServer registers srv on a grpc server.
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&engineServiceDesc, srv)
}

// unary adapts a typed EngineServer method to the grpc method handler shape.
func unary[Req, Resp any](method string, call func(EngineServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	full := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(EngineServer), ctx, req.(*Req))
		})
	}
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListPeers", Handler: unary("ListPeers", EngineServer.ListPeers)},
		{MethodName: "ListConversations", Handler: unary("ListConversations", EngineServer.ListConversations)},
		{MethodName: "History", Handler: unary("History", EngineServer.History)},
		{MethodName: "Send", Handler: unary("Send", EngineServer.Send)},
		{MethodName: "Status", Handler: unary("Status", EngineServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dmsync/v1/engine",
}
