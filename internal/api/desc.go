package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName = "homecare.v1.Session"
	ChatServiceName    = "homecare.v1.Chat"
)

// SessionServer controls the realtime connection.
type SessionServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*StatusResponse, error)
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Disconnect(context.Context, *DisconnectRequest) (*DisconnectResponse, error)
	RecentEvents(context.Context, *RecentEventsRequest) (*RecentEventsResponse, error)
}

// ChatServer exposes the conversation store.
type ChatServer interface {
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListUsers(context.Context, *ListUsersRequest) (*ListUsersResponse, error)
	OpenConversation(context.Context, *OpenConversationRequest) (*OpenConversationResponse, error)
	CloseConversation(context.Context, *CloseConversationRequest) (*CloseConversationResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	IsOnline(context.Context, *IsOnlineRequest) (*IsOnlineResponse, error)
	WatchEvents(*WatchEventsRequest, EventStream) error
}

// EventStream is the server side of Chat/WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		unary(SessionServiceName, "Connect", SessionServer.Connect),
		unary(SessionServiceName, "Disconnect", SessionServer.Disconnect),
		unary(SessionServiceName, "RecentEvents", SessionServer.RecentEvents),
	},
	Metadata: "homecare/v1/session",
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListConversations", ChatServer.ListConversations),
		unary(ChatServiceName, "ListUsers", ChatServer.ListUsers),
		unary(ChatServiceName, "OpenConversation", ChatServer.OpenConversation),
		unary(ChatServiceName, "CloseConversation", ChatServer.CloseConversation),
		unary(ChatServiceName, "ListMessages", ChatServer.ListMessages),
		unary(ChatServiceName, "SendMessage", ChatServer.SendMessage),
		unary(ChatServiceName, "MarkRead", ChatServer.MarkRead),
		unary(ChatServiceName, "IsOnline", ChatServer.IsOnline),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "homecare/v1/chat",
}

// unary builds the method descriptor for one request/response call.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(S), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, invoke)
		},
	}
}

type eventServerStream struct {
	grpc.ServerStream
}

func (s eventServerStream) Send(e *Event) error { return s.ServerStream.SendMsg(e) }

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServer).WatchEvents(in, eventServerStream{stream})
}
