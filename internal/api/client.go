package api

import (
	"context"

	"google.golang.org/grpc"
)

// SessionClient calls homecare.v1.Session.
type SessionClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionClient(cc grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{cc: cc}
}

func (c *SessionClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, SessionServiceName, "GetStatus", in, opts)
}

func (c *SessionClient) Connect(ctx context.Context, in *ConnectRequest, opts ...grpc.CallOption) (*ConnectResponse, error) {
	return invoke[ConnectResponse](ctx, c.cc, SessionServiceName, "Connect", in, opts)
}

func (c *SessionClient) Disconnect(ctx context.Context, in *DisconnectRequest, opts ...grpc.CallOption) (*DisconnectResponse, error) {
	return invoke[DisconnectResponse](ctx, c.cc, SessionServiceName, "Disconnect", in, opts)
}

func (c *SessionClient) RecentEvents(ctx context.Context, in *RecentEventsRequest, opts ...grpc.CallOption) (*RecentEventsResponse, error) {
	return invoke[RecentEventsResponse](ctx, c.cc, SessionServiceName, "RecentEvents", in, opts)
}

// ChatClient calls homecare.v1.Chat.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

func (c *ChatClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, ChatServiceName, "ListConversations", in, opts)
}

func (c *ChatClient) ListUsers(ctx context.Context, in *ListUsersRequest, opts ...grpc.CallOption) (*ListUsersResponse, error) {
	return invoke[ListUsersResponse](ctx, c.cc, ChatServiceName, "ListUsers", in, opts)
}

func (c *ChatClient) OpenConversation(ctx context.Context, in *OpenConversationRequest, opts ...grpc.CallOption) (*OpenConversationResponse, error) {
	return invoke[OpenConversationResponse](ctx, c.cc, ChatServiceName, "OpenConversation", in, opts)
}

func (c *ChatClient) CloseConversation(ctx context.Context, in *CloseConversationRequest, opts ...grpc.CallOption) (*CloseConversationResponse, error) {
	return invoke[CloseConversationResponse](ctx, c.cc, ChatServiceName, "CloseConversation", in, opts)
}

func (c *ChatClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c.cc, ChatServiceName, "ListMessages", in, opts)
}

func (c *ChatClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, ChatServiceName, "SendMessage", in, opts)
}

func (c *ChatClient) MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, ChatServiceName, "MarkRead", in, opts)
}

func (c *ChatClient) IsOnline(ctx context.Context, in *IsOnlineRequest, opts ...grpc.CallOption) (*IsOnlineResponse, error) {
	return invoke[IsOnlineResponse](ctx, c.cc, ChatServiceName, "IsOnline", in, opts)
}

// EventReceiver is the client side of Chat/WatchEvents.
type EventReceiver interface {
	Recv() (*Event, error)
	grpc.ClientStream
}

type eventClientStream struct {
	grpc.ClientStream
}

func (s eventClientStream) Recv() (*Event, error) {
	e := new(Event)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *ChatClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (EventReceiver, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ChatServiceDesc.Streams[0], "/"+ChatServiceName+"/WatchEvents", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return eventClientStream{stream}, nil
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
