package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/matheus3301/homecare/internal/bus"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"github.com/matheus3301/homecare/internal/wire"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Conversations is the sync engine as seen by the chat service.
type Conversations interface {
	Resetter
	GetConversations(ctx context.Context) error
	GetUsers(ctx context.Context) error
	GetConversationMessages(ctx context.Context, peer string) error
	SendMessage(ctx context.Context, content, peer string) error
	MarkAsRead(ctx context.Context, messageID string) error
	StartNewConversation(ctx context.Context, peer string) (string, error)
	SetActiveConversation(ctx context.Context, id string) error
	IsUserOnline(id string) bool
}

var defaultWatchPrefixes = []string{"store.", "conn."}

// ChatService implements homecare.v1.Chat.
type ChatService struct {
	engine Conversations
	bus    *bus.Bus
	logger *zap.Logger
}

// NewChatService creates the chat service.
func NewChatService(engine Conversations, b *bus.Bus, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{engine: engine, bus: b, logger: logger.Named("api")}
}

func (s *ChatService) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	if req.Refresh {
		if err := s.engine.GetConversations(ctx); err != nil {
			return nil, toStatus("refresh conversations", err)
		}
	}
	snap := s.engine.Snapshot()
	convs := snap.Conversations
	if convs == nil {
		convs = []wire.Conversation{}
	}
	return &ListConversationsResponse{
		SelfID:        snap.SelfID,
		Conversations: convs,
		ActiveID:      snap.ActiveID,
		Loading:       snap.Loading.Conversations,
	}, nil
}

func (s *ChatService) ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResponse, error) {
	if req.Refresh {
		if err := s.engine.GetUsers(ctx); err != nil {
			return nil, toStatus("refresh users", err)
		}
	}
	snap := s.engine.Snapshot()
	users := make([]wire.User, 0, len(snap.Users))
	for _, u := range snap.Users {
		u.IsOnline = snap.IsUserOnline(u.ID)
		users = append(users, u)
	}
	return &ListUsersResponse{Users: users, Loading: snap.Loading.Users}, nil
}

func (s *ChatService) OpenConversation(ctx context.Context, req *OpenConversationRequest) (*OpenConversationResponse, error) {
	var (
		id  string
		err error
	)
	switch {
	case req.ID != "":
		if _, ok := findConversation(s.engine.Snapshot(), req.ID); !ok {
			return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.ID)
		}
		id = req.ID
		err = s.engine.SetActiveConversation(ctx, id)
	case req.PeerID != "":
		id, err = s.engine.StartNewConversation(ctx, req.PeerID)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "conversation id or peer id is required")
	}

	resp := &OpenConversationResponse{ActiveID: id}
	if err != nil {
		if !transient(err) {
			return nil, toStatus("open conversation", err)
		}
		resp.Warning = "history not requested: " + err.Error()
	}
	if snap := s.engine.Snapshot(); snap.ActiveID != "" {
		resp.ActiveID = snap.ActiveID
	}
	return resp, nil
}

func (s *ChatService) CloseConversation(ctx context.Context, _ *CloseConversationRequest) (*CloseConversationResponse, error) {
	if err := s.engine.SetActiveConversation(ctx, ""); err != nil {
		return nil, toStatus("close conversation", err)
	}
	return &CloseConversationResponse{}, nil
}

func (s *ChatService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	snap := s.engine.Snapshot()
	peer := snap.ActivePeer()
	if req.Refresh {
		if peer == "" {
			return nil, grpcstatus.Errorf(codes.FailedPrecondition, "no conversation is open")
		}
		if err := s.engine.GetConversationMessages(ctx, peer); err != nil {
			return nil, toStatus("refresh messages", err)
		}
		snap = s.engine.Snapshot()
	}
	msgs := snap.Messages
	if msgs == nil {
		msgs = []wire.Message{}
	}
	return &ListMessagesResponse{
		ActiveID: snap.ActiveID,
		PeerID:   peer,
		Messages: msgs,
		Loading:  snap.Loading.Messages,
	}, nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if err := s.engine.SendMessage(ctx, req.Content, req.PeerID); err != nil {
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{ActiveID: s.engine.Snapshot().ActiveID}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	if err := s.engine.MarkAsRead(ctx, req.MessageID); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &MarkReadResponse{}, nil
}

func (s *ChatService) IsOnline(_ context.Context, req *IsOnlineRequest) (*IsOnlineResponse, error) {
	if req.UserID == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user id is required")
	}
	return &IsOnlineResponse{Online: s.engine.IsUserOnline(req.UserID)}, nil
}

// WatchEvents streams bus events under the requested prefixes until the
// client goes away.
func (s *ChatService) WatchEvents(req *WatchEventsRequest, stream EventStream) error {
	if s.bus == nil {
		return grpcstatus.Errorf(codes.Unavailable, "event bus not available")
	}
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = defaultWatchPrefixes
	}

	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchAny(evt.Kind, prefixes) {
				continue
			}
			if err := stream.Send(&Event{Kind: evt.Kind, At: evt.Timestamp, Payload: encodePayload(evt.Payload)}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchAny(kind string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// encodePayload renders an event payload for the wire. Errors become
// {"error": "..."} since they carry no exported fields.
func encodePayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	if err, ok := payload.(error); ok {
		out, _ := sjson.SetBytes(nil, "error", err.Error())
		return out
	}
	out, err := json.Marshal(payload)
	if err != nil {
		out, _ = sjson.SetBytes(nil, "error", "unencodable payload: "+err.Error())
	}
	return out
}

func findConversation(s intsync.State, id string) (int, bool) {
	for i, c := range s.Conversations {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}
