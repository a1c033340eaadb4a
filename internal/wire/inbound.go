package wire

// Type is the envelope discriminator carried in the "type" field.
type Type string

const (
	TypeWelcome          Type = "welcome"
	TypePong             Type = "pong"
	TypeAuthSuccess      Type = "auth_success"
	TypeAuthError        Type = "auth_error"
	TypeConversations    Type = "conversations"
	TypeAllConversations Type = "all_conversations"
	TypeUsers            Type = "users"
	TypeAllUsers         Type = "all_users"
	TypeHistory          Type = "conversation_history"
	TypeMessages         Type = "messages"
	TypeNewMessage       Type = "new_message"
	TypeMessageSent      Type = "message_sent"
	TypeUnreadMessages   Type = "unread_messages"
	TypeUserStatusChange Type = "user_status_change"
	TypeError            Type = "error"

	TypeAuth             Type = "auth"
	TypePing             Type = "ping"
	TypeGetConversations Type = "get_conversations"
	TypeGetConversation  Type = "get_conversation"
	TypeGetUsers         Type = "get_users"
	TypeSendMessage      Type = "send_message"
	TypeMarkRead         Type = "mark_read"
)

// Header holds the fields every inbound envelope shares.
type Header struct {
	Kind      Type   `json:"type"`
	MessageID string `json:"messageId,omitempty"`
}

// Type returns the wire discriminator the envelope arrived with.
func (h Header) Type() Type { return h.Kind }

// Key returns the idempotency key, or "" when the server sent none.
func (h Header) Key() string { return h.MessageID }

// Inbound is a decoded server envelope. The set of implementations is closed:
// adding one means adding a method to Visitor, which breaks every visitor
// until it handles the new kind.
type Inbound interface {
	Type() Type
	Key() string
	Accept(v Visitor)
}

// Visitor dispatches on the concrete inbound kind.
type Visitor interface {
	VisitWelcome(*Welcome)
	VisitPong(*Pong)
	VisitAuthSuccess(*AuthSuccess)
	VisitAuthError(*AuthError)
	VisitConversations(*Conversations)
	VisitUsers(*Users)
	VisitHistory(*History)
	VisitNewMessage(*NewMessage)
	VisitMessageSent(*MessageSent)
	VisitUnreadMessages(*UnreadMessages)
	VisitUserStatusChange(*UserStatusChange)
	VisitError(*ErrorEvent)
}

type Welcome struct {
	Header
}

type Pong struct {
	Header
	Timestamp int64 `json:"timestamp,omitempty"`
}

type AuthSuccess struct {
	Header
	UserID string `json:"userId,omitempty"`
}

type AuthError struct {
	Header
	Message string `json:"message"`
}

// Conversations carries a full conversation list (conversations or all_conversations).
type Conversations struct {
	Header
	Conversations []Conversation `json:"conversations"`
}

// Users carries the directory (users or all_users).
type Users struct {
	Header
	Users []User `json:"users"`
}

// History carries the messages of one conversation (conversation_history or messages).
type History struct {
	Header
	Messages []Message `json:"messages"`
}

type NewMessage struct {
	Header
	Message Message `json:"message"`
}

// MessageSent acknowledges a send. ConversationID is set when the server
// created or resolved the conversation.
type MessageSent struct {
	Header
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId,omitempty"`
}

type UnreadMessages struct {
	Header
	Messages []Message `json:"messages"`
}

// UserStatusChange announces a presence flip. User may be partial.
type UserStatusChange struct {
	Header
	User     User `json:"user"`
	IsOnline bool `json:"isOnline"`
}

// ErrorEvent is a non-fatal application error reported by the server.
type ErrorEvent struct {
	Header
	Message string `json:"message"`
}

func (e *Welcome) Accept(v Visitor)          { v.VisitWelcome(e) }
func (e *Pong) Accept(v Visitor)             { v.VisitPong(e) }
func (e *AuthSuccess) Accept(v Visitor)      { v.VisitAuthSuccess(e) }
func (e *AuthError) Accept(v Visitor)        { v.VisitAuthError(e) }
func (e *Conversations) Accept(v Visitor)    { v.VisitConversations(e) }
func (e *Users) Accept(v Visitor)            { v.VisitUsers(e) }
func (e *History) Accept(v Visitor)          { v.VisitHistory(e) }
func (e *NewMessage) Accept(v Visitor)       { v.VisitNewMessage(e) }
func (e *MessageSent) Accept(v Visitor)      { v.VisitMessageSent(e) }
func (e *UnreadMessages) Accept(v Visitor)   { v.VisitUnreadMessages(e) }
func (e *UserStatusChange) Accept(v Visitor) { v.VisitUserStatusChange(e) }
func (e *ErrorEvent) Accept(v Visitor)       { v.VisitError(e) }

// Internal reports whether the envelope is connection bookkeeping that is
// consumed by the transport and never forwarded.
func Internal(in Inbound) bool {
	switch in.(type) {
	case *Welcome, *Pong:
		return true
	}
	return false
}
