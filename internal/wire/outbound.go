package wire

// Outbound is an envelope the client sends. Key returns a caller supplied
// idempotency key; the transport generates one when it is empty.
type Outbound interface {
	Type() Type
	Key() string
}

// Meta carries an optional caller supplied key on outbound envelopes.
type Meta struct {
	MessageID string `json:"-"`
}

func (m Meta) Key() string { return m.MessageID }

type Auth struct {
	Meta
	Token string `json:"token"`
}

// Ping is a heartbeat. Timestamp is unix milliseconds.
type Ping struct {
	Meta
	Timestamp int64 `json:"timestamp"`
}

type GetConversations struct {
	Meta
}

type GetConversation struct {
	Meta
	OtherUserID string `json:"otherUserId"`
}

type GetUsers struct {
	Meta
}

type SendMessage struct {
	Meta
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkRead flags a message as read. The target message id is also the
// envelope key, so repeated marks of the same message collapse server side.
type MarkRead struct {
	MessageID string `json:"messageId"`
}

func (Auth) Type() Type             { return TypeAuth }
func (Ping) Type() Type             { return TypePing }
func (GetConversations) Type() Type { return TypeGetConversations }
func (GetConversation) Type() Type  { return TypeGetConversation }
func (GetUsers) Type() Type         { return TypeGetUsers }
func (SendMessage) Type() Type      { return TypeSendMessage }
func (MarkRead) Type() Type         { return TypeMarkRead }

func (m MarkRead) Key() string { return m.MessageID }
