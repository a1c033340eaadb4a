package wire

import (
	"strings"
	"time"
)

// PendingPrefix marks a conversation id that was synthesized locally and has
// not yet been confirmed by the server.
const PendingPrefix = "temp-"

// Message is a single chat message. Only Read changes after creation.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Read       bool      `json:"read"`
}

// Counterpart returns the id of the participant that is not self.
func (m Message) Counterpart(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether peer is the sender or the receiver.
func (m Message) Involves(peer string) bool {
	return m.SenderID == peer || m.ReceiverID == peer
}

// User is a directory entry.
type User struct {
	ID        string     `json:"id"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Email     string     `json:"email,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// DisplayName joins the name fields, falling back to the id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.ID
	}
	return name
}

// Conversation is a two-party thread.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int       `json:"unreadCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Counterpart returns the first participant whose id differs from self.
func (c Conversation) Counterpart(self string) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return User{}, false
}

// HasParticipant reports whether id takes part in the conversation.
func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Pending reports whether the conversation is a local placeholder.
func (c Conversation) Pending() bool {
	return strings.HasPrefix(c.ID, PendingPrefix)
}

// PendingID builds the placeholder id for a conversation with peer.
func PendingID(peer string) string {
	return PendingPrefix + peer
}

// PendingPeer extracts the peer id from a placeholder id.
func PendingPeer(id string) (string, bool) {
	peer, ok := strings.CutPrefix(id, PendingPrefix)
	if !ok || peer == "" {
		return "", false
	}
	return peer, true
}
