package sync

import (
	"slices"
	"sort"
	"time"

	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
)

// Loading flags a fetch that has been sent and not yet answered.
type Loading struct {
	Conversations bool
	Users         bool
	Messages      bool
}

// State is everything the store knows. Values are never mutated in place:
// every transition returns a fresh State, so a snapshot handed to a reader
// stays valid.
type State struct {
	SelfID        string
	Conversations []wire.Conversation // most recently updated first
	ActiveID      string              // "" when no conversation is open
	Messages      []wire.Message      // history of the active conversation
	Users         []wire.User
	Presence      Presence
	Loading       Loading
	// Pending maps a request key to when it was sent; see requestKey.
	Pending map[string]time.Time

	Connection    status.State
	Authenticated bool
	AuthError     string // terminal until the credential changes
	LastError     string // most recent server error message
}

// NewState returns an empty state for the given user.
func NewState(selfID string) State {
	return State{
		SelfID:     selfID,
		Presence:   Presence{},
		Pending:    map[string]time.Time{},
		Connection: status.Closed,
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Conversations = make([]wire.Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		out.Conversations[i] = cloneConversation(c)
	}
	out.Messages = slices.Clone(s.Messages)
	out.Users = slices.Clone(s.Users)
	out.Presence = s.Presence.clone()
	out.Pending = make(map[string]time.Time, len(s.Pending))
	for k, v := range s.Pending {
		out.Pending[k] = v
	}
	return out
}

func cloneConversation(c wire.Conversation) wire.Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

// Active returns the open conversation, if it is in the list.
func (s State) Active() (wire.Conversation, bool) {
	if s.ActiveID == "" {
		return wire.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.ActiveID {
			return c, true
		}
	}
	return wire.Conversation{}, false
}

// ActivePeer returns the counterpart of the open conversation.
func (s State) ActivePeer() string {
	if s.ActiveID == "" {
		return ""
	}
	if c, ok := s.Active(); ok {
		if p, ok := c.Counterpart(s.SelfID); ok {
			return p.ID
		}
	}
	if peer, ok := wire.PendingPeer(s.ActiveID); ok {
		return peer
	}
	return ""
}

// ConversationWith returns the index of the conversation whose counterpart is peer.
func (s State) ConversationWith(peer string) (int, bool) {
	for i, c := range s.Conversations {
		if p, ok := c.Counterpart(s.SelfID); ok && p.ID == peer {
			return i, true
		}
		if id, ok := wire.PendingPeer(c.ID); ok && id == peer {
			return i, true
		}
	}
	return -1, false
}

func (s State) conversationIndex(id string) int {
	for i, c := range s.Conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// User returns the directory entry for id.
func (s State) User(id string) (wire.User, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u, true
		}
	}
	return wire.User{}, false
}

// IsUserOnline consults the presence map, then the directory flag.
func (s State) IsUserOnline(id string) bool {
	if p, ok := s.Presence[id]; ok {
		return p.Online
	}
	if u, ok := s.User(id); ok {
		return u.IsOnline
	}
	return false
}

func (s State) hasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// insertMessage places m by CreatedAt, after any message with an equal or
// earlier timestamp. Messages without a timestamp go last.
func (s *State) insertMessage(m wire.Message) {
	if s.hasMessage(m.ID) {
		return
	}
	i := len(s.Messages)
	if !m.CreatedAt.IsZero() {
		for i > 0 && s.Messages[i-1].CreatedAt.After(m.CreatedAt) {
			i--
		}
	}
	s.Messages = slices.Insert(s.Messages, i, m)
}

// sortConversations orders by UpdatedAt, newest first, keeping ties stable.
func (s *State) sortConversations() {
	sort.SliceStable(s.Conversations, func(i, j int) bool {
		return s.Conversations[i].UpdatedAt.After(s.Conversations[j].UpdatedAt)
	})
}

func (s *State) clearLoading() {
	s.Loading = Loading{}
	s.Pending = map[string]time.Time{}
}
