package sync

import (
	"time"

	"github.com/matheus3301/homecare/internal/wire"
)

// GetConversations requests the conversation list.
func (r Reducer) GetConversations(s State, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	t.emit(wire.GetConversations{})
	return t.done()
}

// GetUsers requests the user directory.
func (r Reducer) GetUsers(s State, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	t.emit(wire.GetUsers{})
	return t.done()
}

// GetConversationMessages requests the history shared with peer.
func (r Reducer) GetConversationMessages(s State, peer string, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	if peer != "" {
		t.emit(wire.GetConversation{OtherUserID: peer})
	}
	return t.done()
}

// SendMessage requests delivery of content to peer. Nothing is appended
// locally; the message shows up when the server acknowledges or echoes it.
// A peer other than the open one becomes the open conversation first.
func (r Reducer) SendMessage(s State, content, peer string, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	if peer == "" {
		return t.done()
	}
	if t.s.ActivePeer() != peer {
		t.startConversation(peer)
	}
	t.emit(wire.SendMessage{ReceiverID: peer, Content: content})
	return t.done()
}

// MarkAsRead sends a read receipt for a message.
func (r Reducer) MarkAsRead(s State, messageID string, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	t.markRead(messageID, true)
	return t.done()
}

// StartNewConversation opens the conversation with peer, creating a
// placeholder when none exists.
func (r Reducer) StartNewConversation(s State, peer string, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	t.startConversation(peer)
	return t.done()
}

// SetActiveConversation moves the open pointer. An empty id closes the
// current conversation.
func (r Reducer) SetActiveConversation(s State, id string, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	t.setActive(id)
	return t.done()
}

// Settle frees the throttle slot held by out. The engine calls it when out
// could not be handed to the transport.
func (r Reducer) Settle(s State, out wire.Outbound) State {
	key := requestKey(out)
	if key == "" {
		return s
	}
	if _, ok := s.Pending[key]; !ok {
		return s
	}
	s = s.Clone()
	s.settle(key)
	return s
}
