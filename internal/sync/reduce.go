package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
)

// Reducer holds the fixed parameters of the state transitions. Its methods
// are pure: they never modify the State they are given and never perform I/O.
// Outbound envelopes they want sent are returned to the caller.
type Reducer struct {
	Window time.Duration
}

func (r Reducer) begin(s State, now time.Time) *tx {
	w := r.Window
	if w <= 0 {
		w = DefaultThrottleWindow
	}
	t := &tx{s: s.Clone(), now: now, window: w}
	t.s.expire(now, w)
	return t
}

// tx is one transition in progress over a private copy of the state.
type tx struct {
	s      State
	now    time.Time
	window time.Duration
	outs   []wire.Outbound
}

func (t *tx) done() (State, []wire.Outbound) { return t.s, t.outs }

// emit queues out unless its throttle slot is taken.
func (t *tx) emit(out wire.Outbound) bool {
	if !t.s.request(out, t.now, t.window) {
		return false
	}
	t.outs = append(t.outs, out)
	return true
}

func (t *tx) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return t.now
	}
	return at
}

// participant returns the best known record for id.
func (t *tx) participant(id string) wire.User {
	u, ok := t.s.User(id)
	if !ok {
		u = wire.User{ID: id}
	}
	return t.s.Presence.apply(u)
}

func (t *tx) setActive(id string) {
	if id == "" {
		t.s.ActiveID = ""
		t.s.Messages = nil
		return
	}
	if id != t.s.ActiveID {
		t.s.Messages = nil
	}
	t.s.ActiveID = id
	if peer := t.s.ActivePeer(); peer != "" {
		t.emit(wire.GetConversation{OtherUserID: peer})
	}
}

func (t *tx) startConversation(peer string) {
	if peer == "" {
		return
	}
	if i, ok := t.s.ConversationWith(peer); ok {
		t.setActive(t.s.Conversations[i].ID)
		return
	}
	conv := wire.Conversation{
		ID:           wire.PendingID(peer),
		Participants: []wire.User{t.participant(t.s.SelfID), t.participant(peer)},
		CreatedAt:    t.now,
		UpdatedAt:    t.now,
	}
	t.s.Conversations = slices.Insert(t.s.Conversations, 0, conv)
	t.setActive(conv.ID)
}

// markRead requests a read receipt and flips the local flag. With adjust set,
// the owning conversation's unread counter is decremented too.
func (t *tx) markRead(id string, adjust bool) {
	if id == "" || !t.emit(wire.MarkRead{MessageID: id}) {
		return
	}
	for i, m := range t.s.Messages {
		if m.ID != id || m.Read {
			continue
		}
		t.s.Messages[i].Read = true
		if !adjust || m.SenderID == t.s.SelfID {
			continue
		}
		if ci, ok := t.s.ConversationWith(m.Counterpart(t.s.SelfID)); ok && t.s.Conversations[ci].UnreadCount > 0 {
			t.s.Conversations[ci].UnreadCount--
		}
	}
}

// touch records m as the newest message of conversation i. It reports false
// when m is already the last message there. An older message arriving late
// does not displace a newer last message.
func (t *tx) touch(i int, m wire.Message) bool {
	c := &t.s.Conversations[i]
	if c.LastMessage != nil {
		if c.LastMessage.ID == m.ID {
			return false
		}
		if !m.CreatedAt.IsZero() && m.CreatedAt.Before(c.LastMessage.CreatedAt) {
			return true
		}
	}
	last := m
	c.LastMessage = &last
	c.UpdatedAt = t.stamp(m.CreatedAt)
	return true
}

// Apply folds one inbound envelope into s.
func (r Reducer) Apply(s State, in wire.Inbound, now time.Time) (State, []wire.Outbound) {
	t := r.begin(s, now)
	in.Accept(t)
	return t.done()
}

// Connection records a transport status change. Outstanding requests can no
// longer be answered once the socket leaves OPEN, so their slots are freed.
func (r Reducer) Connection(s State, st status.State, now time.Time) State {
	t := r.begin(s, now)
	t.s.Connection = st
	if st != status.Open {
		t.s.clearLoading()
		t.s.Authenticated = false
	}
	return t.s
}

func (t *tx) VisitWelcome(*wire.Welcome) {}
func (t *tx) VisitPong(*wire.Pong)       {}

func (t *tx) VisitAuthSuccess(ev *wire.AuthSuccess) {
	t.s.Authenticated = true
	t.s.AuthError = ""
	if t.s.SelfID == "" {
		t.s.SelfID = ev.UserID
	}
	if t.s.SelfID != "" {
		t.s.Presence[t.s.SelfID] = PresenceEntry{Online: true}
		t.s.mergePresence()
	}
	t.emit(wire.GetConversations{})
	t.emit(wire.GetUsers{})
}

func (t *tx) VisitAuthError(ev *wire.AuthError) {
	t.s.Authenticated = false
	t.s.AuthError = ev.Message
	if t.s.AuthError == "" {
		t.s.AuthError = "authentication failed"
	}
	t.s.clearLoading()
}

func (t *tx) VisitConversations(ev *wire.Conversations) {
	convs := make([]wire.Conversation, 0, len(ev.Conversations)+1)
	for _, c := range ev.Conversations {
		convs = append(convs, cloneConversation(c))
	}

	// An open placeholder survives a refresh until the server lists a
	// conversation with the same peer, which then takes over the pointer.
	if peer, ok := wire.PendingPeer(t.s.ActiveID); ok {
		adopted := false
		for _, c := range convs {
			if p, ok := c.Counterpart(t.s.SelfID); ok && p.ID == peer {
				t.s.ActiveID = c.ID
				adopted = true
				break
			}
		}
		if !adopted {
			if i := t.s.conversationIndex(t.s.ActiveID); i >= 0 {
				convs = slices.Insert(convs, 0, t.s.Conversations[i])
			}
		}
	}

	t.s.Conversations = convs
	t.s.sortConversations()
	t.s.mergePresence()
	t.s.settle(keyConversations)
}

func (t *tx) VisitUsers(ev *wire.Users) {
	t.s.Users = slices.Clone(ev.Users)
	t.s.mergePresence()
	t.s.settle(keyUsers)
}

func (t *tx) VisitHistory(ev *wire.History) {
	peer := t.s.ActivePeer()
	key := keyHistory + peer
	applies := peer != ""
	if applies && len(ev.Messages) > 0 {
		applies = ev.Messages[0].Involves(peer)
	} else if applies {
		_, applies = t.s.Pending[key]
	}
	if !applies {
		if len(ev.Messages) > 0 && t.s.SelfID != "" {
			t.s.settle(keyHistory + ev.Messages[0].Counterpart(t.s.SelfID))
		}
		return
	}

	t.s.Messages = slices.Clone(ev.Messages)
	t.s.settle(key)

	read := false
	for _, m := range t.s.Messages {
		if m.SenderID == peer && !m.Read {
			t.markRead(m.ID, false)
			read = true
		}
	}
	if read {
		if i := t.s.conversationIndex(t.s.ActiveID); i >= 0 {
			t.s.Conversations[i].UnreadCount = 0
		}
	}
}

func (t *tx) VisitNewMessage(ev *wire.NewMessage) {
	m := ev.Message
	peer := m.Counterpart(t.s.SelfID)
	open := peer != "" && t.s.ActivePeer() == peer
	fresh := open && !t.s.hasMessage(m.ID)
	if fresh {
		t.s.insertMessage(m)
	}

	i, ok := t.s.ConversationWith(peer)
	if !ok {
		t.emit(wire.GetConversations{})
		return
	}
	if t.touch(i, m) && m.SenderID == peer && !open {
		t.s.Conversations[i].UnreadCount++
	}
	t.s.sortConversations()

	if fresh && m.SenderID == peer && !m.Read {
		t.markRead(m.ID, false)
	}
}

func (t *tx) VisitMessageSent(ev *wire.MessageSent) {
	m := ev.Message
	// The acknowledgement echoes our own message, so the receiver is the peer
	// even before our own id is known.
	peer := m.ReceiverID
	cid := ev.ConversationID

	reconciled := false
	if cid != "" {
		pid := wire.PendingID(peer)
		if pi := t.s.conversationIndex(pid); pi >= 0 {
			if t.s.conversationIndex(cid) >= 0 {
				t.s.Conversations = slices.Delete(t.s.Conversations, pi, pi+1)
			} else {
				t.s.Conversations[pi].ID = cid
			}
			reconciled = true
		}
		if t.s.ActiveID == pid {
			t.s.ActiveID = cid
			reconciled = true
		}
	}

	i := -1
	if cid != "" {
		i = t.s.conversationIndex(cid)
	}
	if i < 0 {
		if j, ok := t.s.ConversationWith(peer); ok {
			i = j
		}
	}
	if i < 0 && cid != "" {
		at := t.stamp(m.CreatedAt)
		conv := wire.Conversation{
			ID:           cid,
			Participants: []wire.User{t.participant(t.s.SelfID), t.participant(peer)},
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		t.s.Conversations = slices.Insert(t.s.Conversations, 0, conv)
		i = 0
	}
	if i >= 0 {
		t.touch(i, m)
	}

	if peer != "" && t.s.ActivePeer() == peer {
		t.s.insertMessage(m)
	}
	t.s.sortConversations()

	if reconciled {
		t.emit(wire.GetConversations{})
	}
}

func (t *tx) VisitUnreadMessages(*wire.UnreadMessages) {
	t.emit(wire.GetConversations{})
}

func (t *tx) VisitUserStatusChange(ev *wire.UserStatusChange) {
	if ev.User.ID == "" {
		return
	}
	t.s.upsertPresence(ev.User, ev.IsOnline, t.now)
}

func (t *tx) VisitError(ev *wire.ErrorEvent) {
	t.s.LastError = ev.Message
	t.s.clearLoading()
}
