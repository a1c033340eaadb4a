package sync

import (
	"strings"
	"time"

	"github.com/matheus3301/homecare/internal/wire"
)

// DefaultThrottleWindow is how long an unanswered request blocks a repeat.
const DefaultThrottleWindow = 5 * time.Second

const (
	keyConversations = "conversations"
	keyUsers         = "users"
	keyHistory       = "history:"
	keyRead          = "read:"
)

// requestKey names the throttle slot for out. Sends are never throttled.
func requestKey(out wire.Outbound) string {
	switch o := out.(type) {
	case wire.GetConversations:
		return keyConversations
	case wire.GetUsers:
		return keyUsers
	case wire.GetConversation:
		return keyHistory + o.OtherUserID
	case wire.MarkRead:
		return keyRead + o.MessageID
	default:
		return ""
	}
}

// request claims the throttle slot for out. It reports false when an earlier
// request of the same kind is still outstanding inside the window.
func (s *State) request(out wire.Outbound, now time.Time, window time.Duration) bool {
	key := requestKey(out)
	if key == "" {
		return true
	}
	if at, ok := s.Pending[key]; ok && now.Sub(at) < window {
		return false
	}
	s.Pending[key] = now
	s.syncLoading()
	return true
}

// expire drops slots claimed more than window ago. Read receipts are never
// answered, so without this their slots would pile up while the socket stays
// open.
func (s *State) expire(now time.Time, window time.Duration) {
	dropped := false
	for k, at := range s.Pending {
		if now.Sub(at) >= window {
			delete(s.Pending, k)
			dropped = true
		}
	}
	if dropped {
		s.syncLoading()
	}
}

// settle releases the slot once a matching response arrived or the send failed.
func (s *State) settle(key string) {
	delete(s.Pending, key)
	s.syncLoading()
}

func (s *State) syncLoading() {
	_, s.Loading.Conversations = s.Pending[keyConversations]
	_, s.Loading.Users = s.Pending[keyUsers]
	s.Loading.Messages = false
	for k := range s.Pending {
		if strings.HasPrefix(k, keyHistory) {
			s.Loading.Messages = true
			break
		}
	}
}
