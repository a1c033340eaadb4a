package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		raw  string
		want Type
	}{
		{`{"type":"welcome"}`, TypeWelcome},
		{`{"type":"auth_success","userId":"U1"}`, TypeAuthSuccess},
		{`{"type":"conversations","conversations":[]}`, TypeConversations},
		{`{"type":"all_conversations","conversations":[]}`, TypeAllConversations},
		{`{"type":"all_users","users":[{"id":"U2"}]}`, TypeAllUsers},
		{`{"type":"messages","messages":[]}`, TypeMessages},
		{`{"type":"error","message":"boom"}`, TypeError},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			in, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if in.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", in.Type(), tt.want)
			}
		})
	}
}

func TestDecodeAliasesShareShape(t *testing.T) {
	a, err := Decode([]byte(`{"type":"conversation_history","messages":[{"id":"m1"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Decode([]byte(`{"type":"messages","messages":[{"id":"m1"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	ha, ok := a.(*History)
	if !ok {
		t.Fatalf("conversation_history decoded as %T", a)
	}
	hb, ok := b.(*History)
	if !ok {
		t.Fatalf("messages decoded as %T", b)
	}
	if ha.Messages[0].ID != hb.Messages[0].ID {
		t.Errorf("alias payloads differ: %v vs %v", ha.Messages, hb.Messages)
	}
}

func TestDecodeMessageSent(t *testing.T) {
	raw := `{"type":"message_sent","messageId":"k1","conversationId":"C1",
		"message":{"id":"m1","senderId":"U1","receiverId":"U2","content":"hi","createdAt":"2024-05-01T10:00:00Z"}}`
	in, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := in.(*MessageSent)
	if !ok {
		t.Fatalf("decoded as %T, want *MessageSent", in)
	}
	if ev.Key() != "k1" {
		t.Errorf("Key() = %q, want k1", ev.Key())
	}
	if ev.ConversationID != "C1" || ev.Message.ID != "m1" || ev.Message.Content != "hi" {
		t.Errorf("unexpected payload: %+v", ev)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !ev.Message.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", ev.Message.CreatedAt, want)
	}
}

func TestDecodeStatusChangeForms(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		id     string
		online bool
	}{
		{"object", `{"type":"user_status_change","user":{"id":"U3","firstName":"Ana"},"isOnline":true}`, "U3", true},
		{"bare id", `{"type":"user_status_change","user":"U4","isOnline":false,"lastSeen":"2024-05-01T10:00:00Z"}`, "U4", false},
		{"user id field", `{"type":"user_status_change","userId":"U5","isOnline":true}`, "U5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			ev := in.(*UserStatusChange)
			if ev.User.ID != tt.id {
				t.Errorf("User.ID = %q, want %q", ev.User.ID, tt.id)
			}
			if ev.IsOnline != tt.online || ev.User.IsOnline != tt.online {
				t.Errorf("online = %v/%v, want %v", ev.IsOnline, ev.User.IsOnline, tt.online)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{oops`, ErrMalformed},
		{"no type", `{"message":"x"}`, ErrMalformed},
		{"unknown", `{"type":"typing"}`, ErrUnknownType},
		{"status without user", `{"type":"user_status_change","isOnline":true}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.want)
			}
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Errorf("error %T is not a *ProtocolError", err)
			}
		})
	}
}

func TestEncodeStampsTypeAndKey(t *testing.T) {
	body, err := Encode(SendMessage{ReceiverID: "U2", Content: "hi"}, "k-42")
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(body, "type").String(); got != "send_message" {
		t.Errorf("type = %q, want send_message", got)
	}
	if got := gjson.GetBytes(body, "messageId").String(); got != "k-42" {
		t.Errorf("messageId = %q, want k-42", got)
	}
	if got := gjson.GetBytes(body, "receiverId").String(); got != "U2" {
		t.Errorf("receiverId = %q, want U2", got)
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	body, err := Encode(GetUsers{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"type":"get_users"}` {
		t.Errorf("body = %s", body)
	}
}

func TestMarkReadKeyIsTarget(t *testing.T) {
	mr := MarkRead{MessageID: "m9"}
	if mr.Key() != "m9" {
		t.Errorf("Key() = %q, want m9", mr.Key())
	}
	body, err := Encode(mr, mr.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(body, "messageId").String(); got != "m9" {
		t.Errorf("messageId = %q, want m9", got)
	}
}

func TestPendingIDs(t *testing.T) {
	id := PendingID("U7")
	if id != "temp-U7" {
		t.Errorf("PendingID = %q", id)
	}
	peer, ok := PendingPeer(id)
	if !ok || peer != "U7" {
		t.Errorf("PendingPeer(%q) = %q, %v", id, peer, ok)
	}
	if _, ok := PendingPeer("C1"); ok {
		t.Error("PendingPeer accepted a confirmed id")
	}
	if _, ok := PendingPeer("temp-"); ok {
		t.Error("PendingPeer accepted an empty peer")
	}
}
