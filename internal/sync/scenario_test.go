package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/homecare/internal/binding"
	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/tidwall/gjson"
)

// pipeConn is an in-memory socket: the test pushes server frames into in and
// reads client frames from out.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *pipeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case p := <-c.in:
		return websocket.MessageText, p, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *pipeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case c.out <- append([]byte(nil), p...):
	default:
	}
	return nil
}

func (c *pipeConn) Close(websocket.StatusCode, string) error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *pipeConn) CloseNow() error    { return c.Close(websocket.StatusAbnormalClosure, "") }
func (c *pipeConn) SetReadLimit(int64) {}

func (c *pipeConn) expect(t *testing.T, typ string) gjson.Result {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-c.out:
			if r := gjson.ParseBytes(p); r.Get("type").String() == typ {
				return r
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", typ)
			return gjson.Result{}
		}
	}
}

func TestSendAcknowledgeAndDuplicateEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()
	pc := newPipeConn()
	mgr := conn.NewManager(conn.Options{
		Endpoint:          "ws://test/ws",
		HeartbeatInterval: time.Hour,
		Dialer: func(context.Context, string) (conn.Conn, error) {
			return pc, nil
		},
	}, b, status.NewMachine(b), nil)
	bd := binding.New(mgr, b, nil)
	eng := NewEngine(bd, b, "U1", 5*time.Second, nil)

	updates, unsub := b.Subscribe("store.", 256)
	defer unsub()

	mgr.Start(ctx)
	bd.Start(ctx)
	eng.Start(ctx)
	defer mgr.Stop()
	defer bd.Stop()
	defer eng.Stop()

	if err := mgr.Connect(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	if tok := pc.expect(t, "auth").Get("token").String(); tok != "tok" {
		t.Fatalf("auth token = %q", tok)
	}
	waitCause(t, updates, "status:OPEN")

	if err := eng.SendMessage(ctx, "hi", "U2"); err != nil {
		t.Fatal(err)
	}
	sent := pc.expect(t, "send_message")
	if sent.Get("receiverId").String() != "U2" || sent.Get("content").String() != "hi" || sent.Get("messageId").String() == "" {
		t.Errorf("send_message = %s", sent.Raw)
	}

	ack := []byte(`{"type":"message_sent","messageId":"e1","conversationId":"C1",` +
		`"message":{"id":"m1","senderId":"U1","receiverId":"U2","content":"hi","createdAt":"2026-03-01T12:00:00Z","read":false}}`)
	pc.in <- ack
	waitCause(t, updates, "message_sent")

	// Same envelope again, then a marker so we know the duplicate was processed.
	pc.in <- ack
	pc.in <- []byte(`{"type":"user_status_change","messageId":"e2","user":{"id":"U2"},"isOnline":true}`)
	waitCause(t, updates, "user_status_change")

	s := eng.Snapshot()
	if s.ActiveID != "C1" {
		t.Errorf("active = %q, want C1", s.ActiveID)
	}
	if diff := cmp.Diff([]string{"C1"}, conversationIDs(s.Conversations)); diff != "" {
		t.Errorf("conversations (-want +got):\n%s", diff)
	}
	if lm := s.Conversations[0].LastMessage; lm == nil || lm.Content != "hi" {
		t.Errorf("last message = %+v", lm)
	}
	if diff := cmp.Diff([]string{"m1"}, messageIDs(s.Messages)); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if !s.IsUserOnline("U2") {
		t.Error("U2 presence not applied")
	}
}
