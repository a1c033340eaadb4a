package binding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
)

type fakeSender struct {
	sent []wire.Outbound
	err  error
}

func (f *fakeSender) Send(_ context.Context, out wire.Outbound) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, out)
	return "k1", nil
}

func (f *fakeSender) Status() status.State { return status.Closed }

func next(t *testing.T, bd *Binding) Event {
	t.Helper()
	select {
	case ev := <-bd.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestForwardsMessagesAndStatus(t *testing.T) {
	b := bus.New()
	bd := New(&fakeSender{}, b, nil)
	bd.Start(context.Background())
	defer bd.Stop()

	if bd.Status() != status.Closed {
		t.Fatalf("initial status = %s", bd.Status())
	}

	m := status.NewMachine(b)
	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	b.Emit(conn.KindMessage, &wire.AuthSuccess{UserID: "U1"})
	b.Emit(conn.KindSent, conn.Sent{Type: wire.TypeAuth})

	if ev := next(t, bd); ev.Status != status.Connecting || ev.Inbound != nil {
		t.Errorf("first event = %+v, want CONNECTING", ev)
	}
	if ev := next(t, bd); ev.Status != "" {
		t.Errorf("second event = %+v, want an envelope", ev)
	} else if _, ok := ev.Inbound.(*wire.AuthSuccess); !ok {
		t.Errorf("message = %T, want *wire.AuthSuccess", ev.Inbound)
	}
	if bd.Status() != status.Connecting {
		t.Errorf("Status() = %s, want CONNECTING", bd.Status())
	}

	select {
	case ev := <-bd.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestKeepsStatusAndEnvelopeOrder(t *testing.T) {
	b := bus.New()
	bd := New(&fakeSender{}, b, nil)
	bd.Start(context.Background())
	defer bd.Stop()

	m := status.NewMachine(b)
	for i := 0; i < 50; i++ {
		if err := m.Transition(status.Connecting); err != nil {
			t.Fatal(err)
		}
		if err := m.Transition(status.Open); err != nil {
			t.Fatal(err)
		}
		b.Emit(conn.KindMessage, &wire.AuthSuccess{UserID: "U1"})
		if err := m.Transition(status.Closed); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 50; i++ {
		for _, want := range []status.State{status.Connecting, status.Open, "", status.Closed} {
			ev := next(t, bd)
			if ev.Status != want {
				t.Fatalf("round %d: event = %+v, want status %q", i, ev, want)
			}
			if want == "" && ev.Inbound == nil {
				t.Fatalf("round %d: empty event", i)
			}
		}
	}
}

func TestSendDelegates(t *testing.T) {
	s := &fakeSender{}
	bd := New(s, bus.New(), nil)
	key, err := bd.Send(context.Background(), wire.GetUsers{})
	if err != nil || key != "k1" {
		t.Fatalf("Send = %q, %v", key, err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d", len(s.sent))
	}

	s.err = conn.ErrNotOpen
	if _, err := bd.Send(context.Background(), wire.GetUsers{}); !errors.Is(err, conn.ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}
