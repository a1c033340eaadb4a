package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: "conn.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "conn.status_changed" {
			t.Errorf("got kind %q, want conn.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(Event{Kind: "conn.status_changed"})
	b.Publish(Event{Kind: "store.updated"})

	select {
	case evt := <-ch:
		if evt.Kind != "store.updated" {
			t.Errorf("got kind %q, want store.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure conn event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	before := time.Now()
	b.Emit("conn.sent", 42)

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v is before publish time %v", evt.Timestamp, before)
	}
	if evt.Payload != 42 {
		t.Errorf("payload = %v, want 42", evt.Payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()
	unsub() // second call is a no-op

	b.Publish(Event{Kind: "conn.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestEventNamespace(t *testing.T) {
	tests := map[string]string{
		"conn.status_changed": "conn.",
		"store.updated":       "store.",
		"bare":                "bare",
	}
	for kind, want := range tests {
		if got := (Event{Kind: kind}).Namespace(); got != want {
			t.Errorf("Namespace(%q) = %q, want %q", kind, got, want)
		}
	}
}
