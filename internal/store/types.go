package store

import "time"

// Journal event kinds stored in connection_events.kind.
const (
	EventStatusChanged      = "status_changed"
	EventReconnectScheduled = "reconnect_scheduled"
	EventReconnectExhausted = "reconnect_exhausted"
	EventAuthFailed         = "auth_failed"
	EventTransportError     = "transport_error"
)

// Outbound outcomes stored in outbound_log.outcome.
const (
	OutcomeSent    = "sent"
	OutcomeDropped = "dropped"
)

// ConnectionEvent is one row of the connection journal.
type ConnectionEvent struct {
	ID        int64
	Kind      string
	From      string
	To        string
	Attempt   int
	Delay     time.Duration
	Detail    string
	CreatedAt time.Time
}

// OutboundEntry records what happened to one outbound envelope. Envelope
// bodies are not kept.
type OutboundEntry struct {
	ID        int64
	Key       string
	Type      string
	Outcome   string
	Reason    string
	CreatedAt time.Time
}
