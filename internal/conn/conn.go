// Package conn owns the realtime socket: dialing, authentication, heartbeats,
// reconnection with backoff and inbound deduplication.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/homecare/internal/backoff"
	"github.com/matheus3301/homecare/internal/config"
	"github.com/matheus3301/homecare/internal/wire"
)

// Bus event kinds published by the manager. Status transitions are published
// by the status machine as status.KindStatusChanged.
const (
	KindMessage            = "conn.message"             // payload: wire.Inbound
	KindSent               = "conn.sent"                // payload: Sent
	KindDropped            = "conn.dropped"             // payload: Dropped
	KindReconnectScheduled = "conn.reconnect_scheduled" // payload: ReconnectScheduled
	KindReconnectExhausted = "conn.reconnect_exhausted" // payload: ReconnectExhausted
	KindAuthFailed         = "conn.auth_failed"         // payload: AuthFailed
	KindTransportError     = "conn.transport_error"     // payload: *TransportError
)

var (
	ErrNotOpen      = errors.New("connection not open")
	ErrRateLimited  = errors.New("outbound rate limit exceeded")
	ErrStopped      = errors.New("connection manager stopped")
	ErrNoCredential = errors.New("no credential")

	errConnectTimeout = errors.New("connect timeout")
	errStale          = errors.New("no inbound traffic")
)

// TransportError wraps a dial, read or write failure on the socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Sent records an envelope handed to the socket.
type Sent struct {
	Type wire.Type `json:"type"`
	Key  string    `json:"key"`
}

// Dropped records an envelope that was not transmitted.
type Dropped struct {
	Type   wire.Type `json:"type"`
	Key    string    `json:"key"`
	Reason string    `json:"reason"`
}

type ReconnectScheduled struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

type ReconnectExhausted struct {
	Attempts int `json:"attempts"`
}

type AuthFailed struct {
	Message string `json:"message"`
}

// Conn is the part of *websocket.Conn the manager uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
	SetReadLimit(n int64)
}

// Dialer opens a socket to endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// WebsocketDialer dials with github.com/coder/websocket.
func WebsocketDialer(header http.Header) Dialer {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		c, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header}) //nolint:bodyclose // Dial closes the response body
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Options configures a Manager.
type Options struct {
	Endpoint          string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration // zero disables the liveness check
	WriteTimeout      time.Duration
	ReadLimit         int64
	SendRate          float64 // zero disables the outbound limiter
	SendBurst         int
	DedupeCapacity    int
	Backoff           backoff.Policy
	Dialer            Dialer
}

// OptionsFromConfig maps the [realtime] config section onto Options.
func OptionsFromConfig(rt config.Realtime) Options {
	return Options{
		Endpoint:          rt.Endpoint,
		ConnectTimeout:    rt.ConnectTimeout,
		HeartbeatInterval: rt.HeartbeatInterval,
		StaleAfter:        rt.StaleAfter,
		WriteTimeout:      rt.WriteTimeout,
		ReadLimit:         1 << 20,
		SendRate:          rt.SendRate,
		SendBurst:         rt.SendBurst,
		DedupeCapacity:    rt.DedupeCapacity,
		Backoff:           rt.Backoff,
	}
}

func (o *Options) applyDefaults() {
	def := config.Default().Realtime
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.Backoff.Base <= 0 {
		o.Backoff = def.Backoff
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer(nil)
	}
}
