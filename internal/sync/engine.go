// Package sync keeps the client's view of conversations, messages, users and
// presence in step with the realtime server.
package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"time"

	"github.com/matheus3301/homecare/internal/binding"
	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/wire"
	"go.uber.org/zap"
)

// KindUpdated is published after every committed state change.
const KindUpdated = "store.updated"

// Updated is the payload of KindUpdated.
type Updated struct {
	Cause   string `json:"cause"`
	Version uint64 `json:"version"`
}

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrNoPeer       = errors.New("peer id is required")
	ErrNoMessageID  = errors.New("message id is required")
	ErrStopped      = errors.New("sync engine stopped")
)

// Transport is what the engine needs from the connection layer. Events must
// deliver envelopes and status changes in the order they happened.
type Transport interface {
	Events() <-chan binding.Event
	Send(ctx context.Context, out wire.Outbound) (string, error)
}

// Engine serializes every action and inbound envelope through one goroutine,
// applies them with a Reducer and publishes the result.
type Engine struct {
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	reducer   Reducer
	now       func() time.Time

	inbox   chan func()
	stopped chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	mu      gosync.RWMutex
	state   State
	version uint64
}

// NewEngine creates an engine for selfID. A zero window uses DefaultThrottleWindow.
func NewEngine(t Transport, b *bus.Bus, selfID string, window time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		transport: t,
		bus:       b,
		logger:    logger,
		reducer:   Reducer{Window: window},
		now:       time.Now,
		inbox:     make(chan func()),
		stopped:   make(chan struct{}),
		state:     NewState(selfID),
	}
}

// Start runs the engine loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop ends the loop and waits for it.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case ev := <-e.transport.Events():
			e.apply(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) apply(ctx context.Context, ev binding.Event) {
	if ev.Inbound == nil {
		s := e.reducer.Connection(e.current(), ev.Status, e.now())
		_ = e.commit(ctx, "status:"+string(ev.Status), s, nil)
		return
	}
	in := ev.Inbound
	s, outs := e.reducer.Apply(e.current(), in, e.now())
	if err := e.commit(ctx, string(in.Type()), s, outs); err != nil {
		e.logger.Debug("follow-up request not sent", zap.String("type", string(in.Type())), zap.Error(err))
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.inbox <- wrapped:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) current() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// commit publishes s and hands outs to the transport. A request that could
// not be sent releases its throttle slot. The first send error is returned.
func (e *Engine) commit(ctx context.Context, cause string, s State, outs []wire.Outbound) error {
	var first error
	for _, out := range outs {
		if _, err := e.transport.Send(ctx, out); err != nil {
			s = e.reducer.Settle(s, out)
			if first == nil {
				first = err
			}
		}
	}

	e.mu.Lock()
	e.state = s
	e.version++
	v := e.version
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Emit(KindUpdated, Updated{Cause: cause, Version: v})
	}
	return first
}

type action func(s State, now time.Time) (State, []wire.Outbound)

func (e *Engine) run(ctx context.Context, cause string, act action) error {
	var sendErr error
	err := e.do(ctx, func() {
		s, outs := act(e.current(), e.now())
		sendErr = e.commit(ctx, cause, s, outs)
	})
	if err != nil {
		return err
	}
	return sendErr
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	return e.current().Clone()
}

// Version counts committed changes.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// IsUserOnline reports the presence flag for id.
func (e *Engine) IsUserOnline(id string) bool {
	return e.current().IsUserOnline(id)
}

func (e *Engine) GetConversations(ctx context.Context) error {
	return e.run(ctx, "get_conversations", e.reducer.GetConversations)
}

func (e *Engine) GetUsers(ctx context.Context) error {
	return e.run(ctx, "get_users", e.reducer.GetUsers)
}

// GetConversationMessages requests the history shared with peer.
func (e *Engine) GetConversationMessages(ctx context.Context, peer string) error {
	if peer == "" {
		return ErrNoPeer
	}
	return e.run(ctx, "get_conversation", func(s State, now time.Time) (State, []wire.Outbound) {
		return e.reducer.GetConversationMessages(s, peer, now)
	})
}

// SendMessage sends content to peer. The returned error is the transport's
// verdict; a nil error means the envelope was written, not delivered.
func (e *Engine) SendMessage(ctx context.Context, content, peer string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if peer == "" {
		return ErrNoPeer
	}
	return e.run(ctx, "send_message", func(s State, now time.Time) (State, []wire.Outbound) {
		return e.reducer.SendMessage(s, content, peer, now)
	})
}

func (e *Engine) MarkAsRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return ErrNoMessageID
	}
	return e.run(ctx, "mark_read", func(s State, now time.Time) (State, []wire.Outbound) {
		return e.reducer.MarkAsRead(s, messageID, now)
	})
}

// StartNewConversation opens the conversation with peer and returns its id,
// which is a placeholder until the server confirms it. The conversation is
// open locally even when the history request could not be sent; the id is
// returned together with the send error in that case.
func (e *Engine) StartNewConversation(ctx context.Context, peer string) (string, error) {
	if peer == "" {
		return "", ErrNoPeer
	}
	var (
		id      string
		sendErr error
	)
	err := e.do(ctx, func() {
		s, outs := e.reducer.StartNewConversation(e.current(), peer, e.now())
		id = s.ActiveID
		sendErr = e.commit(ctx, "start_conversation", s, outs)
	})
	if err != nil {
		return "", err
	}
	return id, sendErr
}

// SetActiveConversation opens id, or closes the open conversation when id is "".
func (e *Engine) SetActiveConversation(ctx context.Context, id string) error {
	return e.run(ctx, "set_active", func(s State, now time.Time) (State, []wire.Outbound) {
		return e.reducer.SetActiveConversation(s, id, now)
	})
}

// Reset discards everything and starts over for selfID. Used when the
// credential changes.
func (e *Engine) Reset(ctx context.Context, selfID string) error {
	return e.do(ctx, func() {
		s := NewState(selfID)
		s.Connection = e.current().Connection
		_ = e.commit(ctx, "reset", s, nil)
	})
}
