// Package binding adapts the connection manager's bus streams to the typed
// channels the sync store consumes.
package binding

import (
	"context"
	"sync"

	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
	"go.uber.org/zap"
)

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(ctx context.Context, out wire.Outbound) (string, error)
	Status() status.State
}

// Event is one item of the ordered stream handed to the sync store: either an
// inbound envelope or the state the connection entered.
type Event struct {
	Inbound wire.Inbound
	Status  status.State
}

// Binding forwards inbound envelopes and status changes on a single channel in
// bus order.
type Binding struct {
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger

	events chan Event

	mu      sync.RWMutex
	current status.State
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a binding over sender. Call Start before reading the channels.
func New(sender Sender, b *bus.Bus, logger *zap.Logger) *Binding {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding{
		sender:  sender,
		bus:     b,
		logger:  logger,
		events:  make(chan Event, 512),
		current: sender.Status(),
	}
}

// Start subscribes to the "conn." namespace.
func (b *Binding) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	ch, unsub := b.bus.Subscribe("conn.", 512)

	go func() {
		defer close(b.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				b.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the forwarder to exit.
func (b *Binding) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

func (b *Binding) handle(ctx context.Context, evt bus.Event) {
	var out Event
	switch evt.Kind {
	case conn.KindMessage:
		in, ok := evt.Payload.(wire.Inbound)
		if !ok {
			return
		}
		out.Inbound = in
	case status.KindStatusChanged:
		sc, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		b.mu.Lock()
		b.current = sc.To
		b.mu.Unlock()
		out.Status = sc.To
	default:
		return
	}
	select {
	case b.events <- out:
	case <-ctx.Done():
	}
}

// Events yields envelopes and status changes in the order the manager
// published them.
func (b *Binding) Events() <-chan Event { return b.events }

// Status returns the last state seen on the bus.
func (b *Binding) Status() status.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Send hands out to the manager.
func (b *Binding) Send(ctx context.Context, out wire.Outbound) (string, error) {
	key, err := b.sender.Send(ctx, out)
	if err != nil {
		b.logger.Debug("send rejected", zap.String("type", string(out.Type())), zap.Error(err))
	}
	return key, err
}
