// Package journal writes connection diagnostics from the bus into the store.
package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/store"
	"go.uber.org/zap"
)

// DefaultRetention is how long journal rows are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Recorder persists "conn." events. Envelope bodies are never written.
type Recorder struct {
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRecorder creates a recorder. A zero retention uses DefaultRetention.
func NewRecorder(db *store.DB, b *bus.Bus, retention time.Duration, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recorder{db: db, bus: b, logger: logger, retention: retention}
}

// Start prunes expired rows and begins recording.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe("conn.", 512)

	if n, err := r.db.Prune(time.Now().Add(-r.retention)); err != nil {
		r.logger.Warn("journal prune failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("journal pruned", zap.Int64("rows", n))
	}

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if err := r.record(evt); err != nil {
					r.logger.Error("journal write failed", zap.String("kind", evt.Kind), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop waits for the recorder to finish its current write.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Recorder) record(evt bus.Event) error {
	at := evt.Timestamp
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		if err := r.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventStatusChanged, From: string(p.From), To: string(p.To), CreatedAt: at,
		}); err != nil {
			return err
		}
		if p.To == status.Open {
			return r.db.SetState(store.StateLastOpenAt, strconv.FormatInt(at.UnixMilli(), 10))
		}
		return nil
	case conn.ReconnectScheduled:
		return r.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventReconnectScheduled, Attempt: p.Attempt, Delay: p.Delay, CreatedAt: at,
		})
	case conn.ReconnectExhausted:
		return r.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventReconnectExhausted, Attempt: p.Attempts, CreatedAt: at,
		})
	case conn.AuthFailed:
		return r.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventAuthFailed, Detail: p.Message, CreatedAt: at,
		})
	case *conn.TransportError:
		return r.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventTransportError, Detail: p.Error(), CreatedAt: at,
		})
	case conn.Sent:
		return r.db.RecordOutbound(&store.OutboundEntry{
			Key: p.Key, Type: string(p.Type), Outcome: store.OutcomeSent, CreatedAt: at,
		})
	case conn.Dropped:
		return r.db.RecordOutbound(&store.OutboundEntry{
			Key: p.Key, Type: string(p.Type), Outcome: store.OutcomeDropped, Reason: p.Reason, CreatedAt: at,
		})
	}
	return nil
}

// LastOpen returns when the connection last reached OPEN, or the zero time.
func LastOpen(db *store.DB) (time.Time, error) {
	v, err := db.GetState(store.StateLastOpenAt)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal: bad last_open_at %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}
