package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/dedupe"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager is the long-lived owner of the realtime socket. One goroutine (the
// loop) owns the socket, timers and counters; public methods, timer callbacks,
// the dialer and the reader all hand work to it through inbox. A generation
// counter is bumped whenever the socket is replaced or torn down so callbacks
// from an older socket are ignored.
type Manager struct {
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	seen    *dedupe.Set
	limiter *rate.Limiter

	inbox    chan func()
	stopped  chan struct{}
	loopDone chan struct{}
	startMu  sync.Mutex
	cancel   context.CancelFunc

	// Owned by the loop.
	ctx              context.Context
	conn             Conn
	connCtx          context.Context
	connCancel       context.CancelFunc
	gen              uint64
	token            string
	attempts         int
	explicit         bool
	reconnectPending bool
	connectTimer     *time.Timer
	reconnectTimer   *time.Timer
	lastInbound      time.Time
}

// Info is a point-in-time view of the manager.
type Info struct {
	State            status.State
	Endpoint         string
	Attempts         int
	HasCredential    bool
	ReconnectPending bool
	LastInbound      time.Time
}

// NewManager creates a manager. Call Start before using it.
func NewManager(opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		opts:     opts,
		bus:      b,
		machine:  machine,
		logger:   logger.Named("conn"),
		seen:     dedupe.New(opts.DedupeCapacity),
		inbox:    make(chan func(), 64),
		stopped:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}
	return m
}

// Start runs the manager loop until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.cancel != nil {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.loop()
}

// Stop closes the socket without reconnecting and ends the loop.
func (m *Manager) Stop() {
	m.startMu.Lock()
	cancel := m.cancel
	m.startMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-m.loopDone
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.ctx.Done():
			m.explicit = true
			m.cancelReconnect()
			m.teardown(websocket.StatusGoingAway, "shutdown")
			close(m.stopped)
			return
		}
	}
}

// post hands fn to the loop. It returns false once the loop has exited.
func (m *Manager) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (m *Manager) do(ctx context.Context, fn func()) error {
	m.startMu.Lock()
	started := m.cancel != nil
	m.startMu.Unlock()
	if !started {
		return ErrStopped
	}

	done := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(done) }:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrStopped
	}
}

// Status returns the current connection state.
func (m *Manager) Status() status.State {
	return m.machine.Current()
}

// Info returns a snapshot of the manager's bookkeeping.
func (m *Manager) Info(ctx context.Context) (Info, error) {
	var info Info
	err := m.do(ctx, func() {
		info = Info{
			State:            m.machine.Current(),
			Endpoint:         m.opts.Endpoint,
			Attempts:         m.attempts,
			HasCredential:    m.token != "",
			ReconnectPending: m.reconnectPending,
			LastInbound:      m.lastInbound,
		}
	})
	return info, err
}

// Connect stores token (when non-empty) and opens the socket. It is a no-op
// while CONNECTING or OPEN. A manual connect starts a fresh retry budget.
func (m *Manager) Connect(ctx context.Context, token string) error {
	var err error
	derr := m.do(ctx, func() {
		if token != "" {
			m.token = token
		}
		if m.token == "" {
			err = ErrNoCredential
			return
		}
		m.explicit = false
		switch m.machine.Current() {
		case status.Connecting, status.Open:
			return
		}
		m.cancelReconnect()
		m.attempts = 0
		m.dial()
	})
	if derr != nil {
		return derr
	}
	return err
}

// Disconnect closes the socket and suppresses automatic reconnection. The
// token is kept, so a later Send from the idle manager dials again.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, m.disconnect)
}

// Forget disconnects and discards the token. Nothing dials again until
// Connect supplies a new one.
func (m *Manager) Forget(ctx context.Context) error {
	return m.do(ctx, func() {
		m.token = ""
		m.disconnect()
		m.logger.Info("credential forgotten")
	})
}

func (m *Manager) disconnect() {
	m.explicit = true
	m.cancelReconnect()
	if m.machine.Current() == status.Closed {
		return
	}
	m.transition(status.Closing)
	m.teardown(websocket.StatusNormalClosure, "client disconnect")
	m.logger.Info("disconnected")
}

// Send transmits out if the socket is OPEN and returns the idempotency key it
// was sent with. Nothing is queued: when the socket is not open the envelope
// is dropped, ErrNotOpen is returned and, if the manager is idle with a known
// credential, a connect is started.
func (m *Manager) Send(ctx context.Context, out wire.Outbound) (string, error) {
	key := out.Key()
	if key == "" {
		key = uuid.NewString()
	}
	var err error
	if derr := m.do(ctx, func() { err = m.send(out, key) }); derr != nil {
		return "", derr
	}
	return key, err
}

func (m *Manager) send(out wire.Outbound, key string) error {
	if st := m.machine.Current(); st != status.Open {
		m.logger.Warn("dropping envelope, connection not open",
			zap.String("type", string(out.Type())),
			zap.String("state", string(st)),
		)
		m.bus.Emit(KindDropped, Dropped{Type: out.Type(), Key: key, Reason: ErrNotOpen.Error()})
		if st == status.Closed && m.token != "" && !m.reconnectPending {
			m.explicit = false
			m.dial()
		}
		return ErrNotOpen
	}
	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.Warn("dropping envelope, rate limited", zap.String("type", string(out.Type())))
		m.bus.Emit(KindDropped, Dropped{Type: out.Type(), Key: key, Reason: ErrRateLimited.Error()})
		return ErrRateLimited
	}
	if err := m.write(out, key); err != nil {
		m.bus.Emit(KindDropped, Dropped{Type: out.Type(), Key: key, Reason: err.Error()})
		m.lost(m.gen, err)
		return err
	}
	m.bus.Emit(KindSent, Sent{Type: out.Type(), Key: key})
	return nil
}

// write encodes and writes one envelope. Loop only.
func (m *Manager) write(out wire.Outbound, key string) error {
	if m.conn == nil {
		return &TransportError{Op: "write", Err: ErrNotOpen}
	}
	data, err := wire.Encode(out, key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := m.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("ignored transition", zap.Error(err))
	}
}

// dial starts connecting on a fresh generation. Loop only.
func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.transition(status.Connecting)

	ctx, cancel := context.WithCancel(m.ctx)
	m.connCtx, m.connCancel = ctx, cancel
	m.connectTimer = time.AfterFunc(m.opts.ConnectTimeout, func() {
		m.post(func() { m.onConnectTimeout(gen) })
	})

	m.logger.Info("connecting", zap.String("endpoint", m.opts.Endpoint), zap.Int("attempt", m.attempts))
	dialer := m.opts.Dialer
	endpoint := m.opts.Endpoint
	go func() {
		c, err := dialer(ctx, endpoint)
		if !m.post(func() { m.onDialed(gen, c, err) }) && c != nil {
			_ = c.CloseNow()
		}
	}()
}

func (m *Manager) onDialed(gen uint64, c Conn, err error) {
	if gen != m.gen || m.machine.Current() != status.Connecting {
		if c != nil {
			_ = c.CloseNow()
		}
		return
	}
	m.stopConnectTimer()
	if err != nil {
		m.lost(gen, &TransportError{Op: "dial", Err: err})
		return
	}

	m.conn = c
	c.SetReadLimit(m.opts.ReadLimit)
	m.lastInbound = time.Now()
	m.attempts = 0
	m.transition(status.Open)
	m.logger.Info("connected", zap.String("endpoint", m.opts.Endpoint))

	m.startReader(m.connCtx, gen, c)
	m.startHeartbeat(m.connCtx, gen)

	if err := m.write(wire.Auth{Token: m.token}, uuid.NewString()); err != nil {
		m.lost(gen, err)
	}
}

func (m *Manager) onConnectTimeout(gen uint64) {
	if gen != m.gen || m.machine.Current() != status.Connecting {
		return
	}
	m.logger.Warn("connect timed out", zap.Duration("timeout", m.opts.ConnectTimeout))
	m.lost(gen, &TransportError{Op: "dial", Err: errConnectTimeout})
}

func (m *Manager) startReader(ctx context.Context, gen uint64, c Conn) {
	go func() {
		for {
			typ, data, err := c.Read(ctx)
			if !m.post(func() { m.onFrame(gen, typ, data, err) }) {
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// startHeartbeat ticks until the connection context ends.
func (m *Manager) startHeartbeat(ctx context.Context, gen uint64) {
	interval := m.opts.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.post(func() { m.onHeartbeat(gen) }) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// onHeartbeat sends a ping, or drops a socket that has gone quiet.
func (m *Manager) onHeartbeat(gen uint64) {
	if gen != m.gen || m.machine.Current() != status.Open {
		return
	}
	if m.opts.StaleAfter > 0 && time.Since(m.lastInbound) > m.opts.StaleAfter {
		m.logger.Warn("connection stale, closing", zap.Duration("silence", time.Since(m.lastInbound)))
		m.lost(gen, &TransportError{Op: "read", Err: errStale})
		return
	}
	if err := m.write(wire.Ping{Timestamp: time.Now().UnixMilli()}, uuid.NewString()); err != nil {
		m.lost(gen, err)
	}
}

func (m *Manager) onFrame(gen uint64, typ websocket.MessageType, data []byte, err error) {
	if gen != m.gen {
		return
	}
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			m.logger.Info("server closed connection")
		}
		m.lost(gen, &TransportError{Op: "read", Err: err})
		return
	}

	m.lastInbound = time.Now()
	if typ != websocket.MessageText {
		m.logger.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
		return
	}

	in, err := wire.Decode(data)
	if err != nil {
		m.logger.Warn("dropping inbound frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if m.seen.CheckAndMark(in.Key()) {
		m.logger.Debug("duplicate envelope", zap.String("type", string(in.Type())), zap.String("key", in.Key()))
		return
	}
	if wire.Internal(in) {
		return
	}

	m.bus.Emit(KindMessage, in)

	if ae, ok := in.(*wire.AuthError); ok {
		m.logger.Error("authentication rejected", zap.String("message", ae.Message))
		m.token = ""
		m.bus.Emit(KindAuthFailed, AuthFailed{Message: ae.Message})
		m.teardown(websocket.StatusPolicyViolation, "auth rejected")
	}
}

// lost handles any end of the socket the client did not ask for, including a
// clean close from the server: tear down and retry.
func (m *Manager) lost(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.logger.Warn("connection lost", zap.Error(err))
	var te *TransportError
	if errors.As(err, &te) {
		m.bus.Emit(KindTransportError, te)
	}
	m.teardown(websocket.StatusGoingAway, "connection lost")
	m.scheduleReconnect()
}

// teardown closes the socket, clears timers and settles in CLOSED. Loop only.
func (m *Manager) teardown(code websocket.StatusCode, reason string) {
	m.gen++
	m.stopConnectTimer()
	if m.connCancel != nil {
		m.connCancel()
		m.connCtx, m.connCancel = nil, nil
	}
	if c := m.conn; c != nil {
		m.conn = nil
		go func() { _ = c.Close(code, reason) }()
	}
	if m.machine.Current() != status.Closed {
		m.transition(status.Closed)
	}
}

func (m *Manager) scheduleReconnect() {
	if m.explicit || m.token == "" || m.reconnectPending {
		return
	}
	if m.opts.Backoff.Exhausted(m.attempts) {
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", m.attempts))
		m.bus.Emit(KindReconnectExhausted, ReconnectExhausted{Attempts: m.attempts})
		return
	}
	delay := m.opts.Backoff.Delay(m.attempts)
	m.attempts++
	m.reconnectPending = true
	gen := m.gen
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.bus.Emit(KindReconnectScheduled, ReconnectScheduled{Attempt: m.attempts, Delay: delay})
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.post(func() {
			if gen != m.gen || !m.reconnectPending {
				return
			}
			m.reconnectPending = false
			m.reconnectTimer = nil
			if m.explicit || m.machine.Current() != status.Closed {
				return
			}
			m.dial()
		})
	})
}

func (m *Manager) cancelReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectPending = false
}

func (m *Manager) stopConnectTimer() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}
