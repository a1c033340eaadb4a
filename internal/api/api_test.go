package api

import (
	"context"
	"net"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/homecare/internal/binding"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// serve registers the given services on an in-memory listener and returns
// clients bound to it.
func serve(t *testing.T, sess SessionServer, chat ChatServer) (*SessionClient, *ChatClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	if sess != nil {
		srv.RegisterService(&SessionServiceDesc, sess)
	}
	if chat != nil {
		srv.RegisterService(&ChatServiceDesc, chat)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewSessionClient(cc), NewChatClient(cc)
}

type fakeConnection struct {
	mu          gosync.Mutex
	state       status.State
	info        conn.Info
	tokens      []string
	disconnects int
	forgets     int
	connectErr  error
}

func (f *fakeConnection) Status() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnection) Info(context.Context) (conn.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.info
	info.State = f.state
	return info, nil
}

func (f *fakeConnection) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.tokens = append(f.tokens, token)
	f.state = status.Connecting
	return nil
}

func (f *fakeConnection) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = status.Closed
	return nil
}

func (f *fakeConnection) Forget(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets++
	f.state = status.Closed
	return nil
}

// fakeTransport stands in for the connection binding under the sync engine.
type fakeTransport struct {
	events chan binding.Event

	mu   gosync.Mutex
	sent []wire.Outbound
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan binding.Event, 16),
	}
}

func (f *fakeTransport) Events() <-chan binding.Event { return f.events }

func (f *fakeTransport) deliver(in wire.Inbound) { f.events <- binding.Event{Inbound: in} }

func (f *fakeTransport) Send(_ context.Context, out wire.Outbound) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, out)
	return "key", nil
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) take() []wire.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
