package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/homecare/internal/api"
	"github.com/matheus3301/homecare/internal/binding"
	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/client"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	"github.com/matheus3301/homecare/internal/lock"
	"github.com/matheus3301/homecare/internal/profile"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/store"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// shortTempDir keeps socket paths under the 104 byte limit some platforms have.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func refuseDial(context.Context, string) (conn.Conn, error) {
	return nil, errors.New("dial refused")
}

func TestDaemonLifecycle(t *testing.T) {
	t.Setenv(credential.TokenEnv, "")
	tmpDir := shortTempDir(t, "hc-test-*")
	profileDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(profileDir, "d.sock")
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(profileDir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zap.NewNop()
	b := bus.New()
	var dials atomic.Int32
	dialer := func(ctx context.Context, endpoint string) (conn.Conn, error) {
		dials.Add(1)
		return refuseDial(ctx, endpoint)
	}
	mgr := conn.NewManager(conn.Options{Endpoint: "ws://127.0.0.1:1/ws", Dialer: dialer}, b, status.NewMachine(b), logger)
	bd := binding.New(mgr, b, logger)
	engine := intsync.NewEngine(bd, b, "", 0, logger)
	mgr.Start(ctx)
	bd.Start(ctx)
	engine.Start(ctx)
	defer mgr.Stop()
	defer bd.Stop()
	defer engine.Stop()

	creds := credential.NewStore(filepath.Join(profileDir, "credential"))
	srv, err := NewServer(
		Params{Profile: "test", SocketPath: socketPath},
		logger,
		api.NewSessionService("test", "", mgr, engine, creds, db, logger),
		api.NewChatService(engine, b, logger),
	)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()

	st, err := c.Session.GetStatus(rpcCtx, &api.GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Profile != "test" {
		t.Errorf("profile = %q, want test", st.Profile)
	}
	if st.State != string(status.Closed) {
		t.Errorf("state = %q, want CLOSED", st.State)
	}
	if st.HasCredential {
		t.Error("expected no credential")
	}

	convs, err := c.Chat.ListConversations(rpcCtx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatalf("ListConversations error = %v", err)
	}
	if len(convs.Conversations) != 0 {
		t.Errorf("expected 0 conversations, got %d", len(convs.Conversations))
	}

	_, err = c.Session.Connect(rpcCtx, &api.ConnectRequest{})
	if got := grpcstatus.Code(err); got != codes.FailedPrecondition {
		t.Errorf("Connect without credential: code = %v, want FailedPrecondition", got)
	}

	// Not connected, so a send is refused rather than queued.
	_, err = c.Chat.SendMessage(rpcCtx, &api.SendMessageRequest{PeerID: "U2", Content: "hi"})
	if got := grpcstatus.Code(err); got != codes.Unavailable {
		t.Errorf("SendMessage while closed: code = %v, want Unavailable", got)
	}

	// Logging out must leave nothing behind that a later send could dial with.
	if _, err := c.Session.Connect(rpcCtx, &api.ConnectRequest{Token: "opaque-token"}); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if dials.Load() == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if _, err := c.Session.Disconnect(rpcCtx, &api.DisconnectRequest{Forget: true}); err != nil {
		t.Fatalf("Disconnect error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	before := dials.Load()
	if before == 0 {
		t.Fatal("connect never dialed")
	}

	_, err = c.Chat.SendMessage(rpcCtx, &api.SendMessageRequest{PeerID: "U2", Content: "hi"})
	if got := grpcstatus.Code(err); got != codes.Unavailable {
		t.Errorf("SendMessage after logout: code = %v, want Unavailable", got)
	}
	time.Sleep(50 * time.Millisecond)
	if n := dials.Load(); n != before {
		t.Errorf("dials = %d after logout and send, want %d", n, before)
	}
	st, err = c.Session.GetStatus(rpcCtx, &api.GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.HasCredential {
		t.Error("credential survived logout")
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	home := shortTempDir(t, "hc-fx-*")
	t.Setenv(profile.HomeEnv, home)

	if err := fx.ValidateApp(Module(Params{Profile: "fxtest", SocketPath: filepath.Join(home, "d.sock")})); err != nil {
		t.Fatalf("ValidateApp: %v", err)
	}
}

func TestFxAppServesStatus(t *testing.T) {
	home := shortTempDir(t, "hc-app-*")
	t.Setenv(profile.HomeEnv, home)
	t.Setenv(credential.TokenEnv, "")
	socketPath := filepath.Join(home, "d.sock")

	app := fx.New(
		Module(Params{Profile: "apptest", SocketPath: socketPath, LogLevel: "error"}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := app.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	st, err := c.Session.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Profile != "apptest" || st.State != string(status.Closed) {
		t.Errorf("status = %+v", st)
	}
	if _, err := os.Stat(profile.JournalDBPath("apptest")); err != nil {
		t.Errorf("journal not created: %v", err)
	}
}

func TestWatchAuthFailuresClearsCredential(t *testing.T) {
	t.Setenv(credential.TokenEnv, "")
	creds := credential.NewStore(filepath.Join(t.TempDir(), "credential"))
	if err := creds.Save("bad-token"); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	stop := watchAuthFailures(b, creds, zap.NewNop())
	defer stop()

	b.Emit(conn.KindAuthFailed, conn.AuthFailed{Message: "invalid token"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := creds.Load(); errors.Is(err, credential.ErrNoCredential) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("credential not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
