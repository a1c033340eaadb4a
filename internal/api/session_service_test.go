package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/store"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type sessionFixture struct {
	conn   *fakeConnection
	engine *intsync.Engine
	creds  *credential.Store
	db     *store.DB
	client *SessionClient
}

func newSessionFixture(t *testing.T, selfID string) *sessionFixture {
	t.Helper()
	t.Setenv(credential.TokenEnv, "")
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	engine := intsync.NewEngine(newFakeTransport(), nil, "", 0, nil)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	f := &sessionFixture{
		conn:   &fakeConnection{state: status.Closed},
		engine: engine,
		creds:  credential.NewStore(filepath.Join(dir, "credential")),
		db:     db,
	}
	svc := NewSessionService("test", selfID, f.conn, engine, f.creds, db, nil)
	f.client, _ = serve(t, svc, nil)
	return f
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestConnectWithTokenStoresCredentialAndResets(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)
	tok := signToken(t, jwt.MapClaims{"sub": "U1", "exp": time.Now().Add(time.Hour).Unix()})

	resp, err := f.client.Connect(ctx, &ConnectRequest{Token: tok})
	require.NoError(t, err)
	assert.Equal(t, "U1", resp.Subject)
	assert.Equal(t, string(status.Connecting), resp.State)
	assert.Equal(t, []string{tok}, f.conn.tokens)

	cred, err := f.creds.Load()
	require.NoError(t, err)
	assert.Equal(t, "U1", cred.Subject)
	assert.Equal(t, "U1", f.engine.Snapshot().SelfID)

	last, err := f.db.GetState(store.StateLastSubject)
	require.NoError(t, err)
	assert.Equal(t, "U1", last)
}

func TestConnectUsesStoredCredential(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)
	require.NoError(t, f.creds.Save("opaque-token"))

	resp, err := f.client.Connect(ctx, &ConnectRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Subject)
	assert.Equal(t, []string{"opaque-token"}, f.conn.tokens)
}

func TestConnectPinnedSelfID(t *testing.T) {
	f := newSessionFixture(t, "U9")
	ctx := testContext(t)
	tok := signToken(t, jwt.MapClaims{"sub": "U1"})

	resp, err := f.client.Connect(ctx, &ConnectRequest{Token: tok})
	require.NoError(t, err)
	assert.Equal(t, "U9", resp.Subject)
	assert.Equal(t, "U9", f.engine.Snapshot().SelfID)
}

func TestConnectFailures(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)

	_, err := f.client.Connect(ctx, &ConnectRequest{})
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err), "no credential: %v", err)

	expired := signToken(t, jwt.MapClaims{"sub": "U1", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err = f.client.Connect(ctx, &ConnectRequest{Token: expired})
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err), "expired: %v", err)
	assert.Empty(t, f.conn.tokens)
	_, err = f.creds.Load()
	assert.ErrorIs(t, err, credential.ErrNoCredential, "expired token must not be stored")

	f.conn.connectErr = conn.ErrStopped
	_, err = f.client.Connect(ctx, &ConnectRequest{Token: "opaque"})
	assert.Equal(t, codes.Unavailable, grpcstatus.Code(err))
}

func TestDisconnectForget(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)
	tok := signToken(t, jwt.MapClaims{"sub": "U1"})
	_, err := f.client.Connect(ctx, &ConnectRequest{Token: tok})
	require.NoError(t, err)

	resp, err := f.client.Disconnect(ctx, &DisconnectRequest{})
	require.NoError(t, err)
	assert.Equal(t, string(status.Closed), resp.State)
	_, err = f.creds.Load()
	require.NoError(t, err, "plain disconnect keeps the credential")

	_, err = f.client.Disconnect(ctx, &DisconnectRequest{Forget: true})
	require.NoError(t, err)
	_, err = f.creds.Load()
	assert.ErrorIs(t, err, credential.ErrNoCredential)
	assert.Empty(t, f.engine.Snapshot().SelfID)
	assert.Equal(t, 1, f.conn.disconnects)
	assert.Equal(t, 1, f.conn.forgets, "logout drops the manager's token")
}

func TestGetStatus(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)
	inbound := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	f.conn.state = status.Open
	f.conn.info = conn.Info{Endpoint: "ws://x/ws", Attempts: 2, HasCredential: true, LastInbound: inbound}
	require.NoError(t, f.db.SetState(store.StateLastOpenAt, "1767225600000"))
	require.NoError(t, f.creds.Save(signToken(t, jwt.MapClaims{"sub": "U1"})))

	resp, err := f.client.GetStatus(ctx, &GetStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "test", resp.Profile)
	assert.Equal(t, string(status.Open), resp.State)
	assert.Equal(t, "ws://x/ws", resp.Endpoint)
	assert.Equal(t, 2, resp.Attempts)
	assert.True(t, resp.HasCredential)
	assert.Equal(t, "U1", resp.Subject)
	require.NotNil(t, resp.LastInbound)
	assert.True(t, resp.LastInbound.Equal(inbound))
	require.NotNil(t, resp.LastOpen)
	assert.Equal(t, int64(1767225600000), resp.LastOpen.UnixMilli())
}

func TestRecentEvents(t *testing.T) {
	f := newSessionFixture(t, "")
	ctx := testContext(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.db.InsertConnectionEvent(&store.ConnectionEvent{
			Kind: store.EventStatusChanged, From: "CLOSED", To: "CONNECTING",
		}))
	}
	require.NoError(t, f.db.RecordOutbound(&store.OutboundEntry{Key: "k1", Type: "send_message", Outcome: store.OutcomeSent}))

	resp, err := f.client.RecentEvents(ctx, &RecentEventsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Events, 2)
	require.Len(t, resp.Outbound, 1)
	assert.Equal(t, "k1", resp.Outbound[0].Key)
}
