package api

import (
	"context"
	"time"

	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	"github.com/matheus3301/homecare/internal/journal"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/store"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Connection is the part of the connection manager the API drives.
type Connection interface {
	Status() status.State
	Info(ctx context.Context) (conn.Info, error)
	Connect(ctx context.Context, token string) error
	Disconnect(ctx context.Context) error
	Forget(ctx context.Context) error
}

// Resetter is the part of the sync engine the session service needs.
type Resetter interface {
	Snapshot() intsync.State
	Reset(ctx context.Context, selfID string) error
}

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

// SessionService implements homecare.v1.Session.
type SessionService struct {
	profile   string
	selfID    string
	startedAt time.Time
	conn      Connection
	engine    Resetter
	creds     *credential.Store
	db        *store.DB
	logger    *zap.Logger
}

// NewSessionService creates the session service. selfID, when set, pins the
// user id instead of taking it from the credential. db may be nil.
func NewSessionService(profile, selfID string, c Connection, engine Resetter, creds *credential.Store, db *store.DB, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		profile:   profile,
		selfID:    selfID,
		startedAt: time.Now(),
		conn:      c,
		engine:    engine,
		creds:     creds,
		db:        db,
		logger:    logger.Named("api"),
	}
}

func (s *SessionService) GetStatus(ctx context.Context, _ *GetStatusRequest) (*StatusResponse, error) {
	info, err := s.conn.Info(ctx)
	if err != nil {
		return nil, toStatus("status", err)
	}
	resp := &StatusResponse{
		Profile:          s.profile,
		State:            string(info.State),
		Endpoint:         info.Endpoint,
		Attempts:         info.Attempts,
		ReconnectPending: info.ReconnectPending,
		HasCredential:    info.HasCredential,
		UptimeMs:         time.Since(s.startedAt).Milliseconds(),
	}
	if !info.LastInbound.IsZero() {
		t := info.LastInbound
		resp.LastInbound = &t
	}

	if cred, err := s.creds.Load(); err == nil {
		resp.HasCredential = true
		resp.Subject = cred.Subject
		resp.CredentialExpiry = cred.ExpiresAt
	}

	snap := s.engine.Snapshot()
	resp.Authenticated = snap.Authenticated
	resp.AuthError = snap.AuthError
	resp.LastError = snap.LastError
	if resp.Subject == "" {
		resp.Subject = snap.SelfID
	}

	if s.db != nil {
		if t, err := journal.LastOpen(s.db); err == nil && !t.IsZero() {
			resp.LastOpen = &t
		}
	}
	return resp, nil
}

// Connect opens the socket with the given token, or with the stored one when
// the request carries none. A token for a different user discards the
// conversation state first.
func (s *SessionService) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResponse, error) {
	var (
		cred credential.Credential
		err  error
	)
	if req.Token != "" {
		cred, err = credential.Parse(req.Token)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "parse token: %v", err)
		}
		if err := checkExpiry(cred); err != nil {
			return nil, err
		}
		if err := s.creds.Save(cred.Token); err != nil {
			return nil, toStatus("save credential", err)
		}
	} else {
		cred, err = s.creds.Load()
		if err != nil {
			return nil, toStatus("load credential", err)
		}
		if err := checkExpiry(cred); err != nil {
			return nil, err
		}
	}

	self := s.selfID
	if self == "" {
		self = cred.Subject
	}
	if self != "" && self != s.engine.Snapshot().SelfID {
		s.logger.Info("user changed, resetting conversation state", zap.String("self", self))
		if err := s.engine.Reset(ctx, self); err != nil {
			return nil, toStatus("reset", err)
		}
		if s.db != nil {
			if err := s.db.SetState(store.StateLastSubject, self); err != nil {
				s.logger.Warn("checkpoint not saved", zap.Error(err))
			}
		}
	}

	if err := s.conn.Connect(ctx, cred.Token); err != nil {
		return nil, toStatus("connect", err)
	}
	return &ConnectResponse{State: string(s.conn.Status()), Subject: self}, nil
}

// Disconnect closes the socket. With Forget set the manager also drops its
// token, the stored credential is removed and the conversation state discarded.
func (s *SessionService) Disconnect(ctx context.Context, req *DisconnectRequest) (*DisconnectResponse, error) {
	closeConn := s.conn.Disconnect
	if req.Forget {
		closeConn = s.conn.Forget
	}
	if err := closeConn(ctx); err != nil {
		return nil, toStatus("disconnect", err)
	}
	if req.Forget {
		if err := s.creds.Clear(); err != nil {
			return nil, toStatus("clear credential", err)
		}
		if err := s.engine.Reset(ctx, s.selfID); err != nil {
			return nil, toStatus("reset", err)
		}
		s.logger.Info("credential removed")
	}
	return &DisconnectResponse{State: string(s.conn.Status())}, nil
}

func (s *SessionService) RecentEvents(_ context.Context, req *RecentEventsRequest) (*RecentEventsResponse, error) {
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "journal not available")
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}

	events, err := s.db.RecentConnectionEvents(limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "connection events: %v", err)
	}
	outbound, err := s.db.RecentOutbound(limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "outbound log: %v", err)
	}
	return &RecentEventsResponse{Events: events, Outbound: outbound}, nil
}

func checkExpiry(c credential.Credential) error {
	if c.Expired(time.Now()) {
		return grpcstatus.Errorf(codes.FailedPrecondition, "credential expired at %s", c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
