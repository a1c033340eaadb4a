// Package daemon assembles homecared: one connection manager, the sync
// engine on top of it, the connection journal and the control socket.
package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/homecare/internal/api"
	"github.com/matheus3301/homecare/internal/binding"
	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/config"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	"github.com/matheus3301/homecare/internal/journal"
	"github.com/matheus3301/homecare/internal/lock"
	"github.com/matheus3301/homecare/internal/logging"
	"github.com/matheus3301/homecare/internal/profile"
	"github.com/matheus3301/homecare/internal/status"
	"github.com/matheus3301/homecare/internal/store"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.homecare/config.toml
	LogLevel   string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCredentials,
			provideJournal,
			provideRecorder,
			provideManager,
			provideBinding,
			provideEngine,
			provideSessionService,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.NewWithLevel(profile.LogPath(p.Profile), p.Profile, logging.ParseLevel(p.LogLevel))
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("config loaded", zap.String("path", path), zap.String("endpoint", cfg.Realtime.Endpoint))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCredentials(p Params) *credential.Store {
	return credential.NewStore(profile.CredentialPath(p.Profile))
}

// provideJournal depends on the lock so a second daemon never migrates
// a database the first one is writing.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.JournalDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRecorder(db *store.DB, b *bus.Bus, logger *zap.Logger) *journal.Recorder {
	return journal.NewRecorder(db, b, journal.DefaultRetention, logger)
}

func provideManager(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.OptionsFromConfig(cfg.Realtime), b, m, logger)
}

func provideBinding(m *conn.Manager, b *bus.Bus, logger *zap.Logger) *binding.Binding {
	return binding.New(m, b, logger)
}

// selfID is the configured override or, failing that, the stored token's subject.
func selfID(cfg *config.Config, creds *credential.Store) string {
	if cfg.Sync.SelfID != "" {
		return cfg.Sync.SelfID
	}
	if c, err := creds.Load(); err == nil {
		return c.Subject
	}
	return ""
}

func provideEngine(cfg *config.Config, creds *credential.Store, bd *binding.Binding, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(bd, b, selfID(cfg, creds), cfg.Sync.ThrottleWindow, logger.Named("sync"))
}

func provideSessionService(p Params, cfg *config.Config, m *conn.Manager, e *intsync.Engine, creds *credential.Store, db *store.DB, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.Profile, cfg.Sync.SelfID, m, e, creds, db, logger)
}

func provideChatService(e *intsync.Engine, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(e, b, logger)
}

type lifecycleParams struct {
	fx.In

	Server   *Server
	Lock     *lock.Lock
	DB       *store.DB
	Recorder *journal.Recorder
	Manager  *conn.Manager
	Binding  *binding.Binding
	Engine   *intsync.Engine
	Creds    *credential.Store
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	ctx, cancel := context.WithCancel(context.Background())
	var unwatch func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Journal first so the startup transitions are recorded.
			lp.Recorder.Start(ctx)
			lp.Manager.Start(ctx)
			lp.Binding.Start(ctx)
			lp.Engine.Start(ctx)
			unwatch = watchAuthFailures(lp.Bus, lp.Creds, logger)

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			autoConnect(ctx, lp.Manager, lp.Creds, logger)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			lp.Server.Stop(stopCtx)
			unwatch()
			lp.Engine.Stop()
			lp.Binding.Stop()
			lp.Manager.Stop()
			lp.Recorder.Stop()
			cancel()
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// autoConnect opens the socket at startup when a usable credential is stored.
func autoConnect(ctx context.Context, m *conn.Manager, creds *credential.Store, logger *zap.Logger) {
	c, err := creds.Load()
	if err != nil {
		logger.Info("no credential found, waiting for connect", zap.Error(err))
		return
	}
	if c.Expired(time.Now()) {
		logger.Warn("stored credential expired, waiting for connect", zap.Timep("expires_at", c.ExpiresAt))
		return
	}
	if err := m.Connect(ctx, c.Token); err != nil {
		logger.Error("auto-connect failed", zap.Error(err))
	}
}
