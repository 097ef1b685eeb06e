// Package daemon composes the courier runtime: store, transport, sync
// coordinator, and client surface, wired through fx with lifecycle hooks.
package daemon

import (
	"context"
	"os"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/andrefarinha/courier/internal/bus"
	"github.com/andrefarinha/courier/internal/client"
	"github.com/andrefarinha/courier/internal/conn"
	"github.com/andrefarinha/courier/internal/engine"
	"github.com/andrefarinha/courier/internal/lock"
	"github.com/andrefarinha/courier/internal/logging"
	"github.com/andrefarinha/courier/internal/paths"
	"github.com/andrefarinha/courier/internal/session"
	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string
	Identity    string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideRelay,
			provideManager,
			provideCoordinator,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

// eventRelay forwards transport events to the coordinator. The manager and
// coordinator each depend on the other, so the relay stands in for the
// coordinator until both exist.
type eventRelay struct {
	mu     sync.RWMutex
	target conn.EventSink
}

func (r *eventRelay) bind(target conn.EventSink) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

// Dispatch implements conn.EventSink. Events arriving before bind are dropped.
func (r *eventRelay) Dispatch(ev state.Event) {
	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()
	if target != nil {
		target.Dispatch(ev)
	}
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *session.Machine {
	return session.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(paths.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.SessionName)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) *conn.StaticCredentials {
	return &conn.StaticCredentials{
		AccessToken: os.Getenv("COURIER_TOKEN"),
		User:        p.Identity,
	}
}

func provideRelay() *eventRelay {
	return &eventRelay{}
}

func provideManager(p Params, creds *conn.StaticCredentials, machine *session.Machine, relay *eventRelay, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(p.ServerURL, creds, machine, relay, logger)
}

func provideCoordinator(p Params, db *store.DB, mgr *conn.Manager, b *bus.Bus, logger *zap.Logger) *engine.Coordinator {
	return engine.New(p.Identity, db, mgr, b, logger)
}

func provideClient(p Params, mgr *conn.Manager, coord *engine.Coordinator, logger *zap.Logger) *client.Client {
	return client.New(p.Identity, mgr, coord, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cl *client.Client, coord *engine.Coordinator, mgr *conn.Manager, relay *eventRelay, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			relay.bind(coord)
			coord.Start(context.Background())

			go func() {
				if err := cl.Connect(context.Background()); err != nil {
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()

			logger.Info("daemon started",
				zap.String("session", p.SessionName),
				zap.String("identity", p.Identity),
				zap.String("server", p.ServerURL))
			return nil
		},
		OnStop: func(_ context.Context) error {
			cl.Close()
			coord.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
