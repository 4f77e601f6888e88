// Package daemon wires the sync engine into a runnable process: one session
// lock, one sqlite cache, one websocket, one connection manager, composed
// with fx and torn down in reverse order on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/client"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/conn"
	"github.com/hearthhq/hearth/internal/creds"
	"github.com/hearthhq/hearth/internal/history"
	"github.com/hearthhq/hearth/internal/lock"
	"github.com/hearthhq/hearth/internal/logging"
	"github.com/hearthhq/hearth/internal/netmon"
	"github.com/hearthhq/hearth/internal/outbox"
	"github.com/hearthhq/hearth/internal/presence"
	"github.com/hearthhq/hearth/internal/reconcile"
	"github.com/hearthhq/hearth/internal/rooms"
	"github.com/hearthhq/hearth/internal/session"
	"github.com/hearthhq/hearth/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideCache,
			provideCreds,
			provideMonitor,
			provideTransport,
			provideOutbox,
			provideRooms,
			providePresence,
			provideManager,
			provideReconciler,
			provideHistory,
			provideRefresher,
			provideJournal,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("configuration loaded", zap.String("base_url", cfg.Server.BaseURL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCreds(cfg *config.Config, logger *zap.Logger) (creds.Source, error) {
	if cfg.Server.TokenFile != "" {
		logger.Info("watching token file", zap.String("path", cfg.Server.TokenFile))
		return creds.NewFileSource(cfg.Server.TokenFile, 0, logger), nil
	}
	if cfg.Server.Token != "" {
		return creds.NewStatic(cfg.Server.Token), nil
	}
	return nil, errors.New("no credential configured: set server.token or server.token_file")
}

func provideMonitor(cfg *config.Config, logger *zap.Logger) *netmon.Prober {
	return netmon.NewProber(cfg.Server.ProbeAddr, 0, logger)
}

func provideTransport(cfg *config.Config, source creds.Source, logger *zap.Logger) *transport.Socket {
	return transport.NewSocket(cfg.Server.BaseURL, cfg.Server.SocketPath, source, logger)
}

func provideOutbox() *outbox.Queue {
	return outbox.New()
}

func provideRooms(sock *transport.Socket, logger *zap.Logger) *rooms.Controller {
	return rooms.NewController(sock, logger)
}

func providePresence(sock *transport.Socket, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(sock, presence.Config{}, logger)
}

func provideManager(sock *transport.Socket, mon *netmon.Prober, q *outbox.Queue, rc *rooms.Controller, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Options{
		Transport: sock,
		Net:       mon,
		Outbox:    q,
		Rooms:     rc,
		Bus:       b,
		Logger:    logger,
	})
}

func provideReconciler(db *cache.DB, tracker *presence.Tracker, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(db, tracker, b, logger)
}

func provideHistory(cfg *config.Config, source creds.Source, logger *zap.Logger) *history.Client {
	return history.NewClient(cfg.Server.BaseURL, source, logger)
}

func provideRefresher(db *cache.DB, hist *history.Client, b *bus.Bus, logger *zap.Logger) *Refresher {
	return NewRefresher(db, hist, b, logger)
}

func provideJournal(b *bus.Bus, logger *zap.Logger) *Journal {
	return NewJournal(b, logger)
}

func provideClient(sock *transport.Socket, m *conn.Manager, q *outbox.Queue, tr *presence.Tracker, rec *reconcile.Reconciler, source creds.Source, logger *zap.Logger) *client.Client {
	return client.New(client.Options{
		Transport:  sock,
		Manager:    m,
		Outbox:     q,
		Presence:   tr,
		Reconciler: rec,
		Creds:      source,
		Logger:     logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, cl *client.Client, refresher *Refresher, journal *Journal, mon *netmon.Prober, source creds.Source, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// A file-backed credential must be readable before the first
			// dial; a static token was validated at provide time.
			if fs, ok := source.(*creds.FileSource); ok {
				if err := fs.Start(context.Background()); err != nil {
					return fmt.Errorf("read token file: %w", err)
				}
			}
			if tok, err := source.Token(); err == nil && creds.Expired(tok, time.Now()) {
				logger.Warn("credential appears expired, the server may reject the handshake")
			}

			mon.Start(context.Background())
			journal.Start(context.Background())

			if conversations, err := db.ConversationCount(); err == nil {
				if messages, err := db.MessageCount(); err == nil {
					logger.Info("cache opened",
						zap.Int("conversations", conversations),
						zap.Int("messages", messages))
				}
			}

			// Long-lived loops outlive the start hook's context.
			refresher.Start(context.Background())
			cl.Connect()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cl.Teardown()
			refresher.Stop()
			journal.Stop()
			mon.Stop()
			if fs, ok := source.(*creds.FileSource); ok {
				fs.Stop()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
