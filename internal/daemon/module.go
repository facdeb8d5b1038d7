// Package daemon composes the chat core into a runnable per-user process.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/events"
	"marketchat/internal/httpapi"
	"marketchat/internal/lock"
	"marketchat/internal/logging"
	"marketchat/internal/prefs"
	"marketchat/internal/profile"
	"marketchat/internal/roster"
	"marketchat/internal/session"
	"marketchat/internal/status"
	"marketchat/internal/store"
)

// Params holds the resolved session identity and configuration passed to
// the fx module.
type Params struct {
	SessionUID string
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideFeeds,
			provideDirectory,
			providePrefs,
			providePublisher,
			provideComposer,
			provideSession,
			provideRoster,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionUID), p.SessionUID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionUID); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionUID))
	l, err := lock.Acquire(session.Dir(p.SessionUID))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore builds the configured Store. The *store.Mongo result is nil
// for the memory driver; lifecycle hooks and the profile directory check it.
func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (store.Store, *store.Mongo, error) {
	if p.Config.Store.Driver == "memory" {
		logger.Info("using in-memory store")
		return store.NewMemory(b), nil, nil
	}
	m, err := store.NewMongo(context.Background(), p.Config.Store.URI, p.Config.Store.Database, b, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("store initialized",
		zap.String("driver", "mongo"),
		zap.String("database", p.Config.Store.Database))
	return m, m, nil
}

func provideFeeds(s store.Store, b *bus.Bus, logger *zap.Logger) *store.Feeds {
	return store.NewFeeds(s, b, logger)
}

func provideDirectory(m *store.Mongo) profile.Directory {
	if m == nil {
		return profile.Static{}
	}
	return profile.NewMongoDirectory(m.Database())
}

func providePrefs(p Params, logger *zap.Logger) (*prefs.DB, error) {
	db, err := prefs.Open(session.PrefsDBPath(p.SessionUID))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("prefs migrations applied", zap.Uint("version", result.Version))
	}
	return db, nil
}

func providePublisher(p Params, logger *zap.Logger) *events.Publisher {
	return events.NewPublisher(p.Config.Events.Brokers, p.Config.Events.Topic, logger)
}

func provideComposer(p Params, s store.Store, pub *events.Publisher, b *bus.Bus, logger *zap.Logger) *chat.Composer {
	return chat.NewComposer(p.SessionUID, s, pub, b, logger)
}

func provideSession(p Params, s store.Store, feeds *store.Feeds, b *bus.Bus, logger *zap.Logger) *chat.Session {
	open := func(ctx context.Context, conversationID string) chat.MessageFeed {
		return feeds.Messages(ctx, conversationID)
	}
	return chat.NewSession(p.SessionUID, open, s, b, logger)
}

func provideRoster(p Params, s store.Store, feeds *store.Feeds, dir profile.Directory, b *bus.Bus, logger *zap.Logger) *roster.Aggregator {
	return roster.New(p.SessionUID, s, feeds, dir, b, logger)
}

func provideHandler(sess *chat.Session, comp *chat.Composer, agg *roster.Aggregator, p *prefs.DB, m *status.Machine, dir profile.Directory, b *bus.Bus, logger *zap.Logger) *httpapi.Handler {
	return httpapi.NewHandler(context.Background(), sess, comp, agg, p, m, dir, b, logger)
}

func provideServer(p Params, h *httpapi.Handler, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(p.Config.HTTP.Addr, h, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, mongoStore *store.Mongo, sess *chat.Session, agg *roster.Aggregator, pub *events.Publisher, db *prefs.DB, machine *status.Machine, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = machine.Transition(status.Connecting)

			if mongoStore != nil {
				if err := mongoStore.Ping(ctx); err != nil {
					_ = machine.Transition(status.Error)
					return err
				}
				if err := mongoStore.EnsureIndexes(ctx); err != nil {
					_ = machine.Transition(status.Error)
					return err
				}
				// A dead change stream degrades live updates but reads and
				// writes keep working.
				if err := mongoStore.Watch(runCtx, func(err error) {
					logger.Error("change stream failed", zap.Error(err))
					_ = machine.Transition(status.Degraded)
				}); err != nil {
					return err
				}
			}

			if err := agg.Start(runCtx); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			_ = machine.Transition(status.Ready)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			agg.Stop()
			sess.Close()
			cancel()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			if err := pub.Close(); err != nil {
				logger.Warn("error closing event publisher", zap.Error(err))
			}
			if mongoStore != nil {
				if err := mongoStore.Close(ctx); err != nil {
					logger.Warn("error disconnecting store", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing prefs db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
