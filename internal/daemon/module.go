// Package daemon wires one profile's link, storage and control socket into
// an fx application.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/rtlink/internal/api"
	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/config"
	"github.com/matheus3301/rtlink/internal/link"
	"github.com/matheus3301/rtlink/internal/lock"
	"github.com/matheus3301/rtlink/internal/logging"
	"github.com/matheus3301/rtlink/internal/metrics"
	"github.com/matheus3301/rtlink/internal/outbox"
	"github.com/matheus3301/rtlink/internal/profile"
	"github.com/matheus3301/rtlink/internal/recovery"
	"github.com/matheus3301/rtlink/internal/store"
	"github.com/matheus3301/rtlink/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // empty = profile.ConfigPath()
	SocketPath string // optional override for testing; empty = use default
	URL        string // overrides link.url from the config file
	Offline    bool   // start without dialing; connect later over the socket
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCollector,
			provideMetricsServer,
			provideCoordinator,
			provideDialer,
			provideClient,
			provideSpool,
			provideLinkService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if p.URL != "" {
		cfg.Link.URL = p.URL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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

func provideCollector() *metrics.Collector {
	return metrics.NewCollector()
}

// provideMetricsServer returns nil when metrics.listen is empty.
func provideMetricsServer(cfg *config.Config, col *metrics.Collector, logger *zap.Logger) (*metrics.Server, error) {
	if cfg.Metrics.Listen == "" {
		return nil, nil
	}
	return metrics.NewServer(cfg.Metrics.Listen, metrics.NewExporter(col, time.Now), logger)
}

func provideCoordinator(db *store.DB, logger *zap.Logger) (*recovery.Coordinator, error) {
	rec := recovery.New(db, logger)
	if err := rec.Load(context.Background()); err != nil {
		return nil, err
	}
	if snap, ok := rec.Snapshot(); ok {
		logger.Info("recovery snapshot loaded",
			zap.Int64("last_message_id", snap.LastMessageID),
			zap.Int("missed", len(snap.MissedEvents)))
	}
	return rec, nil
}

func provideDialer(cfg *config.Config) (transport.Dialer, error) {
	return transport.New(cfg.Link.Driver, cfg.Link.TransportOptions())
}

func provideClient(cfg *config.Config, dialer transport.Dialer, rec *recovery.Coordinator, col *metrics.Collector, b *bus.Bus, logger *zap.Logger) *link.Client {
	return link.New(cfg.Link.LinkOptions(), dialer, rec, col, b, logger)
}

func provideSpool(cfg *config.Config, db *store.DB, client *link.Client, b *bus.Bus, logger *zap.Logger) *outbox.Spool {
	return outbox.NewSpool(db, client, b, logger, time.Duration(cfg.Link.SpoolInterval))
}

func provideLinkService(p Params, client *link.Client, b *bus.Bus, logger *zap.Logger) *api.LinkService {
	return api.NewLinkService(p.Profile, client, b, logger)
}

type lifecycleParams struct {
	fx.In

	Params  Params
	Server  *Server
	Metrics *metrics.Server
	Lock    *lock.Lock
	DB      *store.DB
	Client  *link.Client
	Spool   *outbox.Spool
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	connectCtx, cancelConnect := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := lp.Spool.Restore(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("offline buffer restored", zap.Int("messages", n))
			}

			if lp.Metrics != nil {
				if err := lp.Metrics.Start(); err != nil {
					return err
				}
			}

			// Start gRPC server in background.
			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			lp.Spool.Start(context.Background())

			if lp.Params.Offline {
				logger.Info("starting offline")
				return nil
			}
			go func() {
				err := lp.Client.Connect(connectCtx)
				if err == nil || errors.Is(err, link.ErrConnectAborted) || connectCtx.Err() != nil {
					return
				}
				logger.Warn("initial connect failed, retrying with backoff", zap.Error(err))
				lp.Client.Reconnect()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelConnect()
			if err := lp.Client.Disconnect(ctx); err != nil {
				logger.Warn("error disconnecting", zap.Error(err))
			}
			// After Disconnect every unsent message sits in the offline buffer.
			if err := lp.Spool.Stop(ctx); err != nil {
				logger.Warn("error spooling offline buffer", zap.Error(err))
			}
			if lp.Metrics != nil {
				if err := lp.Metrics.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			lp.Server.Stop(ctx)
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
