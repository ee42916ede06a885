package daemon

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/mfalves/dmsync/internal/api"
	"github.com/mfalves/dmsync/internal/archive"
	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/config"
	"github.com/mfalves/dmsync/internal/lock"
	"github.com/mfalves/dmsync/internal/logging"
	"github.com/mfalves/dmsync/internal/outbox"
	"github.com/mfalves/dmsync/internal/receipt"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/session"
	"github.com/mfalves/dmsync/internal/status"
	"github.com/mfalves/dmsync/internal/store"
	intsync "github.com/mfalves/dmsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	StoreToken  string // bearer token for the Conversation Store, from env
}

// Module returns the fx module for the sync daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideSessionConfig,
			provideStateMachine,
			provideLock,
			provideRemote,
			provideCache,
			provideSentRegistry,
			provideCoordinator,
			provideTracker,
			provideController,
			provideScheduler,
			provideArchive,
			provideRecorder,
			provideEngineService,
			provideGRPCServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideSessionConfig(p Params) (*config.Session, error) {
	return config.LoadSession(session.SessionConfigPath(p.SessionName))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func provideRemote(p Params, cfg *config.Session, logger *zap.Logger) remote.Store {
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	return remote.NewHTTPStore(cfg.StoreURL, p.StoreToken, timeout, logger)
}

func provideCache() *store.Store {
	return store.New()
}

func provideSentRegistry() *attribute.SentRegistry {
	return attribute.NewSentRegistry(attribute.DefaultRegistryLimit)
}

func provideCoordinator(cfg *config.Session, cache *store.Store, rs remote.Store, sent *attribute.SentRegistry, b *bus.Bus, logger *zap.Logger) *outbox.Coordinator {
	return outbox.NewCoordinator(cfg.SelfID, cache, rs, sent, b, logger)
}

func provideTracker(cache *store.Store, rs remote.Store, b *bus.Bus, logger *zap.Logger) *receipt.Tracker {
	return receipt.NewTracker(cache, rs, b, logger)
}

func provideController(cfg *config.Session, cache *store.Store, rs remote.Store, sent *attribute.SentRegistry, sender *outbox.Coordinator, tracker *receipt.Tracker, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Controller {
	return intsync.NewController(cfg.SelfID, cfg.ViewerRole(), cache, rs, sent, sender, tracker, machine, b, logger)
}

func provideScheduler(cfg *config.Session, ctrl *intsync.Controller, logger *zap.Logger) *intsync.Scheduler {
	return intsync.NewScheduler(ctrl,
		time.Duration(cfg.PollIntervalSecs)*time.Second,
		time.Duration(cfg.SummaryIntervalSecs)*time.Second,
		logger)
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := session.ArchivePath(p.SessionName)
	db, err := archive.Open(dbPath)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRecorder(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Recorder {
	return archive.NewRecorder(db, b, logger)
}

func provideEngineService(ctrl *intsync.Controller, logger *zap.Logger) *engineService {
	return newEngineService(ctrl, logger)
}

func provideGRPCServer(svc *engineService) *grpc.Server {
	srv := grpc.NewServer()
	api.RegisterEngineServer(srv, svc)
	return srv
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, ctrl *intsync.Controller, sched *intsync.Scheduler, rec *archive.Recorder, db *archive.DB, srv *grpc.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Archive recorder first so the initial load is captured.
			rec.Start(context.Background())

			go func() {
				if err := ctrl.InitialLoad(context.Background()); err != nil {
					logger.Error("initial load failed, scheduler will retry", zap.Error(err))
				}
			}()

			sched.Start(context.Background())

			sock := session.SocketPath(p.SessionName)
			// The lock guarantees we own the session; a leftover socket is
			// from a dead daemon.
			_ = os.Remove(sock)
			lis, err := net.Listen("unix", sock)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(lis); err != nil {
					logger.Error("control socket server stopped", zap.Error(err))
				}
			}()
			logger.Info("control socket listening", zap.String("path", sock))
			return nil
		},
		OnStop: func(_ context.Context) error {
			srv.GracefulStop()
			sched.Stop()
			rec.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
