package daemon

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/buddy/internal/agent"
	"github.com/matheus3301/buddy/internal/bus"
	"github.com/matheus3301/buddy/internal/config"
	"github.com/matheus3301/buddy/internal/creds"
	"github.com/matheus3301/buddy/internal/engage"
	"github.com/matheus3301/buddy/internal/lock"
	"github.com/matheus3301/buddy/internal/logging"
	"github.com/matheus3301/buddy/internal/membership"
	"github.com/matheus3301/buddy/internal/recovery"
	"github.com/matheus3301/buddy/internal/retention"
	"github.com/matheus3301/buddy/internal/session"
	"github.com/matheus3301/buddy/internal/status"
	"github.com/matheus3301/buddy/internal/wa"
)

// joinPace is the fixed delay between membership join attempts.
const joinPace = 3 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCredStore,
			provideBootstrapper,
			provideAdapter,
			provideCache,
			provideReportRecipient,
			provideRecoveryEngine,
			provideStatusWatcher,
			provideReconciler,
			provideManager,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideCredStore(p Params) *creds.Store {
	// The credential file is the engine's own device database: decoded
	// blobs are materialized where the engine actually reads them.
	return creds.NewStore(session.DeviceDBPath(p.SessionName))
}

func provideBootstrapper(cfg *config.Config, store *creds.Store, logger *zap.Logger) *creds.Bootstrapper {
	var fetcher creds.ArchiveFetcher
	if cfg.Archive.Bucket != "" {
		fetcher = creds.NewS3Fetcher(creds.S3Options{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
	}
	return creds.NewBootstrapper(store, cfg.SessionID, fetcher, logger)
}

// The lock dependency keeps the adapter from opening the device database
// while another daemon instance holds the session. The bootstrapper runs
// first for the same reason: opening the store creates an empty database,
// which would shadow a decodable inline or archived blob.
func provideAdapter(p Params, boot *creds.Bootstrapper, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	ctx := context.Background()
	source, ready := boot.Bootstrap(ctx)
	logger.Info("credential bootstrap",
		zap.String("source", string(source)), zap.Bool("ready", ready))
	return wa.NewAdapter(ctx, p.SessionName, logger)
}

func provideCache() *retention.Cache {
	return retention.NewCache(retention.DefaultCapacity)
}

// provideReportRecipient parses the configured report JID. A malformed
// value disables reporting rather than failing startup.
func provideReportRecipient(cfg *config.Config, logger *zap.Logger) types.JID {
	if cfg.ReportRecipient == "" {
		return types.EmptyJID
	}
	jid, err := types.ParseJID(cfg.ReportRecipient)
	if err != nil {
		logger.Warn("invalid report_recipient, reporting disabled",
			zap.String("value", cfg.ReportRecipient), zap.Error(err))
		return types.EmptyJID
	}
	return jid
}

func provideRecoveryEngine(cache *retention.Cache, adapter *wa.Adapter, reportTo types.JID, logger *zap.Logger) *recovery.Engine {
	return recovery.NewEngine(cache, adapter, reportTo, logger)
}

func provideStatusWatcher(cfg *config.Config, adapter *wa.Adapter, logger *zap.Logger) *engage.Watcher {
	return engage.NewWatcher(adapter, engage.Options{
		AutoView:    cfg.Features.AutoViewStatus,
		AutoLike:    cfg.Features.AutoLikeStatus,
		AutoReact:   cfg.Features.AutoReact,
		StatusReply: cfg.Features.StatusReply,
	}, logger)
}

func provideReconciler(cfg *config.Config, adapter *wa.Adapter, reportTo types.JID, logger *zap.Logger) *membership.Reconciler {
	targets := membership.AssembleTargets(cfg.Membership.ExtraInvites)
	return membership.NewReconciler(targets, adapter, adapter, reportTo, joinPace, logger)
}

func provideManager(cfg *config.Config, adapter *wa.Adapter, boot *creds.Bootstrapper, reconciler *membership.Reconciler, machine *status.Machine, b *bus.Bus, reportTo types.JID, logger *zap.Logger) *agent.Manager {
	return agent.NewManager(adapter, boot, reconciler, adapter, machine, b, logger, agent.Options{
		CheckInterval:       cfg.CheckInterval(),
		ReportTo:            reportTo,
		ConnectNotification: cfg.Features.ConnectNotification,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, cfg *config.Config, adapter *wa.Adapter, cache *retention.Cache, engine *recovery.Engine, watcher *engage.Watcher, manager *agent.Manager, b *bus.Bus, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Register the event router before connecting so no early
			// events are lost.
			router := wa.NewRouter(adapter, b, cache, engine, watcher, cfg.Features.AntiDelete, logger)
			adapter.RegisterEventHandler(router.Handle)

			// Status page in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("status page server error", zap.Error(err))
				}
			}()

			// The lifecycle manager owns bootstrap, connect and
			// reconnect until logout or shutdown. On a terminal logout
			// it returns nil and the process stays up: only the status
			// page keeps serving, until a signal stops the app.
			go func() {
				if err := manager.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("lifecycle manager exited", zap.Error(err))
				}
				if runCtx.Err() == nil {
					logger.Warn("session permanently stopped, status page remains available")
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			adapter.Disconnect()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
