package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fieldsync/api/controllers"
	"github.com/angelmondragon/fieldsync/api/routes"
	"github.com/angelmondragon/fieldsync/internal/backend"
	"github.com/angelmondragon/fieldsync/internal/connectivity"
	"github.com/angelmondragon/fieldsync/internal/cron"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/fieldsync"
	"github.com/angelmondragon/fieldsync/internal/prefetch"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/internal/syncdrain"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/config"
	"github.com/angelmondragon/fieldsync/pkg/db"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/metrics"
	"github.com/angelmondragon/fieldsync/pkg/redis"
	"github.com/angelmondragon/fieldsync/pkg/syncqueue"
	"github.com/angelmondragon/fieldsync/pkg/syncqueue/idempotency"
)

const shutdownTimeout = 10 * time.Second

type agentParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Backend *db.Client
	// Redis is nil when no endpoint is configured.
	Redis *redis.Client
}

// agent owns the long-running loops of the process.
type agent struct {
	logg         *logger.Logger
	server       *http.Server
	drainer      *syncdrain.Drainer
	monitor      *connectivity.Monitor
	cron         *cron.Service
	orchestrator *submission.Orchestrator
}

func newAgent(params agentParams) (*agent, error) {
	cfg, logg := params.Config, params.Logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	kv, err := openKV(cfg, params.DB, params.Redis)
	if err != nil {
		return nil, err
	}

	remote, err := backend.NewGormService(params.Backend.DB())
	if err != nil {
		return nil, fmt.Errorf("backend service: %w", err)
	}

	queue, err := syncqueue.NewService(params.DB, syncqueue.NewRepository(params.DB.DB()), syncqueue.NewDLQRepository(params.DB.DB()), logg)
	if err != nil {
		return nil, fmt.Errorf("sync queue: %w", err)
	}

	var idemStore redis.IdempotencyStore = idempotency.NewMemoryStore()
	if params.Redis != nil {
		idemStore = params.Redis
	}
	processed, err := idempotency.NewManager(idemStore, cfg.SyncQueue.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency manager: %w", err)
	}

	bus := events.NewBus(logg)
	snapshots, err := snapshot.NewStore(snapshot.StoreParams{
		KV:      kv,
		Logger:  logg,
		Metrics: metrics.NewSnapshotMetrics(registry),
		TTL:     cfg.Snapshot.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	visitStatus := visitstatus.New(kv, logg)

	monitor := connectivity.NewMonitor(connectivity.MonitorParams{
		Pinger:        remote,
		Logger:        logg,
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
	})

	orchestrator, err := submission.NewOrchestrator(submission.Params{
		Backend:      remote,
		Queue:        queue,
		Snapshots:    snapshots,
		VisitStatus:  visitStatus,
		Bus:          bus,
		Connectivity: monitor,
		Metrics:      metrics.NewSubmissionMetrics(registry),
		Logger:       logg,
		Timeout:      cfg.Submission.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("submission orchestrator: %w", err)
	}

	reconciler, err := syncdrain.NewReconciler(snapshots, visitStatus, bus)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}
	drainer, err := syncdrain.NewDrainer(syncdrain.DrainerParams{
		Queue:        queue,
		Backend:      remote,
		Reconciler:   reconciler,
		Snapshots:    snapshots,
		Bus:          bus,
		Idempotency:  processed,
		Connectivity: monitor,
		Metrics:      metrics.NewSyncMetrics(registry),
		Logger:       logg,
		BatchSize:    cfg.SyncQueue.BatchSize,
		PollInterval: time.Duration(cfg.SyncQueue.PollIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.SyncQueue.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("sync drain: %w", err)
	}

	prefetcher, err := prefetch.New(prefetch.Params{
		Backend:     remote,
		Snapshots:   snapshots,
		VisitStatus: visitStatus,
		Bus:         bus,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("prefetcher: %w", err)
	}

	svc, err := fieldsync.NewService(fieldsync.ServiceParams{
		Submitter:   orchestrator,
		Snapshots:   snapshots,
		VisitStatus: visitStatus,
		Prefetcher:  prefetcher,
		DeadLetters: queue,
		Drain:       drainer,
		Bus:         bus,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("fieldsync service: %w", err)
	}

	cronService, err := newCron(cfg, logg, params.Redis, snapshots, queue, registry)
	if err != nil {
		return nil, err
	}

	ready := map[string]controllers.Pinger{"db": params.DB}
	if params.Redis != nil {
		ready["redis"] = params.Redis
	}
	router := routes.NewRouter(routes.RouterParams{
		Config:       cfg,
		Logger:       logg,
		Orders:       svc,
		Days:         svc,
		Sync:         svc,
		Connectivity: monitor,
		Drain:        drainer,
		Bus:          svc.Events(),
		Idempotency:  idemStore,
		Ready:        ready,
		Gatherer:     registry,
	})

	return &agent{
		logg: logg,
		server: &http.Server{
			Addr:              "127.0.0.1:" + cfg.App.Port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		drainer:      drainer,
		monitor:      monitor,
		cron:         cronService,
		orchestrator: orchestrator,
	}, nil
}

func openKV(cfg *config.Config, client *db.Client, redisClient *redis.Client) (kvstore.Store, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.StoreMemory:
		return kvstore.NewMemoryStore(), nil
	case config.StoreRedis:
		if redisClient == nil {
			return nil, errors.New("redis store selected without a redis client")
		}
		return kvstore.NewRedisStore(redisClient)
	default:
		return kvstore.NewSQLStore(client.DB())
	}
}

func newCron(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, snapshots *snapshot.Store, queue *syncqueue.Service, reg prometheus.Registerer) (*cron.Service, error) {
	cleanup, err := cron.NewSnapshotCleanupJob(cron.SnapshotCleanupJobParams{Logger: logg, Snapshots: snapshots})
	if err != nil {
		return nil, fmt.Errorf("snapshot cleanup job: %w", err)
	}
	retention, err := cron.NewSyncRetentionJob(cron.SyncRetentionJobParams{
		Logger:    logg,
		Queue:     queue,
		Retention: cfg.SyncQueue.RetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("sync retention job: %w", err)
	}

	var lock cron.Lock = cron.NewLocalLock()
	if redisClient != nil {
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.Interval)
		if err != nil {
			return nil, fmt.Errorf("cron lock: %w", err)
		}
		lock = redisLock
	}

	svc, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(cleanup, retention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("cron service: %w", err)
	}
	return svc, nil
}

// Run serves the local API and runs the background loops until ctx ends or
// one of them fails. The HTTP server is shut down gracefully either way.
func (a *agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logg.Info(a.logg.WithField(gctx, "addr", a.server.Addr), "local api listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.drainer.Run(gctx) })
	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.cron.Run(gctx) })

	err := g.Wait()
	a.orchestrator.Wait()
	return err
}
