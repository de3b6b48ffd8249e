// scheduler 单个调度节点：持久化调度表、分区认领、死节点接管和HTTP入口。
// 多个节点共享同一个数据库即组成集群。
package main

import (
	"context"
	"errors"
	"flag"
	scheduler "github.com/TimeWtr/job_scheduler"
	"github.com/TimeWtr/job_scheduler/api"
	"github.com/TimeWtr/job_scheduler/config"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/TimeWtr/job_scheduler/domain"
	"github.com/TimeWtr/job_scheduler/membership"
	"github.com/TimeWtr/job_scheduler/repository/dao"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", os.Getenv("SCHEDULER_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// .env可选
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	zl, err := newZap(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = zl.Sync()
	}()
	logger := scheduler.NewZapLogger(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Error("scheduler exited", scheduler.Error(err))
		os.Exit(1)
	}
}

func newZap(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config, logger scheduler.Logger) error {
	db, err := dao.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if cfg.DB.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}

	store := dao.NewStore(db,
		dao.WithDialect(cfg.DB.Dialect),
		dao.WithClaimStrategy(cfg.DB.ClaimStrategy()))
	if cfg.DB.Migrate {
		if err = store.Migrate(ctx); err != nil {
			return err
		}
	}

	members, closeMembers := newMembership(cfg)
	defer closeMembers()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sc := cfg.Scheduler
	core := scheduler.NewSchedulerCore(store, cfg.NodeID, logger,
		scheduler.WithMembership(members),
		scheduler.WithMetrics(scheduler.NewMetrics(reg)),
		scheduler.WithLimiter(sc.Concurrency),
		scheduler.WithMaxRetries(sc.MaxRetries),
		scheduler.WithRetryStrategy(scheduler.NewExponentialRetryStrategy(sc.RetryInitial, sc.RetryMax)),
		scheduler.WithTodoLimit(sc.TodoLimit),
		scheduler.WithPollInterval(sc.PollInterval),
		scheduler.WithImmediateInterval(sc.ImmediateInterval),
		scheduler.WithNearFutureInterval(sc.NearFutureInterval),
		scheduler.WithDequeueLookahead(sc.DequeueLookahead),
		scheduler.WithClusterSize(cfg.Cluster.Size),
		scheduler.WithMaintenanceSpecs(sc.UpgradeSpec, sc.StaleSpec, sc.HeartbeatSpec),
		scheduler.WithFailureHandler(func(_ context.Context, job *domain.Job, cause error) {
			logger.Error("dead job", scheduler.String("job", job.JobID),
				scheduler.String("instance", job.Details.Effective().InstanceID), scheduler.Error(cause))
		}),
	)

	// 引擎未接入时只记录续体，便于单独部署验证调度链路
	for _, jobType := range _const.JobTypes() {
		if err = core.Register(jobType.String(), logExecutor(logger)); err != nil {
			return err
		}
	}

	if err = core.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(core, store, members, reg, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("http server listening", scheduler.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), core.Shutdown(shutdownCtx))
	})

	return eg.Wait()
}

func newMembership(cfg config.Config) (membership.Membership, func()) {
	if cfg.Cluster.RedisAddr == "" {
		nodes := cfg.Cluster.Members
		if len(nodes) == 0 {
			nodes = []string{cfg.NodeID}
		}
		return membership.NewStatic(nodes...), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cluster.RedisAddr,
		Password: cfg.Cluster.RedisPassword,
		DB:       cfg.Cluster.RedisDB,
	})
	var opts []membership.RedisOptions
	if cfg.Cluster.KeyPrefix != "" {
		opts = append(opts, membership.WithKeyPrefix(cfg.Cluster.KeyPrefix))
	}
	return membership.NewRedis(client, cfg.Cluster.NodeTTL, opts...), func() {
		_ = client.Close()
	}
}

func logExecutor(logger scheduler.Logger) scheduler.ExecutorFunc {
	return func(_ context.Context, job *domain.Job) error {
		details := job.Details.Effective()
		logger.Info("continuation due",
			scheduler.String("job", job.JobID),
			scheduler.String("type", details.Type),
			scheduler.String("instance", details.InstanceID),
			scheduler.String("channel", details.Channel),
			scheduler.Int64("retry_count", int64(job.RetryCount)))
		return nil
	}
}
