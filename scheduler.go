package job_scheduler

import (
	"context"
	"fmt"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/TimeWtr/job_scheduler/domain"
	"github.com/TimeWtr/job_scheduler/membership"
	"github.com/TimeWtr/job_scheduler/repository"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
	"sync"
	"sync/atomic"
	"time"
)

type Scheduler interface {
	// SchedulePersistent 持久化调度，transacted为true时必须在调用方的事务中调用
	SchedulePersistent(ctx context.Context, details domain.JobDetails, when time.Time, transacted bool) (string, error)
	// ScheduleInMemory 内存调度，不落库，重启后丢失
	ScheduleInMemory(ctx context.Context, details domain.JobDetails, when time.Time, transacted bool) (string, error)
	// Cancel 取消尚未开始执行的Job
	Cancel(ctx context.Context, jobID string) error
	// Register 注册执行器方法
	Register(jobType string, executorFunc ExecutorFunc) error
	// ExecTransaction 在事务中执行fn
	ExecTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	NodeID() string
}

var _ Scheduler = (*SchedulerCore)(nil)

type Options func(core *SchedulerCore)

func WithRetryStrategy(retry RetryStrategy) Options {
	return func(c *SchedulerCore) {
		c.retry = retry
	}
}

// WithMaxRetries 最大重试次数，0表示失败即进入终态
func WithMaxRetries(maxRetries int) Options {
	return func(c *SchedulerCore) {
		c.maxRetries = maxRetries
	}
}

// WithLimiter 设置节点并发执行的Job数量
func WithLimiter(limiter int64) Options {
	return func(c *SchedulerCore) {
		c.limiter = semaphore.NewWeighted(limiter)
	}
}

func WithMembership(m membership.Membership) Options {
	return func(c *SchedulerCore) {
		c.members = m
	}
}

func WithMetrics(m *Metrics) Options {
	return func(c *SchedulerCore) {
		c.metrics = m
	}
}

func WithFailureHandler(fn FailureHandler) Options {
	return func(c *SchedulerCore) {
		c.onFailure = fn
	}
}

// WithPollInterval 出队轮询间隔
func WithPollInterval(d time.Duration) Options {
	return func(c *SchedulerCore) {
		c.pollInterval = d
	}
}

// WithImmediateInterval 执行时间在该间隔内的Job写入时直接进入本地队列
func WithImmediateInterval(d time.Duration) Options {
	return func(c *SchedulerCore) {
		c.immediateInterval = d
	}
}

// WithNearFutureInterval 执行时间在该间隔内的Job写入时分配给本节点，
// 分区认领也只认领该间隔内到期的Job
func WithNearFutureInterval(d time.Duration) Options {
	return func(c *SchedulerCore) {
		c.nearFutureInterval = d
	}
}

// WithDequeueLookahead 出队时额外提前的时间，默认只出队已到期的Job
func WithDequeueLookahead(d time.Duration) Options {
	return func(c *SchedulerCore) {
		c.lookahead = d
	}
}

func WithTodoLimit(limit int) Options {
	return func(c *SchedulerCore) {
		c.todoLimit = limit
	}
}

// WithClusterSize 固定分区数，0表示使用存活节点数
func WithClusterSize(size int) Options {
	return func(c *SchedulerCore) {
		c.clusterSize = size
	}
}

// WithMaintenanceSpecs 设置分区认领、死节点检查和心跳的cron表达式，空串保持默认
func WithMaintenanceSpecs(upgrade, stale, heartbeat string) Options {
	return func(c *SchedulerCore) {
		if upgrade != "" {
			c.upgradeSpec = upgrade
		}
		if stale != "" {
			c.staleSpec = stale
		}
		if heartbeat != "" {
			c.heartbeatSpec = heartbeat
		}
	}
}

type SchedulerCore struct {
	nodeID string
	logger Logger
	store  repository.JobStore
	// 集群成员视图
	members membership.Membership
	// 本地的执行器注册中心
	mu         sync.RWMutex
	execCenter map[string]ExecutorFunc
	// 失败重试策略
	retry      RetryStrategy
	maxRetries int
	onFailure  FailureHandler
	// 限流
	limiter *semaphore.Weighted
	metrics *Metrics

	pollInterval       time.Duration
	immediateInterval  time.Duration
	nearFutureInterval time.Duration
	lookahead          time.Duration
	todoLimit          int
	clusterSize        int

	upgradeSpec   string
	staleSpec     string
	heartbeatSpec string
	cron          *cron.Cron

	// 本地待执行队列，按执行时间排序
	todo *ConcurrentJobHeap
	// 已入队但尚未开始执行的Job，取消时从这里删除
	outstanding Cache
	wake        chan struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	execWg  sync.WaitGroup
	now     func() time.Time
}

func NewSchedulerCore(
	store repository.JobStore,
	nodeID string,
	logger Logger,
	opts ...Options) *SchedulerCore {
	scheduler := &SchedulerCore{
		nodeID:             nodeID,
		logger:             logger,
		store:              store,
		execCenter:         map[string]ExecutorFunc{},
		maxRetries:         _const.DefaultMaxRetries,
		pollInterval:       _const.DefaultPollInterval,
		immediateInterval:  _const.DefaultImmediateInterval,
		nearFutureInterval: _const.DefaultNearFutureInterval,
		todoLimit:          _const.DefaultTodoLimit,
		upgradeSpec:        _const.DefaultUpgradeSpec,
		staleSpec:          _const.DefaultStaleSpec,
		heartbeatSpec:      _const.DefaultHeartbeatSpec,
		todo:               NewConcurrentJobHeap(_const.DefaultTodoLimit),
		outstanding:        NewLocalCache(_const.DefaultTodoLimit),
		wake:               make(chan struct{}, 1),
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	if scheduler.logger == nil {
		scheduler.logger = NewNopLogger()
	}
	if scheduler.limiter == nil {
		scheduler.limiter = semaphore.NewWeighted(_const.DefaultLimiter)
	}
	if scheduler.retry == nil {
		scheduler.retry = NewExponentialRetryStrategy(time.Second, 5*time.Minute)
	}
	if scheduler.members == nil {
		scheduler.members = membership.NewStatic(nodeID)
	}
	if scheduler.metrics == nil {
		scheduler.metrics = NewMetrics(nil)
	}

	return scheduler
}

func (s *SchedulerCore) NodeID() string {
	return s.nodeID
}

func (s *SchedulerCore) Register(jobType string, executorFunc ExecutorFunc) error {
	if jobType == "" {
		return ErrInvalidJobType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execCenter[jobType]; ok {
		return fmt.Errorf("%w: %q", ErrHandlerExists, jobType)
	}
	s.execCenter[jobType] = executorFunc
	return nil
}

// RegisterExecutor 按Executor.Type注册
func (s *SchedulerCore) RegisterExecutor(e Executor) error {
	return s.Register(e.Type(), e.Execute)
}

func (s *SchedulerCore) ExecTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.store.Transaction(ctx, fn)
}

func (s *SchedulerCore) SchedulePersistent(ctx context.Context, details domain.JobDetails,
	when time.Time, transacted bool) (string, error) {
	if transacted && !s.store.InTransaction(ctx) {
		return "", ErrNoTransaction
	}

	job := domain.NewJob(details, when, transacted, false)
	delay := when.Sub(s.now())
	switch {
	case delay < s.immediateInterval && s.running.Load():
		// 马上到期的Job直接标记执行中并进入本地队列，提交之后才入队
		if err := s.store.InsertJob(ctx, job, s.nodeID, true); err != nil {
			return "", err
		}
		s.store.AfterCommit(ctx, func() {
			s.track(job)
		})
	case delay < s.nearFutureInterval:
		if err := s.store.InsertJob(ctx, job, s.nodeID, false); err != nil {
			return "", err
		}
	default:
		if err := s.store.InsertJob(ctx, job, "", false); err != nil {
			return "", err
		}
	}

	s.metrics.Scheduled.WithLabelValues("persistent").Inc()
	return job.JobID, nil
}

func (s *SchedulerCore) ScheduleInMemory(ctx context.Context, details domain.JobDetails,
	when time.Time, transacted bool) (string, error) {
	job := domain.NewJob(details, when, transacted, true)
	job.NodeID = s.nodeID
	s.store.AfterCommit(ctx, func() {
		s.track(job)
	})

	s.metrics.Scheduled.WithLabelValues("memory").Inc()
	return job.JobID, nil
}

func (s *SchedulerCore) Cancel(ctx context.Context, jobID string) error {
	if v, ok := s.outstanding.Get(jobID); ok && s.outstanding.Del(jobID) {
		job := v.(*domain.Job)
		if job.InMem {
			return nil
		}

		// 已在本地队列中的持久化Job属于本节点，直接按节点删除
		if _, err := s.store.DeleteJob(ctx, jobID, s.nodeID); err != nil {
			s.outstanding.Set(jobID, job)
			return err
		}
		return nil
	}

	ok, err := s.store.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// track 放入本地待执行队列并唤醒调度循环
func (s *SchedulerCore) track(jobs ...*domain.Job) {
	for _, job := range jobs {
		s.outstanding.Set(job.JobID, job)
	}
	s.todo.Push(jobs...)
	s.metrics.Todo.Set(float64(s.todo.Len()))

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SchedulerCore) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := s.members.Heartbeat(ctx, s.nodeID); err != nil {
		s.running.Store(false)
		return err
	}

	// 清除上一次运行残留的执行中标记
	if _, err := s.store.UpdateReassign(ctx, s.nodeID, s.nodeID); err != nil {
		s.running.Store(false)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c, err := s.newMaintenance(runCtx)
	if err != nil {
		cancel()
		s.running.Store(false)
		return err
	}
	s.cancel = cancel
	s.cron = c

	s.upgradeJobs(runCtx)
	s.cron.Start()

	s.loopWg.Add(1)
	go s.loop(runCtx)

	s.logger.Info("scheduler started", String("node", s.nodeID))
	return nil
}

// Shutdown 停止出队并等待执行中的Job完成，然后释放本节点残留的执行中标记。
// ctx超时时仍会释放标记，但不会退出成员，返回ctx.Err()
func (s *SchedulerCore) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.loopWg.Wait()
		s.execWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// 仍有Job在执行，只释放标记不退出成员，避免其他节点重复执行
		s.logger.Warn("shutdown timed out, releasing in-flight jobs", String("node", s.nodeID))
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _const.DefaultReleaseTimeout)
		defer cancel()
		if err := s.release(releaseCtx); err != nil {
			s.logger.Error("failed to release in-flight jobs", String("node", s.nodeID), Error(err))
		}
		return ctx.Err()
	}

	if err := s.release(ctx); err != nil {
		return err
	}

	if l, ok := s.members.(membership.Leaver); ok {
		if err := l.Leave(ctx, s.nodeID); err != nil {
			s.logger.Warn("failed to leave membership", String("node", s.nodeID), Error(err))
		}
	}

	s.logger.Info("scheduler stopped", String("node", s.nodeID))
	return nil
}

// release 清空本地堆并把本节点的执行中标记复位，重启或其他节点可重新出队
func (s *SchedulerCore) release(ctx context.Context) error {
	for _, job := range s.todo.Drain() {
		s.outstanding.Del(job.JobID)
	}
	s.metrics.Todo.Set(0)

	_, err := s.store.UpdateReassign(ctx, s.nodeID, s.nodeID)
	return err
}
