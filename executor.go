package job_scheduler

import (
	"context"
	"errors"
	"fmt"
	"github.com/TimeWtr/job_scheduler/domain"
)

// ExecutorFunc 执行器方法，事务型Job的ctx携带事务，可通过dao.TxFromContext取出
type ExecutorFunc func(ctx context.Context, job *domain.Job) error

// Executor 执行器抽象
type Executor interface {
	// Type 处理的续体类型
	Type() string
	// Execute 执行方法
	Execute(ctx context.Context, job *domain.Job) error
}

// FailureHandler 终态失败回调，在Job被删除之前调用
type FailureHandler func(ctx context.Context, job *domain.Job, cause error)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent 包装不需要重试的错误，Job直接进入终态失败
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func (s *SchedulerCore) executor(jobType string) (ExecutorFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.execCenter[jobType]
	return fn, ok
}

// execute 执行一个已出队的Job，成功删除，失败重试或进入终态
func (s *SchedulerCore) execute(ctx context.Context, job *domain.Job) {
	jobType := job.Details.Effective().Type
	fn, ok := s.executor(jobType)
	if !ok {
		s.fail(ctx, job, fmt.Errorf("%w: %q", ErrNoExecutor, jobType))
		return
	}

	var err error
	if job.Transacted {
		err = s.store.Transaction(ctx, func(ctx context.Context) error {
			if err := fn(ctx, job); err != nil {
				return err
			}
			return s.complete(ctx, job)
		})
	} else {
		err = fn(ctx, job)
		if err == nil {
			// 执行器已经成功，删除失败只记录日志，重启后的恢复会再次投递
			if err1 := s.complete(ctx, job); err1 != nil {
				s.logger.Error("failed to delete executed job",
					String("job", job.JobID), Error(err1))
			}
		}
	}

	switch {
	case err == nil:
		s.metrics.Executed.WithLabelValues("success").Inc()
		s.logger.Debug("job executed", String("job", job.JobID), String("type", jobType))
	case errors.Is(err, errLostOwnership):
		s.metrics.Executed.WithLabelValues("lost").Inc()
		s.logger.Warn("job was reassigned while executing, result rolled back",
			String("job", job.JobID))
	default:
		s.fail(ctx, job, err)
	}
}

// complete 删除执行成功的Job，内存任务无需删除
func (s *SchedulerCore) complete(ctx context.Context, job *domain.Job) error {
	if job.InMem {
		return nil
	}

	ok, err := s.store.DeleteJob(ctx, job.JobID, s.nodeID)
	if err != nil {
		return err
	}
	if !ok {
		return errLostOwnership
	}
	return nil
}

// fail 失败处理：未超过重试上限时以新ID重新调度，否则进入终态
func (s *SchedulerCore) fail(ctx context.Context, job *domain.Job, cause error) {
	s.metrics.Executed.WithLabelValues("failure").Inc()

	attempt := job.RetryCount + 1
	if IsPermanent(cause) || attempt > s.maxRetries {
		s.bury(ctx, job, cause)
		return
	}

	next := job.Retry(s.now().Add(s.retry.Delay(attempt)))
	if job.InMem {
		s.track(next)
		s.metrics.Retried.Inc()
		s.logger.Warn("in-memory job failed, retrying", String("job", job.JobID),
			String("retry", next.JobID), Int64("attempt", int64(attempt)), Error(cause))
		return
	}

	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := s.store.InsertJob(ctx, next, s.nodeID, false); err != nil {
			return err
		}
		return s.complete(ctx, job)
	})
	if err != nil {
		s.logger.Error("failed to reschedule job", String("job", job.JobID),
			Error(err), Field{Key: "cause", Val: cause.Error()})
		return
	}

	s.metrics.Retried.Inc()
	s.logger.Warn("job failed, retrying", String("job", job.JobID), String("retry", next.JobID),
		Int64("attempt", int64(attempt)), Int64("ts", next.ScheduledTime), Error(cause))
}

// bury 终态失败：记录、回调，然后删除
func (s *SchedulerCore) bury(ctx context.Context, job *domain.Job, cause error) {
	s.metrics.Dead.Inc()
	s.logger.Error("job failed permanently", String("job", job.JobID),
		String("type", job.Details.Effective().Type),
		Int64("retry_count", int64(job.RetryCount)), Error(cause))

	if s.onFailure != nil {
		s.onFailure(ctx, job, cause)
	}

	if err := s.complete(ctx, job); err != nil {
		s.logger.Error("failed to delete dead job", String("job", job.JobID), Error(err))
	}
}
