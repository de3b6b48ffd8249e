package job_scheduler

import (
	"context"
	"errors"
	"github.com/TimeWtr/job_scheduler/repository/dao"
	"time"
)

// loop 每个节点唯一的出队循环，同一节点上的DequeueImmediate调用互斥
func (s *SchedulerCore) loop(ctx context.Context) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	s.poll(ctx)
	for {
		if err := s.dispatch(ctx); err != nil {
			return
		}
		timer.Reset(s.untilNext())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// poll 认领本节点到期的Job放入本地队列
func (s *SchedulerCore) poll(ctx context.Context) {
	room := s.todoLimit - s.todo.Len()
	if room <= 0 {
		return
	}

	maxTime := s.now().Add(s.lookahead).UnixMilli()
	jobs, err := s.store.DequeueImmediate(ctx, s.nodeID, maxTime, room)
	if err != nil {
		if errors.Is(err, dao.ErrClaimInconsistent) {
			s.logger.Warn("dequeue claimed an inconsistent set, retry next tick", Error(err))
			return
		}
		if ctx.Err() == nil {
			s.logger.Error("failed to dequeue jobs", Error(err))
		}
		return
	}
	if len(jobs) == 0 {
		return
	}

	s.metrics.Dequeued.Add(float64(len(jobs)))
	s.track(jobs...)
}

// dispatch 把到期的Job交给执行池，执行池满时阻塞，ctx结束时返回错误
func (s *SchedulerCore) dispatch(ctx context.Context) error {
	due := s.todo.PopDue(s.now())
	s.metrics.Todo.Set(float64(s.todo.Len()))

	for i, job := range due {
		// 已被取消
		if !s.outstanding.Del(job.JobID) {
			continue
		}

		if err := s.limiter.Acquire(ctx, 1); err != nil {
			// 未执行的持久化Job在Shutdown时统一释放
			s.todo.Push(due[i:]...)
			s.outstanding.Set(job.JobID, job)
			return err
		}

		s.execWg.Add(1)
		go func() {
			defer s.execWg.Done()
			defer s.limiter.Release(1)
			s.execute(context.WithoutCancel(ctx), job)
		}()
	}
	return nil
}

// untilNext 距离本地队列堆顶到期的时间，不超过轮询间隔
func (s *SchedulerCore) untilNext() time.Duration {
	next, ok := s.todo.Next()
	if !ok {
		return s.pollInterval
	}

	d := next.Sub(s.now())
	if d < 0 {
		return 0
	}
	return min(d, s.pollInterval)
}
