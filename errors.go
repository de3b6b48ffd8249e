package job_scheduler

import "errors"

var (
	ErrNoTransaction  = errors.New("job_scheduler: transacted job requires an ambient transaction")
	ErrHandlerExists  = errors.New("job_scheduler: executor already registered")
	ErrNoExecutor     = errors.New("job_scheduler: no executor registered")
	ErrJobNotFound    = errors.New("job_scheduler: job not found or already in flight")
	ErrAlreadyStarted = errors.New("job_scheduler: scheduler already started")
	ErrInvalidJobType = errors.New("job_scheduler: job type is empty")
	// errLostOwnership 删除时发现Job已不属于本节点，通常是被判定死亡后被转移
	errLostOwnership = errors.New("job_scheduler: job no longer owned by this node")
)
