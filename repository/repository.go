package repository

import (
	"context"
	"github.com/TimeWtr/job_scheduler/domain"
)

// JobStore 调度表的存储抽象，除非上下文中携带事务，每个操作都在独立事务中完成
type JobStore interface {
	// InsertJob 写入一条新Job，nodeID为空表示未认领，markInFlight为true时直接标记为执行中
	InsertJob(ctx context.Context, job *domain.Job, nodeID string, markInFlight bool) error
	// DeleteJob 删除jobID和nodeID同时匹配的记录，恰好删除一条时返回true
	DeleteJob(ctx context.Context, jobID, nodeID string) (bool, error)
	// DequeueImmediate 认领nodeID下最多maxJobs个到期且未执行的Job，按执行时间升序
	DequeueImmediate(ctx context.Context, nodeID string, maxTime int64, maxJobs int) ([]*domain.Job, error)
	// UpdateAssignToNode 按 ts mod count == index 认领未分配的到期Job
	UpdateAssignToNode(ctx context.Context, nodeID string, index, count int, maxTime int64) (int64, error)
	// UpdateReassign 把oldNodeID的Job全部转给newNodeID并清除执行中标记
	UpdateReassign(ctx context.Context, oldNodeID, newNodeID string) (int64, error)
	// GetNodeIDs 表中出现过的所有节点
	GetNodeIDs(ctx context.Context) ([]string, error)
	// CancelJob 删除尚未进入执行的Job
	CancelJob(ctx context.Context, jobID string) (bool, error)
	// Transaction 在事务中执行fn，fn收到的ctx携带该事务
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	// InTransaction ctx是否携带事务
	InTransaction(ctx context.Context) bool
	// AfterCommit 注册事务提交后的回调，没有事务时立即执行
	AfterCommit(ctx context.Context, fn func())
}
