package _const

import "time"

const (
	// DefaultLimiter 节点默认并发执行的Job数量
	DefaultLimiter = 16
	// DefaultMaxRetries 默认最大重试次数，超过后进入终态失败
	DefaultMaxRetries = 5
	// DefaultTodoLimit 本地待执行队列上限
	DefaultTodoLimit = 1000

	DefaultPollInterval       = time.Second
	DefaultImmediateInterval  = 30 * time.Second
	DefaultNearFutureInterval = 10 * time.Minute

	DefaultUpgradeSpec   = "@every 10s"
	DefaultStaleSpec     = "@every 10s"
	DefaultHeartbeatSpec = "@every 3s"

	// DefaultReleaseTimeout 关闭超时后释放执行中标记的时限
	DefaultReleaseTimeout = 5 * time.Second
)
