package job_scheduler

import (
	"math"
	"time"
)

// RetryStrategy 计算第attempt次重试前的等待时间，attempt从1开始
type RetryStrategy interface {
	Delay(attempt int) time.Duration
}

// FixedRetryStrategy 固定间隔重试
type FixedRetryStrategy struct {
	// 固定时间间隔
	interval time.Duration
}

func NewFixedRetryStrategy(interval time.Duration) *FixedRetryStrategy {
	return &FixedRetryStrategy{interval: interval}
}

func (s *FixedRetryStrategy) Delay(int) time.Duration {
	return s.interval
}

// ExponentialRetryStrategy 指数退避，initial * 2^(attempt-1)，不超过maxInterval
type ExponentialRetryStrategy struct {
	initial     time.Duration
	maxInterval time.Duration
}

func NewExponentialRetryStrategy(initial, maxInterval time.Duration) *ExponentialRetryStrategy {
	return &ExponentialRetryStrategy{
		initial:     initial,
		maxInterval: maxInterval,
	}
}

func (s *ExponentialRetryStrategy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(s.initial) * math.Pow(2, float64(attempt-1))
	if s.maxInterval > 0 && d > float64(s.maxInterval) {
		return s.maxInterval
	}
	// 没有上限时防止溢出为负数
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
