package job_scheduler

import (
	"container/heap"
	"github.com/TimeWtr/job_scheduler/domain"
	"sync"
	"time"
)

type Cache interface {
	Set(key string, value any)
	Get(key string) (any, bool)
	Del(key string) bool
	Len() int
}

func NewLocalCache(size int) Cache {
	return &LocalCache{
		mp: make(map[string]any, size),
		mu: &sync.RWMutex{},
	}
}

// LocalCache 本地待执行Job登记表，取消内存任务时从这里删除
type LocalCache struct {
	mp map[string]any
	mu *sync.RWMutex
}

func (l *LocalCache) Set(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mp[key] = value
}

func (l *LocalCache) Get(key string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.mp[key]
	return v, ok
}

// Del 删除key，key存在时返回true
func (l *LocalCache) Del(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.mp[key]
	delete(l.mp, key)
	return ok
}

func (l *LocalCache) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.mp)
}

// Hp 小顶堆延时队列，执行时间最近的Job在堆顶
type Hp []*domain.Job

func (h *Hp) Len() int {
	return len(*h)
}

// Less 执行时间早的先执行，时间相同时先入队的先执行
func (h *Hp) Less(i, j int) bool {
	return (*h)[i].ScheduledTime < (*h)[j].ScheduledTime
}

func (h *Hp) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *Hp) Push(x interface{}) {
	*h = append(*h, x.(*domain.Job))
}

func (h *Hp) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// ConcurrentJobHeap 并发安全的本地待执行队列
type ConcurrentJobHeap struct {
	hp Hp
	mu *sync.Mutex
}

func NewConcurrentJobHeap(size int) *ConcurrentJobHeap {
	return &ConcurrentJobHeap{
		hp: make(Hp, 0, size),
		mu: &sync.Mutex{},
	}
}

func (h *ConcurrentJobHeap) Push(jobs ...*domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, job := range jobs {
		heap.Push(&h.hp, job)
	}
}

// PopDue 弹出所有已到执行时间的Job
func (h *ConcurrentJobHeap) PopDue(now time.Time) []*domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res []*domain.Job
	for h.hp.Len() > 0 && h.hp[0].Due(now) {
		res = append(res, heap.Pop(&h.hp).(*domain.Job))
	}
	return res
}

// Next 堆顶Job的执行时间，队列为空时返回false
func (h *ConcurrentJobHeap) Next() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hp.Len() == 0 {
		return time.Time{}, false
	}
	return h.hp[0].When(), true
}

// Drain 清空队列并返回所有Job
func (h *ConcurrentJobHeap) Drain() []*domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := make([]*domain.Job, 0, len(h.hp))
	for h.hp.Len() > 0 {
		res = append(res, heap.Pop(&h.hp).(*domain.Job))
	}
	return res
}

func (h *ConcurrentJobHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hp.Len()
}

func (h *ConcurrentJobHeap) Empty() bool {
	return h.Len() == 0
}
