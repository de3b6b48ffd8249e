// Package membership 提供集群存活节点列表，调度器只消费不负责探测
package membership

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNoLiveness 成员视图不掌握节点存活信息，无法判断节点死亡
var ErrNoLiveness = errors.New("membership: no liveness information")

// Membership 集群成员视图
type Membership interface {
	// Heartbeat 上报节点存活
	Heartbeat(ctx context.Context, nodeID string) error
	// LiveNodes 当前存活节点，按字典序排列
	LiveNodes(ctx context.Context) ([]string, error)
	// Lost 节点曾经上报过存活且现在已不存活时返回true，从未见过的节点返回false。
	// 不跟踪存活的实现返回ErrNoLiveness
	Lost(ctx context.Context, nodeID string) (bool, error)
}

// Leaver 支持主动下线的成员视图，节点正常停止时调用
type Leaver interface {
	Leave(ctx context.Context, nodeID string) error
}

// Local 进程内心跳表，超过staleInterval未上报的节点视为死亡
type Local struct {
	mu            sync.RWMutex
	lastSeen      map[string]time.Time
	gone          map[string]struct{}
	staleInterval time.Duration
	now           func() time.Time
}

func NewLocal(staleInterval time.Duration) *Local {
	return &Local{
		lastSeen:      make(map[string]time.Time),
		gone:          make(map[string]struct{}),
		staleInterval: staleInterval,
		now:           time.Now,
	}
}

func (l *Local) Heartbeat(_ context.Context, nodeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeen[nodeID] = l.now()
	delete(l.gone, nodeID)
	return nil
}

// Remove 立即把节点标记为死亡
func (l *Local) Remove(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lastSeen[nodeID]; ok {
		l.gone[nodeID] = struct{}{}
	}
	delete(l.lastSeen, nodeID)
}

// Leave 节点主动下线
func (l *Local) Leave(_ context.Context, nodeID string) error {
	l.Remove(nodeID)
	return nil
}

func (l *Local) LiveNodes(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-l.staleInterval)
	nodes := make([]string, 0, len(l.lastSeen))
	for node, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			continue
		}
		nodes = append(nodes, node)
	}

	sort.Strings(nodes)
	return nodes, nil
}

func (l *Local) Lost(_ context.Context, nodeID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.gone[nodeID]; ok {
		return true, nil
	}
	seen, ok := l.lastSeen[nodeID]
	if !ok {
		return false, nil
	}
	return seen.Before(l.now().Add(-l.staleInterval)), nil
}

// Static 固定的集群成员，适用于按配置的集群规模分区。
// 不跟踪存活，任何节点都不会被判定死亡，死节点只能通过外部通知转移
type Static struct {
	nodes []string
}

func NewStatic(nodes ...string) *Static {
	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	return &Static{nodes: sorted}
}

func (s *Static) Heartbeat(context.Context, string) error {
	return nil
}

func (s *Static) LiveNodes(context.Context) ([]string, error) {
	return append([]string(nil), s.nodes...), nil
}

func (s *Static) Lost(context.Context, string) (bool, error) {
	return false, ErrNoLiveness
}
