package job_scheduler

import (
	"context"
	"errors"
	"fmt"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/TimeWtr/job_scheduler/membership"
	"github.com/robfig/cron/v3"
	"hash/fnv"
	"sort"
)

// newMaintenance 分区认领、死节点检查和心跳三个周期任务，上一轮未结束时跳过本轮
func (s *SchedulerCore) newMaintenance(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(
		cron.WithParser(_const.Parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	tasks := []struct {
		name string
		spec string
		fn   func(ctx context.Context)
	}{
		{name: "upgrade", spec: s.upgradeSpec, fn: s.upgradeJobs},
		{name: "stale", spec: s.staleSpec, fn: s.checkStaleNodes},
		{name: "heartbeat", spec: s.heartbeatSpec, fn: s.heartbeat},
	}
	for _, task := range tasks {
		fn := task.fn
		if _, err := c.AddFunc(task.spec, func() { fn(ctx) }); err != nil {
			return nil, fmt.Errorf("job_scheduler: invalid %s spec %q: %w", task.name, task.spec, err)
		}
	}
	return c, nil
}

func (s *SchedulerCore) heartbeat(ctx context.Context) {
	if err := s.members.Heartbeat(ctx, s.nodeID); err != nil {
		s.logger.Error("failed to heartbeat", String("node", s.nodeID), Error(err))
	}
}

// upgradeJobs 按本节点在存活列表中的位置认领未分配的近期Job
func (s *SchedulerCore) upgradeJobs(ctx context.Context) {
	live, err := s.members.LiveNodes(ctx)
	if err != nil {
		s.logger.Error("failed to list live nodes", Error(err))
		return
	}

	sort.Strings(live)
	index := sort.SearchStrings(live, s.nodeID)
	if index >= len(live) || live[index] != s.nodeID {
		s.logger.Warn("node is not in the live list, skip partition claim", String("node", s.nodeID))
		return
	}

	count := len(live)
	if s.clusterSize > 0 {
		count = s.clusterSize
	}
	if index >= count {
		return
	}

	maxTime := s.now().Add(s.nearFutureInterval).UnixMilli()
	n, err := s.store.UpdateAssignToNode(ctx, s.nodeID, index, count, maxTime)
	if err != nil {
		s.logger.Error("failed to claim partition", Int64("index", int64(index)),
			Int64("count", int64(count)), Error(err))
		return
	}
	if n > 0 {
		s.metrics.Assigned.Add(float64(n))
		s.logger.Debug("claimed unassigned jobs", Int64("count", n),
			Int64("index", int64(index)), Int64("partitions", int64(count)))
	}
}

// checkStaleNodes 表中出现、曾经存活且现已死亡的节点，由确定性选出的幸存节点接管。
// 成员视图从未见过的节点不处理，成员视图不跟踪存活时跳过整轮检查
func (s *SchedulerCore) checkStaleNodes(ctx context.Context) {
	owners, err := s.store.GetNodeIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list job owners", Error(err))
		return
	}
	live, err := s.members.LiveNodes(ctx)
	if err != nil {
		s.logger.Error("failed to list live nodes", Error(err))
		return
	}

	sort.Strings(live)
	alive := make(map[string]struct{}, len(live))
	for _, node := range live {
		alive[node] = struct{}{}
	}
	if _, ok := alive[s.nodeID]; !ok {
		return
	}

	for _, owner := range owners {
		if _, ok := alive[owner]; ok {
			continue
		}

		lost, err := s.members.Lost(ctx, owner)
		if errors.Is(err, membership.ErrNoLiveness) {
			return
		}
		if err != nil {
			s.logger.Error("failed to check node liveness", String("node", owner), Error(err))
			continue
		}
		if !lost || survivor(owner, live) != s.nodeID {
			continue
		}

		if _, err = s.Reassign(ctx, owner, s.nodeID); err != nil {
			s.logger.Error("failed to take over dead node", String("dead", owner), Error(err))
		}
	}
}

// survivor 为死亡节点确定性地选出接管者，所有节点对同一存活列表得出相同结果
func survivor(dead string, live []string) string {
	if len(live) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(dead))
	return live[h.Sum32()%uint32(len(live))]
}

// Reassign 把死亡节点的Job全部转给survivor，重复调用无副作用
func (s *SchedulerCore) Reassign(ctx context.Context, deadNode, survivorNode string) (int64, error) {
	n, err := s.store.UpdateReassign(ctx, deadNode, survivorNode)
	if err != nil {
		return -1, err
	}

	if n > 0 {
		s.metrics.Reassigned.Add(float64(n))
		s.logger.Info("reassigned jobs of dead node", String("dead", deadNode),
			String("survivor", survivorNode), Int64("count", n))
	}
	return n, nil
}

// NodeDead 外部通知节点死亡，Job转给确定性选出的幸存节点，没有其他存活节点时由本节点接管
func (s *SchedulerCore) NodeDead(ctx context.Context, deadNode string) (int64, error) {
	if deadNode == s.nodeID {
		return 0, fmt.Errorf("job_scheduler: node %s cannot declare itself dead", deadNode)
	}

	live, err := s.members.LiveNodes(ctx)
	if err != nil {
		return -1, err
	}

	candidates := make([]string, 0, len(live))
	for _, node := range live {
		if node != deadNode {
			candidates = append(candidates, node)
		}
	}
	sort.Strings(candidates)

	target := survivor(deadNode, candidates)
	if target == "" {
		target = s.nodeID
	}
	return s.Reassign(ctx, deadNode, target)
}
