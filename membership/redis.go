package membership

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"sort"
	"strings"
	"time"
)

const defaultKeyPrefix = "job_scheduler:node:"

type RedisOptions func(r *Redis)

// WithKeyPrefix 设置节点键前缀，同一Redis上运行多个集群时使用
func WithKeyPrefix(prefix string) RedisOptions {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// Redis 每个节点一个带TTL的键，键过期即视为节点死亡。
// 上报过的节点另外记录在一个集合中，用于区分已死亡和从未出现的节点
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, opts ...RedisOptions) *Redis {
	r := &Redis{
		client: client,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// seenKey 不能落在prefix*的扫描范围内
func (r *Redis) seenKey() string {
	return strings.TrimSuffix(r.prefix, ":") + "-seen"
}

func (r *Redis) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.prefix+nodeID, time.Now().UnixMilli(), r.ttl)
		pipe.SAdd(ctx, r.seenKey(), nodeID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("membership: heartbeat %s: %w", nodeID, err)
	}
	return nil
}

func (r *Redis) LiveNodes(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		nodes  []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("membership: scan nodes: %w", err)
		}
		for _, key := range keys {
			nodes = append(nodes, strings.TrimPrefix(key, r.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(nodes)
	return nodes, nil
}

func (r *Redis) Lost(ctx context.Context, nodeID string) (bool, error) {
	seen, err := r.client.SIsMember(ctx, r.seenKey(), nodeID).Result()
	if err != nil {
		return false, fmt.Errorf("membership: lookup %s: %w", nodeID, err)
	}
	if !seen {
		return false, nil
	}

	n, err := r.client.Exists(ctx, r.prefix+nodeID).Result()
	if err != nil {
		return false, fmt.Errorf("membership: lookup %s: %w", nodeID, err)
	}
	return n == 0, nil
}

// Leave 节点主动下线，之后被视为已死亡
func (r *Redis) Leave(ctx context.Context, nodeID string) error {
	return r.client.Del(ctx, r.prefix+nodeID).Err()
}
