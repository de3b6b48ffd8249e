package config

import (
	"errors"
	_const "github.com/TimeWtr/job_scheduler/const"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
node_id: node-a
db:
  driver: postgres
  dsn: postgres://localhost/ode
  claim: atomic
cluster:
  members: [node-a, node-b]
scheduler:
  concurrency: 4
  poll_interval: 250ms
  near_future_interval: 5m
`)
	t.Setenv("SCHEDULER_NODE_ID", "node-b")
	t.Setenv("SCHEDULER_MAX_RETRIES", "9")
	t.Setenv("SCHEDULER_CLUSTER_REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.NodeID != "node-b" {
		t.Fatalf("NodeID = %q, env should win", cfg.NodeID)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.ClaimStrategy() != _const.ClaimAtomic {
		t.Fatalf("db = %+v", cfg.DB)
	}
	if len(cfg.Cluster.Members) != 2 || cfg.Cluster.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Scheduler.Concurrency != 4 || cfg.Scheduler.MaxRetries != 9 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.PollInterval != 250*time.Millisecond || cfg.Scheduler.NearFutureInterval != 5*time.Minute {
		t.Fatalf("intervals = %s %s", cfg.Scheduler.PollInterval, cfg.Scheduler.NearFutureInterval)
	}
	// 文件中未出现的字段保持默认值
	if cfg.Scheduler.ImmediateInterval != _const.DefaultImmediateInterval || cfg.HTTPAddr != ":8080" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SCHEDULER_NODE_ID", "solo")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.ClaimStrategy() != _const.ClaimSelectThenMark {
		t.Fatalf("db = %+v", cfg.DB)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}

	path := writeFile(t, "scheduler:\n  concurrency: 0\n")
	t.Setenv("SCHEDULER_NODE_ID", "n1")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	t.Setenv("SCHEDULER_RETRY_MAX", "0s")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero retry_max err = %v, want ErrInvalidConfig", err)
	}

	t.Setenv("SCHEDULER_POLL_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("malformed duration should fail")
	}
}
