// Package config 调度节点配置，YAML文件打底，环境变量覆盖
package config

import (
	"errors"
	"fmt"
	_const "github.com/TimeWtr/job_scheduler/const"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid config")

type Config struct {
	// NodeID 节点标识，为空时使用主机名
	NodeID    string          `yaml:"node_id" env:"SCHEDULER_NODE_ID"`
	HTTPAddr  string          `yaml:"http_addr" env:"SCHEDULER_HTTP_ADDR"`
	DB        DBConfig        `yaml:"db" envPrefix:"SCHEDULER_DB_"`
	Cluster   ClusterConfig   `yaml:"cluster" envPrefix:"SCHEDULER_CLUSTER_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"SCHEDULER_LOG_"`
}

type DBConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
	// Dialect 为空时根据驱动探测
	Dialect      string `yaml:"dialect" env:"DIALECT"`
	Claim        string `yaml:"claim" env:"CLAIM"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	Migrate      bool   `yaml:"migrate" env:"MIGRATE"`
}

// ClaimStrategy 出队认领策略，未知取值使用默认策略
func (c DBConfig) ClaimStrategy() _const.ClaimStrategy {
	if c.Claim == _const.ClaimAtomic.String() {
		return _const.ClaimAtomic
	}
	return _const.ClaimSelectThenMark
}

// ClusterConfig 集群成员来源，配置了RedisAddr时使用Redis，否则使用静态列表
type ClusterConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix     string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	NodeTTL       time.Duration `yaml:"node_ttl" env:"NODE_TTL"`
	Members       []string      `yaml:"members" env:"MEMBERS" envSeparator:","`
	// Size 固定分区数，0表示使用存活节点数
	Size int `yaml:"size" env:"SIZE"`
}

type SchedulerConfig struct {
	Concurrency        int64         `yaml:"concurrency" env:"CONCURRENCY"`
	MaxRetries         int           `yaml:"max_retries" env:"MAX_RETRIES"`
	TodoLimit          int           `yaml:"todo_limit" env:"TODO_LIMIT"`
	PollInterval       time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	ImmediateInterval  time.Duration `yaml:"immediate_interval" env:"IMMEDIATE_INTERVAL"`
	NearFutureInterval time.Duration `yaml:"near_future_interval" env:"NEAR_FUTURE_INTERVAL"`
	DequeueLookahead   time.Duration `yaml:"dequeue_lookahead" env:"DEQUEUE_LOOKAHEAD"`
	RetryInitial       time.Duration `yaml:"retry_initial" env:"RETRY_INITIAL"`
	RetryMax           time.Duration `yaml:"retry_max" env:"RETRY_MAX"`
	UpgradeSpec        string        `yaml:"upgrade_spec" env:"UPGRADE_SPEC"`
	StaleSpec          string        `yaml:"stale_spec" env:"STALE_SPEC"`
	HeartbeatSpec      string        `yaml:"heartbeat_spec" env:"HEARTBEAT_SPEC"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// Default 默认配置，单节点SQLite
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		DB: DBConfig{
			Driver:  "sqlite",
			DSN:     "scheduler.db",
			Claim:   _const.ClaimSelectThenMark.String(),
			Migrate: true,
		},
		Cluster: ClusterConfig{
			NodeTTL: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Concurrency:        _const.DefaultLimiter,
			MaxRetries:         _const.DefaultMaxRetries,
			TodoLimit:          _const.DefaultTodoLimit,
			PollInterval:       _const.DefaultPollInterval,
			ImmediateInterval:  _const.DefaultImmediateInterval,
			NearFutureInterval: _const.DefaultNearFutureInterval,
			RetryInitial:       time.Second,
			RetryMax:           5 * time.Minute,
			UpgradeSpec:        _const.DefaultUpgradeSpec,
			StaleSpec:          _const.DefaultStaleSpec,
			HeartbeatSpec:      _const.DefaultHeartbeatSpec,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 加载配置：默认值，path不为空时叠加YAML文件，最后叠加环境变量
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve node id: %w", err)
		}
		cfg.NodeID = host
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.NodeID == "":
		return fmt.Errorf("%w: node_id is empty", ErrInvalidConfig)
	case c.DB.Driver == "" || c.DB.DSN == "":
		return fmt.Errorf("%w: db driver and dsn are required", ErrInvalidConfig)
	case c.Scheduler.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case c.Scheduler.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	case c.Scheduler.RetryInitial <= 0 || c.Scheduler.RetryMax < c.Scheduler.RetryInitial:
		return fmt.Errorf("%w: retry_initial must be positive and not above retry_max", ErrInvalidConfig)
	case c.Scheduler.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	case c.Cluster.Size < 0:
		return fmt.Errorf("%w: cluster size must not be negative", ErrInvalidConfig)
	}
	return nil
}
