// Package config loads the orchestration engine's runtime configuration via
// viper, following the teacher's env-prefixed defaults-then-override shape.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree for a scheduler/API process.
type Config struct {
	Server    ServerConfig
	Queue     QueueBackendConfig
	Redis     RedisConfig
	Namespace NamespaceConfig
	Lock      LockConfig
	Timeout   TimeoutConfig
	Review    ReviewConfig
	Chunking  ChunkingConfig
	Executor  ExecutorConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	LogLevel  string
	BuildSHA  string
}

// ServerConfig controls the control-plane HTTP listener (§6).
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// QueueBackendConfig selects and sizes the Queue Store backend (§4.A, §9
// Open Question on storage backends).
type QueueBackendConfig struct {
	Backend      string // "file" or "redis"
	StateDir     string // root of the on-disk layout described in §6
	PollInterval time.Duration
	StaleAfter   time.Duration // recoverStale maxAge, default 30s per §4.H
	RecoveryTick time.Duration // how often the poller re-runs recoverStale, default 60s
}

// RedisConfig configures the conditional-update "external table" backend.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NamespaceConfig controls derivation of the default namespace (§6).
type NamespaceConfig struct {
	Default    string
	ProjectDir string
}

// LockConfig sizes the Lock Manager's executor semaphore (§4.B).
type LockConfig struct {
	MaxConcurrentExecutors int
}

// TimeoutConfig carries the three timeout profiles from §4.D.
type TimeoutConfig struct {
	StandardIdle time.Duration
	StandardHard time.Duration
	LongIdle     time.Duration
	LongHard     time.Duration
	ExtendedIdle time.Duration
	ExtendedHard time.Duration
}

// ReviewConfig carries the Review Loop's iteration bounds (§4.E).
type ReviewConfig struct {
	MaxIterations  int
	EscalateOnMax  bool
	RetryDelay     time.Duration
	GoalDriftGuard bool
}

// ChunkingConfig carries the Task Chunking bounds and retry policy (§4.F).
type ChunkingConfig struct {
	MinSubtasks        int
	MaxSubtasks        int
	MaxRetries         int
	RetryDelay         time.Duration
	RetryBackoffFactor float64
	FailFast           bool
}

// ExecutorConfig points at the child executor binary consumed by §4.C.
type ExecutorConfig struct {
	BinaryPath      string
	AuthEnvVar      string
	RingBufferSize  int
	HeartbeatPeriod time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Load reads configuration from (in order) an optional config file, then
// ORCH_-prefixed environment variables, layered over the defaults below —
// the same shape as the teacher's Load()/setDefaults() pair.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskorch")

	setDefaults()

	viper.SetEnvPrefix("ORCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Queue backend
	viper.SetDefault("queue.backend", "file")
	viper.SetDefault("queue.statedir", "./state")
	viper.SetDefault("queue.pollinterval", 1*time.Second)
	viper.SetDefault("queue.staleafter", 30*time.Second)
	viper.SetDefault("queue.recoverytick", 60*time.Second)

	// Redis (external-table backend)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 50)
	viper.SetDefault("redis.minidleconns", 5)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Namespace
	viper.SetDefault("namespace.default", "")
	viper.SetDefault("namespace.projectdir", ".")

	// Lock manager / semaphore
	viper.SetDefault("lock.maxconcurrentexecutors", 4)

	// Timeout profiles (§4.D)
	viper.SetDefault("timeout.standardidle", 60*time.Second)
	viper.SetDefault("timeout.standardhard", 10*time.Minute)
	viper.SetDefault("timeout.longidle", 120*time.Second)
	viper.SetDefault("timeout.longhard", 30*time.Minute)
	viper.SetDefault("timeout.extendedidle", 300*time.Second)
	viper.SetDefault("timeout.extendedhard", 60*time.Minute)

	// Review loop
	viper.SetDefault("review.maxiterations", 3)
	viper.SetDefault("review.escalateonmax", true)
	viper.SetDefault("review.retrydelay", 2*time.Second)
	viper.SetDefault("review.goaldriftguard", false)

	// Chunking
	viper.SetDefault("chunking.minsubtasks", 2)
	viper.SetDefault("chunking.maxsubtasks", 10)
	viper.SetDefault("chunking.maxretries", 2)
	viper.SetDefault("chunking.retrydelay", 1*time.Second)
	viper.SetDefault("chunking.retrybackofffactor", 2.0)
	viper.SetDefault("chunking.failfast", false)

	// Executor adapter
	viper.SetDefault("executor.binarypath", "")
	viper.SetDefault("executor.authenvvar", "")
	viper.SetDefault("executor.ringbuffersize", 2000)
	viper.SetDefault("executor.heartbeatperiod", 5*time.Second)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging
	viper.SetDefault("loglevel", "info")
}
