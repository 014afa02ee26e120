// Package config loads the runtime's process-wide configuration: pool
// sizing, quota defaults, degradation thresholds, and the coordination
// store address. It follows the viper-based load pattern used by
// flyingrobots-go-redis-work-queue's internal/config/config.go: defaults
// registered on a fresh viper.Viper, an optional YAML file overlay, then
// automatic env-var overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Pool struct {
	Min                   int           `mapstructure:"min"`
	Max                   int           `mapstructure:"max"`
	MaxRequestsPerWorker  int           `mapstructure:"max_requests_per_worker"`
	MaxUptimePerWorker    time.Duration `mapstructure:"max_uptime_per_worker"`
	MaxQueueSize          int           `mapstructure:"max_queue_size"`
	AcquireTimeout        time.Duration `mapstructure:"acquire_timeout"`
	MaxConcurrentPerPlugin int          `mapstructure:"max_concurrent_per_plugin"`
	HealthCheckInterval   time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout    time.Duration `mapstructure:"health_check_timeout"`
	StartupTimeout        time.Duration `mapstructure:"startup_timeout"`
	CleanupTimeout        time.Duration `mapstructure:"cleanup_timeout"`
	Warmup                string        `mapstructure:"warmup"` // "none", "topN", "maxHandlers"
	WarmupN               int           `mapstructure:"warmup_n"`
}

type Degradation struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	DebounceInterval     time.Duration `mapstructure:"debounce_interval"`
	DegradedEnterCPU     float64       `mapstructure:"degraded_enter_cpu"`
	DegradedExitCPU      float64       `mapstructure:"degraded_exit_cpu"`
	CriticalEnterCPU     float64       `mapstructure:"critical_enter_cpu"`
	CriticalExitCPU      float64       `mapstructure:"critical_exit_cpu"`
	DegradedEnterQueue   int           `mapstructure:"degraded_enter_queue"`
	CriticalEnterQueue   int           `mapstructure:"critical_enter_queue"`
	DegradedDelay        time.Duration `mapstructure:"degraded_delay"`
	CriticalDelay        time.Duration `mapstructure:"critical_delay"`
	RejectOnCritical     bool          `mapstructure:"reject_on_critical"`
}

type Coordination struct {
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type Config struct {
	LogLevel      string        `mapstructure:"log_level"`
	Pool          Pool          `mapstructure:"pool"`
	Degradation   Degradation   `mapstructure:"degradation"`
	Coordination  Coordination  `mapstructure:"coordination"`
	Tracing       Tracing       `mapstructure:"tracing"`
	ExtensionDir  string        `mapstructure:"extension_dir"`
	CronTick      time.Duration `mapstructure:"cron_tick"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Pool: Pool{
			Min:                   1,
			Max:                   4,
			MaxRequestsPerWorker:  1000,
			MaxUptimePerWorker:    30 * time.Minute,
			MaxQueueSize:          256,
			AcquireTimeout:        10 * time.Second,
			HealthCheckInterval:   5 * time.Second,
			HealthCheckTimeout:    2 * time.Second,
			StartupTimeout:        5 * time.Second,
			CleanupTimeout:        5 * time.Second,
			Warmup:                "none",
		},
		Degradation: Degradation{
			PollInterval:       2 * time.Second,
			DebounceInterval:   30 * time.Second,
			DegradedEnterCPU:   0.75,
			DegradedExitCPU:    0.60,
			CriticalEnterCPU:   0.90,
			CriticalExitCPU:    0.75,
			DegradedEnterQueue: 100,
			CriticalEnterQueue: 250,
			DegradedDelay:      1 * time.Second,
			CriticalDelay:      5 * time.Second,
			RejectOnCritical:   false,
		},
		Coordination: Coordination{
			RedisAddr: "localhost:6379",
		},
		CronTick: 1 * time.Second,
	}
}

// Load reads configuration from an optional YAML file at path, overlaid
// with PLUGINRT_-prefixed environment variables, starting from the
// defaults above.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("pluginrt")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("pool.min", def.Pool.Min)
	v.SetDefault("pool.max", def.Pool.Max)
	v.SetDefault("pool.max_requests_per_worker", def.Pool.MaxRequestsPerWorker)
	v.SetDefault("pool.max_uptime_per_worker", def.Pool.MaxUptimePerWorker)
	v.SetDefault("pool.max_queue_size", def.Pool.MaxQueueSize)
	v.SetDefault("pool.acquire_timeout", def.Pool.AcquireTimeout)
	v.SetDefault("pool.max_concurrent_per_plugin", def.Pool.MaxConcurrentPerPlugin)
	v.SetDefault("pool.health_check_interval", def.Pool.HealthCheckInterval)
	v.SetDefault("pool.health_check_timeout", def.Pool.HealthCheckTimeout)
	v.SetDefault("pool.startup_timeout", def.Pool.StartupTimeout)
	v.SetDefault("pool.cleanup_timeout", def.Pool.CleanupTimeout)
	v.SetDefault("pool.warmup", def.Pool.Warmup)
	v.SetDefault("pool.warmup_n", def.Pool.WarmupN)

	v.SetDefault("degradation.poll_interval", def.Degradation.PollInterval)
	v.SetDefault("degradation.debounce_interval", def.Degradation.DebounceInterval)
	v.SetDefault("degradation.degraded_enter_cpu", def.Degradation.DegradedEnterCPU)
	v.SetDefault("degradation.degraded_exit_cpu", def.Degradation.DegradedExitCPU)
	v.SetDefault("degradation.critical_enter_cpu", def.Degradation.CriticalEnterCPU)
	v.SetDefault("degradation.critical_exit_cpu", def.Degradation.CriticalExitCPU)
	v.SetDefault("degradation.degraded_enter_queue", def.Degradation.DegradedEnterQueue)
	v.SetDefault("degradation.critical_enter_queue", def.Degradation.CriticalEnterQueue)
	v.SetDefault("degradation.degraded_delay", def.Degradation.DegradedDelay)
	v.SetDefault("degradation.critical_delay", def.Degradation.CriticalDelay)
	v.SetDefault("degradation.reject_on_critical", def.Degradation.RejectOnCritical)

	v.SetDefault("coordination.redis_addr", def.Coordination.RedisAddr)
	v.SetDefault("coordination.redis_db", def.Coordination.RedisDB)

	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.sample_ratio", def.Tracing.SampleRatio)

	v.SetDefault("cron_tick", def.CronTick)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
