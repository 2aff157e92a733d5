// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Worker pool. WorkerPoolSize 0 means "host parallelism".
	WorkerPoolSize int `env:"WORKER_POOL_SIZE" envDefault:"0"`
	QueueCapacity  int `env:"QUEUE_CAPACITY" envDefault:"64"`

	// Per-job deadlines. The soft deadline is the hard deadline minus the
	// grace interval; reaching it triggers cooperative cancellation.
	JobHardTimeout      time.Duration `env:"JOB_HARD_TIMEOUT" envDefault:"10m"`
	JobSoftTimeoutGrace time.Duration `env:"JOB_SOFT_TIMEOUT_GRACE" envDefault:"30s"`

	// Retry Configuration (transient failure kinds only)
	RetryMax          int           `env:"RETRY_MAX" envDefault:"2"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"15s"`
	RetryMultiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`

	// Result retention. 0 disables eviction entirely.
	ResultRetention time.Duration `env:"RESULT_RETENTION" envDefault:"1h"`
	EvictInterval   time.Duration `env:"EVICT_INTERVAL" envDefault:"1m"`

	// Subscriber buffer per SSE stream; overflow disconnects the subscriber.
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"16"`
	StreamKeepAlive  time.Duration `env:"STREAM_KEEPALIVE" envDefault:"15s"`

	// Sandbox resource caps.
	SandboxImage        string        `env:"SANDBOX_IMAGE" envDefault:"optimizehub-sandbox:latest"`
	SandboxMemoryBytes  int64         `env:"SANDBOX_MEMORY_BYTES" envDefault:"268435456"`
	SandboxCPUShares    int64         `env:"SANDBOX_CPU_SHARES" envDefault:"512"`
	SandboxScratchBytes int64         `env:"SANDBOX_SCRATCH_BYTES" envDefault:"16777216"`
	SandboxTimeout      time.Duration `env:"SANDBOX_TIMEOUT" envDefault:"60s"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"1048576"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"optimizehub"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// PoolSize resolves the worker pool size, defaulting to host parallelism.
func (c Config) PoolSize() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	return runtime.NumCPU()
}

// SoftTimeout derives the cooperative-cancellation deadline from the hard
// deadline and the grace interval. It never drops below half the hard
// timeout so very short hard deadlines still leave room to run.
func (c Config) SoftTimeout() time.Duration {
	soft := c.JobHardTimeout - c.JobSoftTimeoutGrace
	if soft < c.JobHardTimeout/2 {
		soft = c.JobHardTimeout / 2
	}
	return soft
}

// RetryPolicy assembles the worker retry knobs.
func (c Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:   c.RetryMax,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
	}
}
