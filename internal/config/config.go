// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	WorkerID      string `env:"WORKER_ID"`
	PriorityLevel string `env:"PRIORITY_LEVEL" envDefault:"NORMAL"`

	MaxConcurrentTasks     int           `env:"MAX_CONCURRENT_TASKS" envDefault:"10"`
	TaskTimeoutSeconds     int           `env:"TASK_TIMEOUT_SECONDS" envDefault:"45"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"120s"`

	GateNoProxyPermits int `env:"GATE_NO_PROXY_PERMITS" envDefault:"5"`
	GateProxyPermits   int `env:"GATE_PROXY_PERMITS" envDefault:"20"`

	DragonflyHost string `env:"DRAGONFLY_HOST" envDefault:"localhost"`
	DragonflyPort int    `env:"DRAGONFLY_PORT" envDefault:"6379"`
	DragonflyDB   int    `env:"DRAGONFLY_DB" envDefault:"0"`

	EnableProxyInjection  bool `env:"ENABLE_PROXY_INJECTION" envDefault:"true"`
	EnableCookieInjection bool `env:"ENABLE_COOKIE_INJECTION" envDefault:"true"`

	CookieCacheTTL time.Duration `env:"COOKIE_CACHE_TTL" envDefault:"60s"`
	ProxyCacheTTL  time.Duration `env:"PROXY_CACHE_TTL" envDefault:"5s"`

	StreamBlockInterval time.Duration `env:"STREAM_BLOCK_INTERVAL" envDefault:"2s"`
	StreamClaimMinIdle  time.Duration `env:"STREAM_CLAIM_MIN_IDLE" envDefault:"60s"`

	StartupBackoffMaxElapsedTime  time.Duration `env:"STARTUP_BACKOFF_MAX_ELAPSED_TIME" envDefault:"60s"`
	StartupBackoffInitialInterval time.Duration `env:"STARTUP_BACKOFF_INITIAL_INTERVAL" envDefault:"500ms"`
	StartupBackoffMaxInterval     time.Duration `env:"STARTUP_BACKOFF_MAX_INTERVAL" envDefault:"10s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"crawler-worker"`
}

// DragonflyAddr returns the host:port pair used to dial the broker/cache.
func (c Config) DragonflyAddr() string {
	return fmt.Sprintf("%s:%d", c.DragonflyHost, c.DragonflyPort)
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
