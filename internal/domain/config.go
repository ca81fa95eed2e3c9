package domain

import "time"

// Config holds the complete stockclerk configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Tier     Tier           `json:"tier"`
	Sync     SyncConfig     `json:"sync"`
	Guardian GuardianConfig `json:"guardian"`
	Alert    AlertConfig    `json:"alert"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Queue      QueueConfig      `json:"queue"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	Orchestrator OrchestratorConfig `json:"orchestrator"`
}

// Tier represents the deployment tier.
type Tier string

const (
	TierCommunity Tier = "community"
	TierPro       Tier = "pro"
)

// ServerConfig holds HTTP server settings for the webhook/control surface.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`
	WriteTimeout int    `json:"writeTimeout"`
}

// SyncConfig holds Watcher/Sync Agent tunables (§6 environment options).
type SyncConfig struct {
	IntervalMS    int `json:"syncIntervalMs"`    // SYNC_INTERVAL_MS, default 30000
	BatchSize     int `json:"syncBatchSize"`     // SYNC_BATCH_SIZE, default 100
	MaxRetries    int `json:"syncMaxRetries"`    // SYNC_MAX_RETRIES, default 3
	Concurrency   int `json:"syncConcurrency"`   // per-worker concurrency, default 5
	WebhookWindow int `json:"webhookDedupeSecs"` // idempotency window, default 60
}

// GuardianConfig holds reconciliation tunables.
type GuardianConfig struct {
	IntervalMS               int     `json:"reconciliationIntervalMs"` // default 900000
	DriftThreshold           int     `json:"driftThreshold"`           // default 0
	CriticalDriftPct         float64 `json:"criticalDriftPct"`         // default 20
	AutoRepairThresholdPct   float64 `json:"autoRepairThresholdPct"`   // DRIFT_AUTO_REPAIR_THRESHOLD, default 5
	ConsecutiveFailuresLimit int     `json:"consecutiveFailuresLimit"` // default 3
	AllowAutoPOSRepair       bool    `json:"allowAutoPosRepair"`       // Open Question #2
}

// AlertConfig holds Alert Agent tunables.
type AlertConfig struct {
	LowStockThreshold    int     `json:"lowStockThreshold"`    // LOW_STOCK_THRESHOLD, default 10
	DriftPercentageAlert float64 `json:"driftPercentageAlert"` // default 15
	DedupeWindowMinutes  int     `json:"dedupeWindowMinutes"`  // default 30
}

// OrchestratorConfig holds Tenant Orchestrator tunables.
type OrchestratorConfig struct {
	TenantPollIntervalSecs int           `json:"tenantPollIntervalSecs"` // default 60
	HealthCheckIntervalSecs int          `json:"healthCheckIntervalSecs"` // default 30
	HealthTimeoutSecs      int           `json:"healthTimeoutSecs"`      // default 15 (2x => crash detection)
	BootstrapDeadlineSecs  int           `json:"bootstrapDeadlineSecs"`  // default 10
	RestartBackoff         time.Duration `json:"restartBackoff"`        // default 5s
	MaxRestartBackoff      time.Duration `json:"maxRestartBackoff"`     // default 5m
	MaxRestartsPerTenant   int           `json:"maxRestartsPerTenant"`  // default 10
	ShutdownGraceSecs      int           `json:"shutdownGraceSecs"`     // default 10
	WorkerHeapLimitBytes   int64         `json:"workerHeapLimitBytes"` // default 256MiB
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"`
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns the Community tier defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Sync: SyncConfig{
			IntervalMS:    30000,
			BatchSize:     100,
			MaxRetries:    3,
			Concurrency:   5,
			WebhookWindow: 60,
		},
		Guardian: GuardianConfig{
			IntervalMS:               900000,
			DriftThreshold:           0,
			CriticalDriftPct:         20,
			AutoRepairThresholdPct:   5,
			ConsecutiveFailuresLimit: 3,
			AllowAutoPOSRepair:       false,
		},
		Alert: AlertConfig{
			LowStockThreshold:    10,
			DriftPercentageAlert: 15,
			DedupeWindowMinutes:  30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./stockclerk.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Queue: QueueConfig{
			Type: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "stockclerk",
		},
		Orchestrator: OrchestratorConfig{
			TenantPollIntervalSecs:  60,
			HealthCheckIntervalSecs: 30,
			HealthTimeoutSecs:       15,
			BootstrapDeadlineSecs:   10,
			RestartBackoff:          5 * time.Second,
			MaxRestartBackoff:       5 * time.Minute,
			MaxRestartsPerTenant:    10,
			ShutdownGraceSecs:       10,
			WorkerHeapLimitBytes:    256 * 1024 * 1024,
		},
	}
}

// ProConfig returns the Pro tier defaults.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "stockclerk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Queue = QueueConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
