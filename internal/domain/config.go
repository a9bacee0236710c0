package domain

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which infrastructure defaults apply
	Tier Tier `json:"tier"`

	// Decision engine tuning
	Engine EngineConfig `json:"engine"`

	// Case and investigation defaults
	Workflow WorkflowConfig `json:"workflow"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`

	// AsyncWorker consumes ingested events from the bus.
	AsyncWorker bool `json:"asyncWorker"`
	WorkerCount int  `json:"workerCount"`
}

// EngineConfig tunes rule evaluation, detectors and scoring.
type EngineConfig struct {
	// MaxConcurrency bounds parallel rule evaluation
	MaxConcurrency int `json:"maxConcurrency"`

	// Severity tiers (score >= value)
	CriticalThreshold float64 `json:"criticalThreshold"`
	HighThreshold     float64 `json:"highThreshold"`
	MediumThreshold   float64 `json:"mediumThreshold"`

	AlertThreshold float64 `json:"alertThreshold"`
	BlockThreshold float64 `json:"blockThreshold"`

	// Velocity detector
	VelocityWindow    time.Duration `json:"velocityWindow"`
	VelocityMaxCount  int           `json:"velocityMaxCount"`
	VelocityMaxAmount float64       `json:"velocityMaxAmount"`
	VelocityWeight    float64       `json:"velocityWeight"`

	// Geographic detector
	MaxTravelSpeedKmh float64 `json:"maxTravelSpeedKmh"`
	GeoWeight         float64 `json:"geoWeight"`

	// High amount detector
	HighAmountThreshold float64 `json:"highAmountThreshold"`
	HighAmountWeight    float64 `json:"highAmountWeight"`

	// Hit counters are flushed to the store on this interval
	HitFlushInterval time.Duration `json:"hitFlushInterval"`
}

// WorkflowConfig holds case and investigation defaults.
type WorkflowConfig struct {
	CaseDueIn         time.Duration `json:"caseDueIn"`
	StandardSLA       time.Duration `json:"standardSla"`
	ExpeditedSLA      time.Duration `json:"expeditedSla"`
	ComplexSLA        time.Duration `json:"complexSla"`
	NotifyRecipient   string        `json:"notifyRecipient"`
	PatternCacheTTL   time.Duration `json:"patternCacheTtl"`
	NumberCounterTTL  time.Duration `json:"numberCounterTtl"`
	WebhookURL        string        `json:"webhookUrl,omitempty"`
	WebhookTimeoutSec int           `json:"webhookTimeoutSec"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			MaxConcurrency:      100,
			CriticalThreshold:   80,
			HighThreshold:       60,
			MediumThreshold:     40,
			AlertThreshold:      50,
			BlockThreshold:      80,
			VelocityWindow:      time.Hour,
			VelocityMaxCount:    5,
			VelocityMaxAmount:   50000,
			VelocityWeight:      30,
			MaxTravelSpeedKmh:   900,
			GeoWeight:           35,
			HighAmountThreshold: 10000,
			HighAmountWeight:    25,
			HitFlushInterval:    30 * time.Second,
		},
		Workflow: WorkflowConfig{
			CaseDueIn:         14 * 24 * time.Hour,
			StandardSLA:       48 * time.Hour,
			ExpeditedSLA:      24 * time.Hour,
			ComplexSLA:        120 * time.Hour,
			NotifyRecipient:   "fraud-team",
			PatternCacheTTL:   10 * time.Minute,
			NumberCounterTTL:  48 * time.Hour,
			WebhookTimeoutSec: 5,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		WorkerCount: 5,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "harrier",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.AsyncWorker = true
	return cfg
}

// LoadConfig builds the configuration from the tier defaults and applies
// HARRIER_* environment overrides.
func LoadConfig() *Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) *Config {
	cfg := DefaultConfig()
	if getenv("HARRIER_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(getenv(key)); err == nil {
			*dst = v
		}
	}
	flt := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(getenv(key), 64); err == nil {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, err := time.ParseDuration(getenv(key)); err == nil {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(getenv(key)); err == nil {
			*dst = v
		}
	}

	str("HARRIER_HOST", &cfg.Server.Host)
	num("HARRIER_PORT", &cfg.Server.Port)

	flt("HARRIER_ALERT_THRESHOLD", &cfg.Engine.AlertThreshold)
	flt("HARRIER_BLOCK_THRESHOLD", &cfg.Engine.BlockThreshold)
	flt("HARRIER_HIGH_AMOUNT_THRESHOLD", &cfg.Engine.HighAmountThreshold)
	flt("HARRIER_MAX_TRAVEL_SPEED_KMH", &cfg.Engine.MaxTravelSpeedKmh)
	dur("HARRIER_VELOCITY_WINDOW", &cfg.Engine.VelocityWindow)
	num("HARRIER_VELOCITY_MAX_COUNT", &cfg.Engine.VelocityMaxCount)
	num("HARRIER_MAX_CONCURRENCY", &cfg.Engine.MaxConcurrency)

	dur("HARRIER_CASE_DUE_IN", &cfg.Workflow.CaseDueIn)
	str("HARRIER_NOTIFY_RECIPIENT", &cfg.Workflow.NotifyRecipient)
	str("HARRIER_WEBHOOK_URL", &cfg.Workflow.WebhookURL)

	str("HARRIER_DB_DRIVER", &cfg.Repository.Driver)
	str("HARRIER_SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("HARRIER_PG_HOST", &cfg.Repository.PostgresHost)
	num("HARRIER_PG_PORT", &cfg.Repository.PostgresPort)
	str("HARRIER_PG_USER", &cfg.Repository.PostgresUser)
	str("HARRIER_PG_PASSWORD", &cfg.Repository.PostgresPassword)
	str("HARRIER_PG_DB", &cfg.Repository.PostgresDB)
	str("HARRIER_PG_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("HARRIER_CACHE", &cfg.Cache.Type)
	str("HARRIER_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("HARRIER_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	str("HARRIER_BUS", &cfg.EventBus.Type)
	str("HARRIER_NATS_URL", &cfg.EventBus.NATSUrl)
	str("HARRIER_NATS_TOKEN", &cfg.EventBus.NATSToken)
	if v := getenv("HARRIER_KAFKA_BROKERS"); v != "" {
		cfg.EventBus.KafkaBrokers = strings.Split(v, ",")
	}
	str("HARRIER_KAFKA_GROUP", &cfg.EventBus.KafkaGroupID)

	str("HARRIER_LOG_LEVEL", &cfg.Logging.Level)
	if getenv("HARRIER_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	flag("HARRIER_TRACING", &cfg.Tracing.Enabled)
	flag("HARRIER_METRICS", &cfg.Metrics.Enabled)
	flag("HARRIER_ASYNC_WORKER", &cfg.AsyncWorker)
	num("HARRIER_WORKERS", &cfg.WorkerCount)

	return cfg
}
