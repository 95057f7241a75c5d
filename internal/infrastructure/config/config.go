package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Scheduler  SchedulerConfig
	Statistics StatisticsConfig
	Cache      CacheConfig
	Archive    ArchiveConfig
	Storage    StorageConfig
	Kafka      KafkaConfig
	Telemetry  TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// RequestTimeout bounds each API request's context
	RequestTimeout time.Duration
	CORSOrigins    []string
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge     time.Duration
	// AdminRateLimit is requests per minute per client on admin routes, 0 disables
	AdminRateLimit int
	// RateLimitStore is "memory" or "redis"
	RateLimitStore string
}

// SchedulerConfig holds statistics job scheduling configuration
type SchedulerConfig struct {
	Enabled bool
	// NightlyCronSchedule runs reconciliation and realtime cache trimming ("minute hour * * *")
	NightlyCronSchedule string
	// MonthlyCronSchedule runs the archiver ("minute hour day * *")
	MonthlyCronSchedule string
	MaxConcurrentJobs   int
	JobTimeout          time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	// DistributedLock guards job runs across instances through Redis
	DistributedLock bool
	LockTTL         time.Duration
}

// StatisticsConfig holds aggregation engine settings
type StatisticsConfig struct {
	// Timezone decides which calendar date and hour an order belongs to
	Timezone            string
	DedupWindow         time.Duration
	ReconcileWindowDays int
	// JobRetention is how long finished manual jobs stay queryable
	JobRetention time.Duration
}

// Location resolves the business timezone
func (s StatisticsConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// CacheConfig holds tiered cache settings
type CacheConfig struct {
	L1Enabled        bool
	L1MaxEntries     int
	L2Enabled        bool
	KeyPrefix        string
	PubSubChannel    string
	RealtimeMaxKeys  int
	RealtimeKeepKeys int
	// TTLOverrides maps namespace name to TTL, only for namespaces that are configured
	TTLOverrides map[string]time.Duration
}

// ArchiveConfig holds the retention policy
type ArchiveConfig struct {
	Enabled       bool
	RetentionDays int
	BatchSize     int
	Mode          string // delete, cold_storage
}

// StorageConfig holds S3-compatible cold storage settings
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// KafkaConfig holds the order-completed and sales-change consumer settings
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	// ChangeTopic carries enveloped SalesDataChanged events; empty disables that consumer
	ChangeTopic    string
	GroupID        string
	MaxBytes       int
	SessionTimeout time.Duration
	RetryBackoff   time.Duration
}

// TelemetryConfig holds OpenTelemetry and Prometheus configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	PrometheusEnabled bool
	SamplingRatio     float64
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
	// Profiling pushes continuous profiles to a Pyroscope server
	ProfilingEnabled bool
	ProfilingAddress string
}

// cacheTTLKeys maps config keys under cache.ttl to namespace names
var cacheTTLKeys = map[string]string{
	"default":            "default",
	"sales":              "sales",
	"sales_statistics":   "salesStatistics",
	"sales_overview":     "salesOverview",
	"product_sales":      "productSales",
	"realtime_sales":     "realtimeSales",
	"aggregated_sales":   "aggregatedSales",
	"dashboard_kpis":     "dashboardKpis",
	"today_sales":        "todaySales",
	"weekly_sales_trend": "weeklySalesTrend",
	"top_products":       "topProducts",
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BACKOFFICE_ prefix (e.g., BACKOFFICE_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backoffice")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true need explicit defaults, an unset bool reads as false
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("cache.l1_enabled", true)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("telemetry.prometheus_enabled", true)
	v.SetDefault("telemetry.sampling_ratio", 0.1)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			RequestTimeout: v.GetDuration("http.request_timeout"),
			CORSOrigins:    v.GetStringSlice("http.cors_origins"),
			HSTSMaxAge:     v.GetDuration("http.hsts_max_age"),
			AdminRateLimit: v.GetInt("http.admin_rate_limit"),
			RateLimitStore: v.GetString("http.rate_limit_store"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("scheduler.enabled"),
			NightlyCronSchedule: v.GetString("scheduler.nightly_cron_schedule"),
			MonthlyCronSchedule: v.GetString("scheduler.monthly_cron_schedule"),
			MaxConcurrentJobs:   v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:          v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:       v.GetInt("scheduler.retry_attempts"),
			RetryDelay:          v.GetDuration("scheduler.retry_delay"),
			DistributedLock:     v.GetBool("scheduler.distributed_lock"),
			LockTTL:             v.GetDuration("scheduler.lock_ttl"),
		},
		Statistics: StatisticsConfig{
			Timezone:            v.GetString("statistics.timezone"),
			DedupWindow:         v.GetDuration("statistics.dedup_window"),
			ReconcileWindowDays: v.GetInt("statistics.reconcile_window_days"),
			JobRetention:        v.GetDuration("statistics.job_retention"),
		},
		Cache: CacheConfig{
			L1Enabled:        v.GetBool("cache.l1_enabled"),
			L1MaxEntries:     v.GetInt("cache.l1_max_entries"),
			L2Enabled:        v.GetBool("cache.l2_enabled"),
			KeyPrefix:        v.GetString("cache.key_prefix"),
			PubSubChannel:    v.GetString("cache.pubsub_channel"),
			RealtimeMaxKeys:  v.GetInt("cache.realtime_max_keys"),
			RealtimeKeepKeys: v.GetInt("cache.realtime_keep_keys"),
			TTLOverrides:     make(map[string]time.Duration),
		},
		Archive: ArchiveConfig{
			Enabled:       v.GetBool("archive.enabled"),
			RetentionDays: v.GetInt("archive.retention_days"),
			BatchSize:     v.GetInt("archive.batch_size"),
			Mode:          v.GetString("archive.mode"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Kafka: KafkaConfig{
			Enabled:        v.GetBool("kafka.enabled"),
			Brokers:        v.GetStringSlice("kafka.brokers"),
			Topic:          v.GetString("kafka.topic"),
			ChangeTopic:    v.GetString("kafka.change_topic"),
			GroupID:        v.GetString("kafka.group_id"),
			MaxBytes:       v.GetInt("kafka.max_bytes"),
			SessionTimeout: v.GetDuration("kafka.session_timeout"),
			RetryBackoff:   v.GetDuration("kafka.retry_backoff"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			PrometheusEnabled: v.GetBool("telemetry.prometheus_enabled"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingAddress:  v.GetString("telemetry.profiling_address"),
		},
	}

	for key, namespace := range cacheTTLKeys {
		if ttl := v.GetDuration("cache.ttl." + key); ttl > 0 {
			cfg.Cache.TTLOverrides[namespace] = ttl
		}
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "backoffice"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "backoffice"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.RateLimitStore == "" {
		cfg.HTTP.RateLimitStore = "memory"
	}
	if cfg.Scheduler.NightlyCronSchedule == "" {
		cfg.Scheduler.NightlyCronSchedule = "0 3 * * *"
	}
	if cfg.Scheduler.MonthlyCronSchedule == "" {
		cfg.Scheduler.MonthlyCronSchedule = "0 4 1 * *"
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 2
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 2 * time.Hour
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 2
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = 5 * time.Minute
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 3 * time.Hour
	}
	if cfg.Statistics.Timezone == "" {
		cfg.Statistics.Timezone = "UTC"
	}
	if cfg.Statistics.DedupWindow == 0 {
		cfg.Statistics.DedupWindow = 7 * 24 * time.Hour
	}
	if cfg.Statistics.ReconcileWindowDays == 0 {
		cfg.Statistics.ReconcileWindowDays = 1
	}
	if cfg.Statistics.JobRetention == 0 {
		cfg.Statistics.JobRetention = 24 * time.Hour
	}
	if cfg.Cache.L1MaxEntries == 0 {
		cfg.Cache.L1MaxEntries = 10000
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "stats:"
	}
	if cfg.Cache.PubSubChannel == "" {
		cfg.Cache.PubSubChannel = "stats:cache:invalidate"
	}
	if cfg.Cache.RealtimeMaxKeys == 0 {
		cfg.Cache.RealtimeMaxKeys = 1000
	}
	if cfg.Cache.RealtimeKeepKeys == 0 {
		cfg.Cache.RealtimeKeepKeys = 500
	}
	if cfg.Archive.RetentionDays == 0 {
		cfg.Archive.RetentionDays = 365
	}
	if cfg.Archive.BatchSize == 0 {
		cfg.Archive.BatchSize = 1000
	}
	if cfg.Archive.Mode == "" {
		cfg.Archive.Mode = "delete"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "archive"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "orders.completed"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "backoffice-statistics"
	}
	if cfg.Kafka.MaxBytes == 0 {
		cfg.Kafka.MaxBytes = 10e6 // 10MB
	}
	if cfg.Kafka.SessionTimeout == 0 {
		cfg.Kafka.SessionTimeout = 30 * time.Second
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = 2 * time.Second
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "backoffice"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if _, err := c.Statistics.Location(); err != nil {
		return fmt.Errorf("statistics.timezone %q is invalid: %w", c.Statistics.Timezone, err)
	}
	if c.Statistics.ReconcileWindowDays < 0 {
		return fmt.Errorf("statistics.reconcile_window_days cannot be negative")
	}

	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("archive.retention_days cannot be negative")
	}
	if c.Archive.BatchSize < 0 {
		return fmt.Errorf("archive.batch_size cannot be negative")
	}
	switch c.Archive.Mode {
	case "delete":
	case "cold_storage":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when archive.mode is cold_storage")
		}
	default:
		return fmt.Errorf("archive.mode must be delete or cold_storage, got %q", c.Archive.Mode)
	}

	if c.Cache.RealtimeKeepKeys > c.Cache.RealtimeMaxKeys {
		return fmt.Errorf("cache.realtime_keep_keys (%d) cannot exceed cache.realtime_max_keys (%d)",
			c.Cache.RealtimeKeepKeys, c.Cache.RealtimeMaxKeys)
	}
	if (c.Cache.L2Enabled || c.Scheduler.DistributedLock) && !c.Redis.Enabled {
		return fmt.Errorf("redis.enabled is required for cache.l2_enabled and scheduler.distributed_lock")
	}

	switch c.HTTP.RateLimitStore {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("redis.enabled is required when http.rate_limit_store is redis")
		}
	default:
		return fmt.Errorf("http.rate_limit_store must be memory or redis, got %q", c.HTTP.RateLimitStore)
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingAddress == "" {
		return fmt.Errorf("telemetry.profiling_address is required when profiling is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled is true")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values.
// Sessions run in UTC so DATE columns compare against UTC-midnight parameters.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()
	return u.String()
}
