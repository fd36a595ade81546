package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Encryption EncryptionConfig
	Provider   ProviderConfig
	Scheduler  SchedulerConfig
	Lock       LockConfig
	Redis      RedisConfig
	Events     EventsConfig
	TLS        TLSConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type EncryptionConfig struct {
	Key string
}

// ProviderConfig holds the data provider API settings
type ProviderConfig struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
	PageSize int
}

type SchedulerConfig struct {
	Enabled      bool
	Interval     time.Duration
	WorkerCount  int
	QueueSize    int
	JobTimeout   time.Duration
	RunOnStartup bool
}

// LockConfig selects where per-connection sync locks live
type LockConfig struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig enables NSQ sync events when NSQAddress is set
type EventsConfig struct {
	NSQAddress string
	Topic      string
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type FirebaseConfig struct {
	CredentialsFile string
	AlertTopic      string
	MessagesFile    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

func Load() (*Config, error) {
	// A missing .env is fine; real environment variables always win.
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	providerPageSize, err := getIntEnv("PROVIDER_PAGE_SIZE", 500)
	if err != nil {
		return nil, err
	}

	// Parse scheduler configuration
	schedulerInterval, err := getDurationEnv("SCHEDULER_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	lockTTL, err := getDurationEnv("LOCK_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	// Parse allowed hosts (comma-separated list)
	var allowedHosts []string
	for _, host := range strings.Split(getEnv("ALLOWED_HOSTS", ""), ",") {
		host = strings.TrimSpace(host)
		if host != "" {
			allowedHosts = append(allowedHosts, host)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Provider: ProviderConfig{
			BaseURL:  getEnv("PROVIDER_BASE_URL", "https://sandbox.plaid.com"),
			ClientID: getEnv("PROVIDER_CLIENT_ID", ""),
			Secret:   getEnv("PROVIDER_SECRET", ""),
			Timeout:  providerTimeout,
			PageSize: providerPageSize,
		},
		Scheduler: SchedulerConfig{
			Enabled:      getBoolEnv("SCHEDULER_ENABLED", true),
			Interval:     schedulerInterval,
			WorkerCount:  schedulerWorkers,
			QueueSize:    schedulerQueueSize,
			JobTimeout:   schedulerJobTimeout,
			RunOnStartup: getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", LockBackendMemory)),
			TTL:     lockTTL,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Events: EventsConfig{
			NSQAddress: getEnv("NSQ_ADDRESS", ""),
			Topic:      getEnv("SYNC_EVENTS_TOPIC", "sync-events"),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			AlertTopic:      getEnv("FIREBASE_ALERT_TOPIC", ""),
			MessagesFile:    getEnv("ALERT_MESSAGES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finsync-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	// Validate required fields
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}

	if cfg.Provider.Timeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if cfg.Scheduler.Interval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if cfg.Scheduler.WorkerCount < 1 {
		return nil, fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}

	switch cfg.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if cfg.Lock.TTL <= cfg.Scheduler.JobTimeout {
			return nil, fmt.Errorf("LOCK_TTL (%s) must exceed SCHEDULER_JOB_TIMEOUT (%s)", cfg.Lock.TTL, cfg.Scheduler.JobTimeout)
		}
	default:
		return nil, fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, cfg.Lock.Backend)
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

// ValidateProvider checks the settings needed to call the data provider.
// Commands that never sync skip it.
func (c *Config) ValidateProvider() error {
	if c.Provider.ClientID == "" {
		return fmt.Errorf("PROVIDER_CLIENT_ID is required")
	}
	if c.Provider.Secret == "" {
		return fmt.Errorf("PROVIDER_SECRET is required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration runner.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
