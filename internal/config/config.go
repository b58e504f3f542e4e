package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/stockledger/pkg/config"
	"github.com/utafrali/stockledger/pkg/database"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

const devJWTSecret = "dev-only-secret-change-me"

// Config holds all configuration for the stock ledger service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"STOCK_HTTP_PORT" envDefault:"8007"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"stock"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"stock_secret"`
	PostgresDB   string `env:"STOCK_DB_NAME" envDefault:"stock_ledger"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Row lock wait before a statement fails with lock_not_available, and how
	// many times the whole exclusive section is retried after that.
	LockTimeoutMs     int  `env:"LOCK_TIMEOUT_MS" envDefault:"2000"`
	LockRetryAttempts uint `env:"LOCK_RETRY_ATTEMPTS" envDefault:"4"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"stock-ledger"`

	// Redis backs the consumer dedup store; without it ids are kept in memory.
	RedisEnabled       bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost          string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort          int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword      string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	EventDedupTTLHours int    `env:"EVENT_DEDUP_TTL_HOURS" envDefault:"24"`

	// Reservations
	ReservationTTL           int `env:"RESERVATION_TTL_SECONDS" envDefault:"900"`
	ReservationMaxTTL        int `env:"RESERVATION_MAX_TTL_SECONDS" envDefault:"3600"`
	ReservationSweepInterval int `env:"RESERVATION_SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	ReservationSweepBatch    int `env:"RESERVATION_SWEEP_BATCH_SIZE" envDefault:"500"`

	DefaultLowStockThreshold int `env:"DEFAULT_LOW_STOCK_THRESHOLD" envDefault:"10"`
	BatchMaxItems            int `env:"BATCH_MAX_ITEMS" envDefault:"1000"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-only-secret-change-me"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load stock ledger config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.StoreDriver == StoreDriverPostgres && c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.LockTimeoutMs < 0 {
		return fmt.Errorf("LOCK_TIMEOUT_MS must be >= 0, got %d", c.LockTimeoutMs)
	}
	if c.LockRetryAttempts == 0 {
		return fmt.Errorf("LOCK_RETRY_ATTEMPTS must be > 0")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be > 0, got %d", c.ReservationTTL)
	}
	if c.ReservationMaxTTL < c.ReservationTTL {
		return fmt.Errorf("RESERVATION_MAX_TTL_SECONDS (%d) must be >= RESERVATION_TTL_SECONDS (%d)", c.ReservationMaxTTL, c.ReservationTTL)
	}
	if c.ReservationSweepInterval <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.ReservationSweepInterval)
	}
	if c.ReservationSweepBatch <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_BATCH_SIZE must be > 0, got %d", c.ReservationSweepBatch)
	}
	if c.DefaultLowStockThreshold < 0 {
		return fmt.Errorf("DEFAULT_LOW_STOCK_THRESHOLD must be >= 0, got %d", c.DefaultLowStockThreshold)
	}
	if c.BatchMaxItems <= 0 {
		return fmt.Errorf("BATCH_MAX_ITEMS must be > 0, got %d", c.BatchMaxItems)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.Environment == "production" && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// Postgres returns the connection settings for database.NewPostgresPool.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
		ConnectAttempts: 3,
	}
}

// Redis returns the connection settings for database.NewRedisClient.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Host: c.RedisHost, Port: c.RedisPort, Password: c.RedisPassword, DB: c.RedisDB}
}

// LockTimeout is the row lock wait budget per statement.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// DefaultReservationTTL is used when a hold does not ask for a TTL.
func (c *Config) DefaultReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTL) * time.Second
}

// MaxReservationTTL caps requested hold TTLs.
func (c *Config) MaxReservationTTL() time.Duration {
	return time.Duration(c.ReservationMaxTTL) * time.Second
}

// SweepInterval is the period of the expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.ReservationSweepInterval) * time.Second
}

// EventDedupTTL is how long processed event ids are remembered.
func (c *Config) EventDedupTTL() time.Duration {
	return time.Duration(c.EventDedupTTLHours) * time.Hour
}
