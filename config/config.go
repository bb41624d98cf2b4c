package config

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"sprout"`
	Port               int    `env:"PORT" env-default:"3004"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Catalog database
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"sprout"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseSQLitePath            string        `env:"DB_SQLITE_PATH" env-default:"sprout.db"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis run lock
	RedisEnabled  bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" env-default:"5m"`
	RunLockWait   time.Duration `env:"RUN_LOCK_WAIT" env-default:"30s"`

	// Kafka consumer (scraped listings)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"scraped-listings"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"sprout-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`

	// Kafka producer (catalog events)
	KafkaOutputTopic   string `env:"KAFKA_OUTPUT_TOPIC" env-default:"catalog-events"`
	KafkaEventsEnabled bool   `env:"KAFKA_EVENTS_ENABLED" env-default:"false"`
	KafkaBatchSize     int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout  int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks  int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression   string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Resolution
	AutoMergeThreshold     float64 `env:"AUTO_MERGE_THRESHOLD" env-default:"90"`
	ReviewThreshold        float64 `env:"REVIEW_THRESHOLD" env-default:"60"`
	AmbiguityFloor         float64 `env:"AMBIGUITY_FLOOR" env-default:"50"`
	NameWeight             float64 `env:"NAME_WEIGHT" env-default:"0.7"`
	BrandWeight            float64 `env:"BRAND_WEIGHT" env-default:"0.3"`
	TieEpsilon             float64 `env:"TIE_EPSILON" env-default:"2"`
	VariantWeightTolerance float64 `env:"VARIANT_WEIGHT_TOLERANCE" env-default:"0.05"`
	ConflictRetries        int     `env:"CONFLICT_RETRIES" env-default:"3"`
	AnalyticsWindowDays    int     `env:"ANALYTICS_WINDOW_DAYS" env-default:"30"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol string `env:"TRACING_PROTOCOL" env-default:"grpc"`
}

// Load reads an optional .env file and binds the environment onto Config
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("bind environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.ReviewThreshold > c.AutoMergeThreshold {
		return fmt.Errorf("REVIEW_THRESHOLD (%v) must not exceed AUTO_MERGE_THRESHOLD (%v)", c.ReviewThreshold, c.AutoMergeThreshold)
	}
	if c.AmbiguityFloor > c.ReviewThreshold {
		return fmt.Errorf("AMBIGUITY_FLOOR (%v) must not exceed REVIEW_THRESHOLD (%v)", c.AmbiguityFloor, c.ReviewThreshold)
	}
	return nil
}

// AnalyticsWindow returns the default analytics lookback
func (c Config) AnalyticsWindow() time.Duration {
	return time.Duration(c.AnalyticsWindowDays) * 24 * time.Hour
}
