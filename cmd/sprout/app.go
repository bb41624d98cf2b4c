package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sprout/config"
	"github.com/Ramsey-B/sprout/internal/repositories/catalogstore"
	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/database"
	"github.com/Ramsey-B/sprout/pkg/events"
	"github.com/Ramsey-B/sprout/pkg/flags"
	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/matching"
	"github.com/Ramsey-B/sprout/pkg/processor"
	"github.com/Ramsey-B/sprout/pkg/redis"
)

// newLogger builds the zap-backed logger. Logs go to stderr so command output stays clean on stdout.
func newLogger(cfg config.Config) (ectologger.Logger, func(), error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zapConfig.Level = level
	zapConfig.OutputPaths = []string{"stderr"}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	zapLogger = zapLogger.With(zap.String("app", cfg.AppName))
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

// app wires the resolution services over one database
type app struct {
	cfg       config.Config
	logger    ectologger.Logger
	db        database.DB
	store     catalog.Store
	resolver  *confidence.Resolver
	flags     *flags.Service
	processor *processor.Processor
	producer  *kafka.Producer
	redis     *redis.Client
}

func databaseConfig(cfg config.Config) database.Config {
	return database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		SQLitePath:      cfg.DatabaseSQLitePath,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func migrationService(cfg config.Config, logger ectologger.Logger) *database.MigrationService {
	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(max(cfg.DatabaseMigrationVersion, 0)),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
}

// connect opens the database; services are wired by wire once it is up
func (a *app) connect(ctx context.Context) error {
	db, err := database.Open(ctx, databaseConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.store = catalogstore.NewStore(db, a.logger)
	return nil
}

func (a *app) connectRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *app) startProducer() {
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaOutputTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
}

// wire builds the resolution services from whatever connections are up
func (a *app) wire() {
	emitter := events.NewNoopEmitter()
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, a.logger)
	}

	a.resolver = confidence.NewResolver(a.logger, a.cfg.VariantWeightTolerance)
	matcher := matching.NewMatcher(matching.Config{
		NameWeight:  a.cfg.NameWeight,
		BrandWeight: a.cfg.BrandWeight,
		TieEpsilon:  a.cfg.TieEpsilon,
	})
	scorer := confidence.NewScorer(matcher, a.resolver, confidence.Config{
		AutoMergeThreshold: a.cfg.AutoMergeThreshold,
		ReviewThreshold:    a.cfg.ReviewThreshold,
		AmbiguityFloor:     a.cfg.AmbiguityFloor,
	}, a.logger)
	a.flags = flags.NewService(a.store, a.resolver, emitter, a.logger)

	processorConfig := processor.DefaultConfig()
	processorConfig.ConflictRetries = a.cfg.ConflictRetries
	if a.redis != nil {
		processorConfig.Locker = redis.NewRunLocker(redis.NewLocker(a.redis, a.cfg.AppName+":lock:"), a.cfg.RunLockTTL, a.cfg.RunLockWait)
	} else {
		processorConfig.Locker = processor.NewLocalLocker()
	}
	a.processor = processor.NewProcessor(a.store, scorer, a.resolver, a.flags, emitter, processorConfig, a.logger)
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Kafka producer")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// openApp connects everything a one-shot command needs
func openApp(ctx context.Context, cfg config.Config, logger ectologger.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	if cfg.RedisEnabled {
		if err := a.connectRedis(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.KafkaEventsEnabled {
		a.startProducer()
	}
	a.wire()
	return a, nil
}
