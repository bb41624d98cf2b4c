package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sprout/pkg/health"
	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/server"
	"github.com/Ramsey-B/sprout/pkg/startup"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

var errNotConnected = errors.New("not connected")

// version is set at build time
var version = "dev"

// handleBatch is the consumer handler: one Kafka message is one run
func (a *app) handleBatch(ctx context.Context, msg *kafka.IncomingMessage) error {
	if msg.Batch == nil {
		if err := msg.ParseListingBatch(); err != nil {
			return err
		}
	}
	result, err := a.processor.Run(ctx, msg.Batch.DispensaryID, msg.Batch.Listings)
	if err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"dispensary_id": msg.Batch.DispensaryID,
		"run_id":        result.RunID,
		"processed":     result.Processed,
		"flags_created": result.FlagsCreated,
	}).Info("Listing batch resolved")
	return nil
}

func (a *app) dependencies(checker *health.Checker) []startup.Dependency {
	deps := []startup.Dependency{
		&startup.Func{
			Name: "database",
			OnStart: func(ctx context.Context) error {
				if a.db == nil {
					if err := a.connect(ctx); err != nil {
						return err
					}
				}
				return migrationService(a.cfg, a.logger).Migrate(a.db)
			},
			OnStop: func(context.Context) error {
				if a.db == nil {
					return nil
				}
				return a.db.Close()
			},
		},
	}
	services := []string{"database"}

	if a.cfg.RedisEnabled {
		deps = append(deps, &startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				if a.redis != nil {
					return nil
				}
				return a.connectRedis(ctx)
			},
			OnStop: func(context.Context) error {
				if a.redis == nil {
					return nil
				}
				return a.redis.Close()
			},
		})
		services = append(services, "redis")
		checker.AddCheck(health.PingCheck("redis", false, func(ctx context.Context) error {
			if a.redis == nil {
				return errNotConnected
			}
			return a.redis.Ping(ctx)
		}))
	}

	if a.cfg.KafkaEventsEnabled {
		deps = append(deps, &startup.Func{
			Name: "kafka-producer",
			OnStart: func(context.Context) error {
				if a.producer == nil {
					a.startProducer()
				}
				return nil
			},
			OnStop: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
		services = append(services, "kafka-producer")
	}

	deps = append(deps, &startup.Func{
		Name:     "services",
		Requires: services,
		OnStart: func(context.Context) error {
			a.wire()
			return nil
		},
	})

	if a.cfg.KafkaConsumerEnabled {
		var consumer *kafka.Consumer
		deps = append(deps, &startup.Func{
			Name:     "kafka-consumer",
			Requires: []string{"services"},
			OnStart: func(ctx context.Context) error {
				consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       a.cfg.KafkaBrokers,
					Topic:         a.cfg.KafkaInputTopic,
					ConsumerGroup: a.cfg.KafkaConsumerGroup,
				}, a.logger, a.handleBatch)
				return consumer.Start(ctx)
			},
			OnStop: func(context.Context) error {
				if consumer == nil {
					return nil
				}
				return consumer.Stop()
			},
		})
		checker.AddCheck(health.RunningCheck("kafka-consumer", true, func() bool {
			return consumer != nil && consumer.Health()
		}))
	}

	return deps
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolution service: Kafka consumer, ops server and health probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			if cfg.TracingEnabled {
				shutdown, err := tracing.Setup(runCtx, cfg.AppName, tracing.OTLPConfig{
					Endpoint: cfg.TracingEndpoint,
					Protocol: cfg.TracingProtocol,
					Insecure: true,
					Timeout:  10 * time.Second,
				})
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.WithoutCancel(runCtx)); err != nil {
						logger.WithError(err).Warn("Failed to flush traces")
					}
				}()
			}

			a := &app{cfg: cfg, logger: logger}
			checker := health.NewChecker(version, health.PingCheck("database", true, func(ctx context.Context) error {
				if a.db == nil {
					return errNotConnected
				}
				return a.db.PingContext(ctx)
			}))

			s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
			s.AddDependency(server.New(cfg.AppName, cfg.Port, checker, logger))
			for _, dep := range a.dependencies(checker) {
				s.AddDependency(dep)
			}

			if err := s.Start(runCtx); err != nil {
				_ = s.Stop(context.WithoutCancel(runCtx))
				return err
			}
			checker.SetReady(true)
			logger.WithContext(runCtx).WithFields(map[string]any{
				"port":     cfg.Port,
				"consumer": cfg.KafkaConsumerEnabled,
				"events":   cfg.KafkaEventsEnabled,
				"redis":    cfg.RedisEnabled,
			}).Info("Sprout is ready")

			<-runCtx.Done()
			logger.Info("Shutting down")
			checker.SetReady(false)
			return s.Stop(context.WithoutCancel(runCtx))
		},
	}
}
