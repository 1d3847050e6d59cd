// Package main is the entry point of the outbox relay worker. It delivers
// engine events from sys_outbox to a Redis stream, or to the log when no
// Redis is configured.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"costengine/internal/config"
	"costengine/internal/infrastructure/lock"
	"costengine/internal/infrastructure/storage/postgres"
	"costengine/internal/infrastructure/stream"
	"costengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log = log.WithComponent("outbox")

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL, 1))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalw("failed to migrate", "error", err)
	}

	var handler postgres.OutboxHandler = postgres.OutboxHandlerFunc(logMessage)
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
		handler = stream.NewPublisher(rdb, cfg.OutboxStream, cfg.OutboxStreamMaxLen)
		log.Infow("delivering to redis stream", "stream", cfg.OutboxStream)
	}

	relay := postgres.NewOutboxRelay(postgres.NewTxManager(pool), cfg.OutboxBatchSize, handler)
	log.Infow("outbox worker started", "interval", cfg.OutboxInterval.String())
	runRelay(ctx, relay, cfg.OutboxInterval)

	postgres.LogPoolStats(ctx, pool)
	log.Info("outbox worker stopped")
}

// runRelay drains the outbox every interval until ctx is cancelled. A full
// batch is followed immediately by the next one. Exhausted messages are
// moved to the dead-letter table once an hour.
func runRelay(ctx context.Context, relay *postgres.OutboxRelay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	dlqTicker := time.NewTicker(time.Hour)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := relay.ProcessBatch(ctx)
				if err != nil {
					logger.Error(ctx, "outbox batch failed", "error", err)
					break
				}
				if n > 0 {
					logger.Debug(ctx, "outbox batch delivered", "count", n)
				}
				if n == 0 || ctx.Err() != nil {
					break
				}
			}
		case <-dlqTicker.C:
			moved, err := relay.MoveToDLQ(ctx)
			if err != nil {
				logger.Error(ctx, "move to dead letters failed", "error", err)
				continue
			}
			if moved > 0 {
				logger.Warn(ctx, "outbox messages dead-lettered", "count", moved)
			}
		}
	}
}

func logMessage(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Info(ctx, "engine event",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
		"payload", string(msg.Payload),
	)
	return nil
}
