package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"SquadCheck/config"
	"SquadCheck/internal/cache"
	"SquadCheck/internal/queue"
	"SquadCheck/internal/repository"
	"SquadCheck/internal/schedule"
	"SquadCheck/pkg/logger"
	"SquadCheck/pkg/metrics"
	"SquadCheck/pkg/snowflake"
	"SquadCheck/storage"
	"SquadCheck/storage/database"
	"SquadCheck/storage/mq"
	"SquadCheck/storage/redis"

	pkgotel "SquadCheck/pkg/otel"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.OTelEnabled {
		shutdown, err := pkgotel.InitOpenTelemetry(ctx, pkgotel.Config{
			ServiceName:    config.Cfg.ServiceName + "-scheduler",
			ServiceVersion: config.Cfg.ServiceVersion,
			Environment:    config.Cfg.Environment,
			OTLPEndpoint:   config.Cfg.OTelEndpoint,
			SampleRatio:    config.Cfg.OTelSampleRatio,
		})
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()
	}

	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics, continuing without them", zap.Error(err))
	}

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	if err := storage.Init(storage.Options{Redis: true, MQ: true}); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	sweeper := newSweeper()

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.Duration("interval", config.Cfg.SweepInterval()),
		zap.Int("concurrency", config.Cfg.SweepConcurrency),
		zap.String("guard_backend", config.Cfg.GuardBackend),
	)

	runSweepLoop(ctx, sweeper)

	logger.Logger.Info("Scheduler service shutting down gracefully")
}

func newSweeper() *schedule.GroupSweeper {
	store := repository.NewStore(database.DB())

	var guards schedule.GuardStore = store
	if strings.EqualFold(config.Cfg.GuardBackend, "redis") {
		guards = cache.NewGuardStore(redis.Client(), config.Cfg.GuardTTL())
	}

	return schedule.NewGroupSweeper(schedule.Deps{
		Challenges: store,
		CheckIns:   store,
		Members:    store,
		Mutations:  store,
		Guards:     guards,
		Messenger:  queue.NewProducer(mq.NewPublisher(), mq.NotificationExchange),
		Locker:     cache.NewSweepLocker(redis.Client()),
	}, schedule.Options{
		Concurrency: config.Cfg.SweepConcurrency,
		LockTTL:     config.Cfg.SweepLockTTL(),
	})
}

// runSweepLoop 启动后立即跑一轮，之后按固定间隔结算
func runSweepLoop(ctx context.Context, sweeper *schedule.GroupSweeper) {
	ticker := time.NewTicker(config.Cfg.SweepInterval())
	defer ticker.Stop()

	runOnce(ctx, sweeper)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, sweeper)
		}
	}
}

func runOnce(ctx context.Context, sweeper *schedule.GroupSweeper) {
	runCtx, cancel := context.WithTimeout(ctx, config.Cfg.SweepTimeout())
	defer cancel()

	if err := sweeper.SweepAll(runCtx); err != nil {
		logger.Logger.Error("Challenge sweep run failed", zap.Error(err))
	}
}
