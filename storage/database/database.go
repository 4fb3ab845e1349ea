package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"SquadCheck/config"
	pkgdb "SquadCheck/pkg/database"
	"SquadCheck/pkg/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
	dbErr  error
)

func Init() error {
	dbOnce.Do(func() {
		cfg := config.Cfg
		gormCfg := &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			PrepareStmt:                              true,
			SkipDefaultTransaction:                   true,
		}

		var gormDB *gorm.DB
		gormDB, dbErr = gorm.Open(postgres.Open(cfg.GetDSN()), gormCfg)
		if dbErr != nil {
			logger.Logger.Error("Failed to open database", zap.String("dsn", "please check databse connection"), zap.Error(dbErr))
			return
		}

		// 打卡记录的批量读取可走只读副本，写入和成员状态读取始终走主库
		if len(cfg.PostgreSQLReplicaDSNs) > 0 {
			replicas := make([]gorm.Dialector, 0, len(cfg.PostgreSQLReplicaDSNs))
			for _, dsn := range cfg.PostgreSQLReplicaDSNs {
				replicas = append(replicas, postgres.Open(dsn))
			}
			resolver := dbresolver.Register(dbresolver.Config{
				Replicas: replicas,
				Policy:   dbresolver.RandomPolicy{},
			}).
				SetMaxIdleConns(cfg.PostgreSQLMaxIdle).
				SetMaxOpenConns(cfg.PostgreSQLMaxOpen).
				SetConnMaxIdleTime(10 * time.Minute).
				SetConnMaxLifetime(2 * time.Hour)
			if dbErr = gormDB.Use(resolver); dbErr != nil {
				logger.Logger.Error("Failed to register read replicas", zap.Error(dbErr))
				return
			}
		}

		if cfg.OTelEnabled {
			pluginCfg := pkgdb.DefaultPluginConfig()
			pluginCfg.ServiceName = cfg.ServiceName
			if err := pkgdb.WithOTELPlugin(gormDB, pluginCfg); err != nil {
				logger.Logger.Warn("Failed to register gorm otel plugin", zap.Error(err))
			}
		}

		sqlDB, err := gormDB.DB()
		if err != nil {
			dbErr = err
			logger.Logger.Error("Failed to get sql.DB from gorm", zap.Error(err))
			return
		}

		configureConnectionPool(sqlDB)

		if err := sqlDB.Ping(); err != nil {
			dbErr = err
			logger.Logger.Error("Failed to ping database", zap.Error(err))
			return
		}

		db = gormDB
		if err := Migrate(); err != nil {
			dbErr = err
			return
		}
		logger.Logger.Info("Database initialized successfully",
			zap.Int("replica_count", len(cfg.PostgreSQLReplicaDSNs)),
		)
	})

	return dbErr
}

func DB() *gorm.DB {
	return db
}

func Close(ctx context.Context) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- sqlDB.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func configureConnectionPool(sqlDB *sql.DB) {
	cfg := config.Cfg

	sqlDB.SetMaxIdleConns(cfg.PostgreSQLMaxIdle)
	sqlDB.SetMaxOpenConns(cfg.PostgreSQLMaxOpen)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)
}
