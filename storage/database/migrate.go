package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"SquadCheck/internal/model"
	"SquadCheck/pkg/logger"
)

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&model.Challenge{},
		&model.CheckIn{},
		&model.ChallengeMember{},
		&model.ChallengeStrike{},
		&model.GroupMember{},
		&model.NotificationGuard{},
	}
}

// Migrate 运行数据库迁移，创建所有表
func Migrate() error {
	return AutoMigrate(DB())
}

func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	if err := db.AutoMigrate(Models()...); err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
