package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// NotificationKind 通知类别枚举
type NotificationKind string

const (
	NotificationKindEliminated  NotificationKind = "eliminated"  // 出局
	NotificationKindStrike      NotificationKind = "strike"      // 记一次 strike
	NotificationKindWinner      NotificationKind = "winner"      // 唯一幸存者获胜
	NotificationKindMissed      NotificationKind = "missed"      // 非淘汰赛的漏打卡提醒
	NotificationKindProgression NotificationKind = "progression" // 目标值提升
)

// NotificationGuard 幂等记录，Key 唯一。只创建，不更新
//
// Key 格式：
//   - 成员周期通知：groupId_challengeId_userId_periodKey
//   - 阶段提升：  groupId_challengeId_intervalIndex
//   - 胜者公告：  groupId_challengeId_winner
type NotificationGuard struct {
	BaseModel
	Key string `gorm:"type:varchar(255);not null;uniqueIndex:uk_notification_guards_key" json:"key"`
}

// TableName 指定表名
func (NotificationGuard) TableName() string {
	return "notification_guards"
}

// JSONB 自定义 JSONB 类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value")
	}
	return json.Unmarshal(bytes, j)
}
