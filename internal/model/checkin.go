package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// CheckInStatus 打卡状态枚举
type CheckInStatus string

const (
	CheckInStatusCompleted CheckInStatus = "completed"
	CheckInStatusPending   CheckInStatus = "pending"
	CheckInStatusMissed    CheckInStatus = "missed"
	CheckInStatusFailed    CheckInStatus = "failed"
)

// CheckIn 一次打卡提交，只追加不修改。
// DayKey / WeekKey 必须是提交时按挑战管理员时区算出的周期键，而不是提交者本地日期
type CheckIn struct {
	BaseModel
	ChallengeID  string        `gorm:"type:varchar(64);not null;index:idx_check_ins_challenge_period" json:"challenge_id"`
	UserID       string        `gorm:"type:varchar(64);not null;index:idx_check_ins_user" json:"user_id"`
	PeriodUnit   CadenceUnit   `gorm:"type:varchar(16);not null" json:"period_unit"`
	DayKey       string        `gorm:"type:varchar(10);index:idx_check_ins_challenge_period" json:"day_key,omitempty"`
	WeekKey      string        `gorm:"type:varchar(10)" json:"week_key,omitempty"`
	BoolValue    *bool         `json:"bool_value,omitempty"`
	NumberValue  *float64      `json:"number_value,omitempty"`
	TextValue    *string       `gorm:"type:text" json:"text_value,omitempty"`
	TimerSeconds *int64        `json:"timer_seconds,omitempty"`
	Status       CheckInStatus `gorm:"type:varchar(16);not null;default:'completed'" json:"status"`
	Attachments  StringList    `gorm:"type:jsonb;default:'[]'" json:"attachments"`
}

// TableName 指定表名
func (CheckIn) TableName() string {
	return "check_ins"
}

// PeriodKey 返回与 PeriodUnit 对应的周期键
func (c *CheckIn) PeriodKey() string {
	if c.PeriodUnit == CadenceWeekly {
		return c.WeekKey
	}
	return c.DayKey
}

func (c *CheckIn) IsCompleted() bool {
	return c.Status == CheckInStatusCompleted
}

// SubmittedAt 打卡创建时间
func (c *CheckIn) SubmittedAt() time.Time {
	return c.CreatedAt
}

// StringList 以 JSONB 数组存储的字符串列表（附件 URL 等）
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to unmarshal StringList value")
	}
	return json.Unmarshal(raw, s)
}
