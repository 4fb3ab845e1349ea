package model

import "time"

// ChallengeType 挑战类型枚举
type ChallengeType string

const (
	ChallengeTypeStandard    ChallengeType = "standard"    // 普通打卡
	ChallengeTypeProgress    ChallengeType = "progress"    // 目标值随周数递增
	ChallengeTypeElimination ChallengeType = "elimination" // 淘汰赛，超过 strike 上限出局
	ChallengeTypeDeadline    ChallengeType = "deadline"    // 截止日期前达成目标
)

// ChallengeState 挑战状态枚举
type ChallengeState string

const (
	ChallengeStateActive ChallengeState = "active"
	ChallengeStateEnded  ChallengeState = "ended"
)

// CadenceUnit 打卡周期单位
type CadenceUnit string

const (
	CadenceDaily  CadenceUnit = "daily"
	CadenceWeekly CadenceUnit = "weekly"
)

// Comparison 数值比较方式
type Comparison string

const (
	ComparisonGTE Comparison = "gte" // 至少达到目标
	ComparisonLTE Comparison = "lte" // 不超过目标
)

// DeadlineProgressMode 截止型挑战的进度累计方式
type DeadlineProgressMode string

const (
	DeadlineProgressCumulative DeadlineProgressMode = "cumulative" // 所有打卡数值求和
	DeadlineProgressBest       DeadlineProgressMode = "best"       // 取单次最优值
)

// Cadence 打卡节奏
type Cadence struct {
	Unit          CadenceUnit `gorm:"type:varchar(16);not null;default:'daily'" json:"unit"`
	RequiredCount int         `gorm:"type:smallint;not null;default:1" json:"required_count"` // 仅 weekly 生效
	WeekStartsOn  int         `gorm:"type:smallint;not null;default:0" json:"week_starts_on"`  // 0=周日 ... 6=周六
}

// DueSpec 截止时间，DueTimeLocal 永远按管理员时区解释，而不是查看者的时区
type DueSpec struct {
	DueTimeLocal  string `gorm:"type:varchar(8)" json:"due_time_local"`  // "HH:MM"
	AdminTimeZone string `gorm:"type:varchar(64)" json:"admin_time_zone"` // IANA 时区
	DeadlineDate  string `gorm:"type:varchar(10)" json:"deadline_date,omitempty"`
}

type ProgressRules struct {
	StartsAt      float64    `json:"starts_at"`
	IncreaseBy    float64    `json:"increase_by"`
	Comparison    Comparison `gorm:"type:varchar(8)" json:"comparison"`
	IntervalDays  int        `json:"interval_days"`  // 0 表示不发送阶段提升通知
	IntervalLabel string     `gorm:"type:varchar(64)" json:"interval_label"`
}

type EliminationRules struct {
	StrikesAllowed uint32 `json:"strikes_allowed"`
	EliminateOn    string `gorm:"type:varchar(16)" json:"eliminate_on"` // 目前只有 "missed"
}

type DeadlineRules struct {
	TargetValue  float64              `json:"target_value"`
	Comparison   Comparison           `gorm:"type:varchar(8)" json:"comparison"`
	ProgressMode DeadlineProgressMode `gorm:"type:varchar(16)" json:"progress_mode"`
}

type ChallengeRules struct {
	Progress    ProgressRules    `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	Elimination EliminationRules `gorm:"embedded;embeddedPrefix:elimination_" json:"elimination"`
	Deadline    DeadlineRules    `gorm:"embedded;embeddedPrefix:deadline_" json:"deadline"`
}

// Challenge 挑战定义，由外部创建流程写入；结算只会修改 State / WinnerID / EndedAt
type Challenge struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	GroupID   string         `gorm:"type:varchar(64);not null;default:'';index:idx_challenges_group_state" json:"group_id,omitempty"`
	Title     string         `gorm:"type:varchar(128);not null;default:''" json:"title"`
	Type      ChallengeType  `gorm:"type:varchar(16);not null;default:'standard'" json:"type"`
	Cadence   Cadence        `gorm:"embedded;embeddedPrefix:cadence_" json:"cadence"`
	Due       DueSpec        `gorm:"embedded;embeddedPrefix:due_" json:"due"`
	Rules     ChallengeRules `gorm:"embedded" json:"rules"`
	State     ChallengeState `gorm:"type:varchar(16);not null;default:'active';index:idx_challenges_group_state" json:"state"`
	WinnerID  *string        `gorm:"type:varchar(64)" json:"winner_id,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (Challenge) TableName() string {
	return "challenges"
}

func (c *Challenge) IsGroupScoped() bool {
	return c.GroupID != ""
}

func (c *Challenge) IsEnded() bool {
	return c.State == ChallengeStateEnded
}

// MemberState 成员在淘汰赛中的状态
type MemberState string

const (
	MemberStateActive     MemberState = "active"
	MemberStateEliminated MemberState = "eliminated" // 终态
)

// ChallengeMember 每个 (challenge, user) 的淘汰记录。Strikes 只增不减
type ChallengeMember struct {
	BaseModel
	ChallengeID  string      `gorm:"type:varchar(64);not null;uniqueIndex:uk_challenge_members_challenge_user" json:"challenge_id"`
	UserID       string      `gorm:"type:varchar(64);not null;uniqueIndex:uk_challenge_members_challenge_user" json:"user_id"`
	State        MemberState `gorm:"type:varchar(16);not null;default:'active'" json:"state"`
	Strikes      uint32      `gorm:"not null;default:0" json:"strikes"`
	EliminatedAt *time.Time  `json:"eliminated_at,omitempty"`
}

// TableName 指定表名
func (ChallengeMember) TableName() string {
	return "challenge_members"
}

func (m *ChallengeMember) IsEliminated() bool {
	return m.State == MemberStateEliminated
}

// ChallengeStrike strike 流水，(challenge, user, period) 唯一；
// 插入流水和累加 ChallengeMember.Strikes 在同一个事务里，保证重复结算不会重复计数
type ChallengeStrike struct {
	BaseModel
	ChallengeID string `gorm:"type:varchar(64);not null;uniqueIndex:uk_challenge_strikes_period" json:"challenge_id"`
	UserID      string `gorm:"type:varchar(64);not null;uniqueIndex:uk_challenge_strikes_period" json:"user_id"`
	PeriodKey   string `gorm:"type:varchar(10);not null;uniqueIndex:uk_challenge_strikes_period" json:"period_key"`
}

// TableName 指定表名
func (ChallengeStrike) TableName() string {
	return "challenge_strikes"
}

// GroupMember 群组成员，只读
type GroupMember struct {
	BaseModel
	GroupID string `gorm:"type:varchar(64);not null;uniqueIndex:uk_group_members_group_user" json:"group_id"`
	UserID  string `gorm:"type:varchar(64);not null;uniqueIndex:uk_group_members_group_user" json:"user_id"`
}

// TableName 指定表名
func (GroupMember) TableName() string {
	return "group_members"
}
