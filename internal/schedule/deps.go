package schedule

import (
	"context"
	"time"

	"SquadCheck/internal/model"
)

// ChallengeSource 调度循环的挑战来源
type ChallengeSource interface {
	// ListSweepGroups 返回仍有进行中挑战的群组，未归属群组的挑战以 "" 表示
	ListSweepGroups(ctx context.Context) ([]string, error)
	ListChallengesByGroup(ctx context.Context, groupID string) ([]model.Challenge, error)
}

// CheckInStore 打卡记录只读接口，按群组批量读取
type CheckInStore interface {
	GetCheckInsForChallenges(ctx context.Context, challengeIDs []string) ([]model.CheckIn, error)
}

// MemberStore 成员只读接口
type MemberStore interface {
	GetActiveMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error)
	GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error)
	GetMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error)
}

// StrikeInput 一次漏打卡记 strike 的参数
type StrikeInput struct {
	ChallengeID    string
	UserID         string
	PeriodKey      string
	StrikesAllowed uint32
	At             time.Time
}

// StrikeResult ApplyStrike 之后的成员记录。
// Applied=false 表示该周期已经记过，本次未改动；Eliminated 表示本次调用让成员出局
type StrikeResult struct {
	Member     model.ChallengeMember
	Applied    bool
	Eliminated bool
}

// MutationSink 结算写入口，所有写都必须是条件写或幂等写
type MutationSink interface {
	// ApplyStrike 按 (challenge, user, period) 幂等地累加 strike，成员记录不存在时创建
	ApplyStrike(ctx context.Context, in StrikeInput) (StrikeResult, error)
	// SetChallengeEnded 仅当挑战仍为 active 时结束，返回是否由本次调用完成状态转换
	SetChallengeEnded(ctx context.Context, challengeID string, winnerID *string, at time.Time) (bool, error)
}

// GuardStore 通知幂等记录。TryInsert 是唯一写入点，返回 false 表示已存在
type GuardStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	TryInsert(ctx context.Context, key string) (bool, error)
}

// PermanentGuardStore 可选接口。记录会过期的 GuardStore 实现它，阶段提升和胜者公告的键
// 在挑战存续期间会被反复计算，必须通过这里写入永不过期的记录
type PermanentGuardStore interface {
	TryInsertPermanent(ctx context.Context, key string) (bool, error)
}

// Notice 一条群消息
type Notice struct {
	RunID       string
	GroupID     string
	ChallengeID string
	UserID      string
	PeriodKey   string
	Text        string
}

// Messenger 群消息出口，按群组投递，发出即忘
type Messenger interface {
	SendEliminationMessage(ctx context.Context, n Notice) error
	SendStrikeMessage(ctx context.Context, n Notice, strikes, allowed uint32) error
	SendWinnerMessage(ctx context.Context, n Notice) error
	SendGenericMissedMessage(ctx context.Context, n Notice) error
	SendProgressionMessage(ctx context.Context, n Notice, intervalIndex int) error
}

// Locker 单个挑战的结算锁，避免同一挑战的结算重叠执行
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
