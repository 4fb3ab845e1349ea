// Package status 根据挑战定义、成员打卡记录和淘汰状态，计算成员在某个周期的状态。
//
// 纯函数，无副作用（兜底日志除外），可以并发调用。
package status

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/internal/period"
	"SquadCheck/internal/wallclock"
	"SquadCheck/pkg/errors"
	"SquadCheck/pkg/logger"
)

// Input Evaluate 的入参。RequestedPeriod 为空时取当前打卡周期
type Input struct {
	Challenge       *model.Challenge
	UserID          string
	CheckIns        []model.CheckIn
	Members         []model.ChallengeMember
	RequestedPeriod string
	Now             time.Time
}

// evaluation 决策表各规则共享的上下文
type evaluation struct {
	challenge *model.Challenge
	userID    string
	checkIns  []model.CheckIn
	members   []model.ChallengeMember
	schedule  period.Schedule
	current   period.Key
	requested period.Key
	now       time.Time
}

type rule struct {
	name  string
	apply func(e *evaluation) (UserStatus, bool)
}

// decisionTable 顺序即优先级：出局 > 完成 > 未开始 > 未来周期 > 历史未完成 > 截止已过 > 待提交。
// 最后一条规则总是命中，保证每个输入恰好得到一个状态
var decisionTable = []rule{
	{name: "eliminated", apply: ruleEliminated},
	{name: "completed", apply: ruleCompleted},
	{name: "not_started", apply: ruleNotStarted},
	{name: "upcoming", apply: ruleUpcoming},
	{name: "historical_missed", apply: ruleHistoricalMissed},
	{name: "deadline_passed", apply: ruleDeadlinePassed},
	{name: "pending", apply: rulePending},
}

// Evaluate 计算成员在请求周期的状态
func Evaluate(in Input) (UserStatus, error) {
	e, err := newEvaluation(in)
	if err != nil {
		return nil, err
	}

	for _, r := range decisionTable {
		if st, ok := r.apply(e); ok {
			return st, nil
		}
	}

	// rulePending 兜底命中，走不到这里
	return nil, fmt.Errorf("no status rule matched for challenge %s", in.Challenge.ID)
}

func newEvaluation(in Input) (*evaluation, error) {
	if in.Challenge == nil {
		return nil, errors.ChallengeNotFound
	}
	if in.UserID == "" {
		return nil, errors.InvalidUserID
	}
	if !validType(in.Challenge.Type) {
		return nil, fmt.Errorf("%w: %q", errors.ChallengeTypeInvalid, in.Challenge.Type)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	sched := period.FromChallenge(in.Challenge)
	current := sched.CurrentSubmissionPeriod(now)

	requested := current
	if in.RequestedPeriod != "" {
		var err error
		requested, err = sched.ParseKey(in.RequestedPeriod)
		if err != nil {
			return nil, err
		}
	}

	return &evaluation{
		challenge: in.Challenge,
		userID:    in.UserID,
		checkIns:  in.CheckIns,
		members:   in.Members,
		schedule:  sched,
		current:   current,
		requested: requested,
		now:       now,
	}, nil
}

func validType(t model.ChallengeType) bool {
	switch t {
	case model.ChallengeTypeStandard, model.ChallengeTypeProgress,
		model.ChallengeTypeElimination, model.ChallengeTypeDeadline:
		return true
	default:
		return false
	}
}

func ruleEliminated(e *evaluation) (UserStatus, bool) {
	for i := range e.members {
		m := &e.members[i]
		if m.UserID == e.userID && m.ChallengeID == e.challenge.ID && m.IsEliminated() {
			return Eliminated{Strikes: m.Strikes}, true
		}
	}
	return nil, false
}

func ruleCompleted(e *evaluation) (UserStatus, bool) {
	count, latest := CompletedIn(e.challenge.ID, e.userID, e.requested, e.checkIns)
	if count == 0 || count < e.schedule.RequiredCountFor(e.requested) {
		return nil, false
	}
	return Completed{At: latest.SubmittedAt(), CheckIn: *latest, Count: count}, true
}

// ruleNotStarted 周期早于挑战创建日，或在创建前就已截止，那时还没有打卡义务
func ruleNotStarted(e *evaluation) (UserStatus, bool) {
	if !e.schedule.PrecedesCreation(e.requested, e.challenge.CreatedAt) {
		return nil, false
	}
	due := e.schedule.DueMoment(e.requested)
	return Pending{DueAt: due, Reason: ReasonNotStarted}, true
}

func ruleUpcoming(e *evaluation) (UserStatus, bool) {
	if !e.requested.Date.After(e.current.Date) {
		return nil, false
	}
	due := e.schedule.DueMoment(e.requested)
	return Pending{DueAt: due, Remaining: floorRemaining(due.Sub(e.now)), Reason: ReasonUpcoming}, true
}

func ruleHistoricalMissed(e *evaluation) (UserStatus, bool) {
	if e.requested.Equal(e.current) {
		return nil, false
	}
	return Missed{MissedAt: e.schedule.DueMoment(e.requested)}, true
}

// ruleDeadlinePassed 截止型挑战过了最终截止时刻仍未完成
func ruleDeadlinePassed(e *evaluation) (UserStatus, bool) {
	deadline, ok := DeadlineMoment(e.challenge, e.schedule)
	if !ok || e.now.Before(deadline) {
		return nil, false
	}
	return Missed{MissedAt: deadline}, true
}

// rulePending 当前周期未完成。周周期过了截止时刻但本周未结束时剩余时间为 0，仍是 Pending
func rulePending(e *evaluation) (UserStatus, bool) {
	due := e.schedule.DueMoment(e.requested)
	if deadline, ok := DeadlineMoment(e.challenge, e.schedule); ok {
		due = deadline
	}
	return Pending{DueAt: due, Remaining: floorRemaining(due.Sub(e.now)), Reason: ReasonAwaiting}, true
}

func floorRemaining(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Minute)
}

// CompletedIn 统计成员在周期 k 内的完成打卡数，并返回最近一次完成的打卡
func CompletedIn(challengeID, userID string, k period.Key, checkIns []model.CheckIn) (int, *model.CheckIn) {
	var (
		count  int
		latest *model.CheckIn
	)
	key := k.String()
	for i := range checkIns {
		c := &checkIns[i]
		if c.ChallengeID != challengeID || c.UserID != userID || !c.IsCompleted() {
			continue
		}
		if c.PeriodUnit != k.Unit || c.PeriodKey() != key {
			continue
		}
		count++
		if latest == nil || c.SubmittedAt().After(latest.SubmittedAt()) {
			latest = c
		}
	}
	return count, latest
}

// DeadlineMoment 截止型挑战的最终截止时刻：DeadlineDate 当天的 DueTimeLocal（管理员时区）
func DeadlineMoment(ch *model.Challenge, sched period.Schedule) (time.Time, bool) {
	if ch.Type != model.ChallengeTypeDeadline || ch.Due.DeadlineDate == "" {
		return time.Time{}, false
	}
	d, err := wallclock.ParseDate(ch.Due.DeadlineDate)
	if err != nil {
		logger.Logger.Warn("Deadline date invalid, ignoring deadline",
			zap.String("challenge_id", ch.ID),
			zap.String("deadline_date", ch.Due.DeadlineDate),
		)
		return time.Time{}, false
	}
	return period.DueMomentForDay(sched.Location, d, sched.Due), true
}
