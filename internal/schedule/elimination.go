package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/internal/period"
	"SquadCheck/internal/status"
	"SquadCheck/pkg/metrics"
)

// Run 一次结算的上下文，同一次运行内所有挑战共用同一个 now
type Run struct {
	ID  string
	Now time.Time
}

// 跳过原因
const (
	SkipEnded        = "ended"
	SkipNotStarted   = "not_started"
	SkipDeadlineOpen = "deadline_open"
)

// SweepResult 单个挑战的结算结果
type SweepResult struct {
	ChallengeID string
	PeriodKey   string
	Skipped     string
	Missed      []string
	Eliminated  []string
	Ended       bool
	WinnerID    string
	Notified    int
}

// EliminationSweeper 结算上一个已结束的周期：找出漏打卡成员，淘汰赛记 strike 并判定出局与胜者，
// 其他类型发普通漏打卡提醒。重复执行同一周期不会重复记 strike，也不会重复发消息
type EliminationSweeper struct {
	members   MemberStore
	mutations MutationSink
	notifier  *notifier
	logger    *zap.Logger
	metrics   *metrics.OTelMetrics
}

// Sweep 结算单个挑战。checkIns 可以包含同群组其他挑战的记录
func (s *EliminationSweeper) Sweep(ctx context.Context, run Run, ch *model.Challenge, checkIns []model.CheckIn) (SweepResult, error) {
	res := SweepResult{ChallengeID: ch.ID}

	if ch.IsEnded() {
		res.Skipped = SkipEnded
		return res, nil
	}

	sched := period.FromChallenge(ch)

	if ch.Type == model.ChallengeTypeDeadline {
		return s.sweepDeadline(ctx, run, ch, sched, res)
	}

	prev := sched.PreviousPeriod(run.Now)
	res.PeriodKey = prev.String()

	// 上个周期早于挑战创建日或在创建前就已截止，没有打卡义务
	if sched.PrecedesCreation(prev, ch.CreatedAt) {
		res.Skipped = SkipNotStarted
		return res, nil
	}

	active, err := s.roster(ctx, ch)
	if err != nil {
		return res, err
	}

	res.Missed = missedUsers(ch, sched, prev, active, checkIns)

	if ch.Type != model.ChallengeTypeElimination {
		return res, s.notifyMissed(ctx, run, ch, &res)
	}

	errs := make([]error, 0)
	for _, userID := range res.Missed {
		if err := s.strike(ctx, run, ch, userID, &res); err != nil {
			s.logger.Error("Failed to apply strike",
				zap.String("run_id", run.ID),
				zap.String("challenge_id", ch.ID),
				zap.String("user_id", userID),
				zap.String("period_key", res.PeriodKey),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}

	if err := s.settle(ctx, run, ch, &res); err != nil {
		errs = append(errs, err)
	}

	return res, errors.Join(errs...)
}

// sweepDeadline 截止型挑战不按周期记漏打卡，过了最终截止时刻直接结束，无胜者
func (s *EliminationSweeper) sweepDeadline(ctx context.Context, run Run, ch *model.Challenge, sched period.Schedule, res SweepResult) (SweepResult, error) {
	deadline, ok := status.DeadlineMoment(ch, sched)
	if !ok || run.Now.Before(deadline) {
		res.Skipped = SkipDeadlineOpen
		return res, nil
	}

	ended, err := s.mutations.SetChallengeEnded(ctx, ch.ID, nil, run.Now)
	if err != nil {
		return res, fmt.Errorf("failed to end deadline challenge: %w", err)
	}
	if ended {
		res.Ended = true
		s.metrics.RecordChallengeEnded(ctx, string(ch.Type), false)
		s.logger.Info("Deadline passed, challenge ended",
			zap.String("run_id", run.ID),
			zap.String("challenge_id", ch.ID),
			zap.Time("deadline", deadline),
		)
	}
	return res, nil
}

// roster 当前仍在挑战中的成员。群组挑战以群组成员为准，出局成员永远排除
func (s *EliminationSweeper) roster(ctx context.Context, ch *model.Challenge) ([]string, error) {
	if !ch.IsGroupScoped() {
		members, err := s.members.GetActiveMembers(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load active members: %w", err)
		}
		ids := make([]string, 0, len(members))
		for i := range members {
			if !members[i].IsEliminated() {
				ids = append(ids, members[i].UserID)
			}
		}
		return dedupe(ids), nil
	}

	groupIDs, err := s.members.GetGroupMemberIDs(ctx, ch.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group members: %w", err)
	}
	members, err := s.members.GetMembers(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge members: %w", err)
	}

	eliminated := make(map[string]struct{}, len(members))
	for i := range members {
		if members[i].IsEliminated() {
			eliminated[members[i].UserID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		if _, out := eliminated[id]; !out {
			ids = append(ids, id)
		}
	}
	return dedupe(ids), nil
}

// missedUsers active 中在周期 k 未完成的成员，保持 active 的顺序
func missedUsers(ch *model.Challenge, sched period.Schedule, k period.Key, active []string, checkIns []model.CheckIn) []string {
	required := sched.RequiredCountFor(k)
	missed := make([]string, 0)
	for _, userID := range active {
		count, _ := status.CompletedIn(ch.ID, userID, k, checkIns)
		if count < required {
			missed = append(missed, userID)
		}
	}
	return missed
}

func (s *EliminationSweeper) notifyMissed(ctx context.Context, run Run, ch *model.Challenge, res *SweepResult) error {
	errs := make([]error, 0)
	for _, userID := range res.Missed {
		notice := Notice{
			RunID:       run.ID,
			GroupID:     ch.GroupID,
			ChallengeID: ch.ID,
			UserID:      userID,
			PeriodKey:   res.PeriodKey,
			Text:        missedText(ch, userID, res.PeriodKey),
		}
		key := memberPeriodGuardKey(ch.GroupID, ch.ID, userID, res.PeriodKey)
		sent, err := s.notifier.deliver(ctx, model.NotificationKindMissed, key, retainDefault, func(ctx context.Context) error {
			return s.notifier.messenger.SendGenericMissedMessage(ctx, notice)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sent {
			res.Notified++
		}
	}
	return errors.Join(errs...)
}

// strike 记 strike 并通知。重复执行时 ApplyStrike 不会再次累加，通知由幂等记录拦住
func (s *EliminationSweeper) strike(ctx context.Context, run Run, ch *model.Challenge, userID string, res *SweepResult) error {
	allowed := ch.Rules.Elimination.StrikesAllowed

	out, err := s.mutations.ApplyStrike(ctx, StrikeInput{
		ChallengeID:    ch.ID,
		UserID:         userID,
		PeriodKey:      res.PeriodKey,
		StrikesAllowed: allowed,
		At:             run.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to apply strike for %s: %w", userID, err)
	}

	if out.Applied {
		s.metrics.RecordStrike(ctx, out.Eliminated)
	}
	if out.Eliminated {
		res.Eliminated = append(res.Eliminated, userID)
		s.logger.Info("Member eliminated",
			zap.String("run_id", run.ID),
			zap.String("challenge_id", ch.ID),
			zap.String("user_id", userID),
			zap.Uint32("strikes", out.Member.Strikes),
		)
	}

	notice := Notice{
		RunID:       run.ID,
		GroupID:     ch.GroupID,
		ChallengeID: ch.ID,
		UserID:      userID,
		PeriodKey:   res.PeriodKey,
	}
	key := memberPeriodGuardKey(ch.GroupID, ch.ID, userID, res.PeriodKey)

	var sent bool
	if out.Member.IsEliminated() {
		notice.Text = eliminationText(ch, userID, out.Member.Strikes)
		sent, err = s.notifier.deliver(ctx, model.NotificationKindEliminated, key, retainDefault, func(ctx context.Context) error {
			return s.notifier.messenger.SendEliminationMessage(ctx, notice)
		})
	} else {
		notice.Text = strikeText(ch, userID, out.Member.Strikes, allowed)
		sent, err = s.notifier.deliver(ctx, model.NotificationKindStrike, key, retainDefault, func(ctx context.Context) error {
			return s.notifier.messenger.SendStrikeMessage(ctx, notice, out.Member.Strikes, allowed)
		})
	}
	if err != nil {
		return err
	}
	if sent {
		res.Notified++
	}
	return nil
}

// settle 淘汰后重新清点：剩一人则该成员获胜并结束挑战，无人剩余则结束且无胜者。
// 从未有人出局时不清点，单人挑战不会因此直接结束
func (s *EliminationSweeper) settle(ctx context.Context, run Run, ch *model.Challenge, res *SweepResult) error {
	members, err := s.members.GetMembers(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("failed to load challenge members: %w", err)
	}
	anyEliminated := false
	for i := range members {
		if members[i].IsEliminated() {
			anyEliminated = true
			break
		}
	}
	if !anyEliminated {
		return nil
	}

	remaining, err := s.roster(ctx, ch)
	if err != nil {
		return err
	}

	var winnerID *string
	switch len(remaining) {
	case 0:
	case 1:
		winnerID = &remaining[0]
	default:
		return nil
	}

	ended, err := s.mutations.SetChallengeEnded(ctx, ch.ID, winnerID, run.Now)
	if err != nil {
		return fmt.Errorf("failed to end challenge: %w", err)
	}
	if !ended {
		return nil
	}

	res.Ended = true
	s.metrics.RecordChallengeEnded(ctx, string(ch.Type), winnerID != nil)

	if winnerID == nil {
		s.logger.Info("No members remaining, challenge ended without winner",
			zap.String("run_id", run.ID),
			zap.String("challenge_id", ch.ID),
		)
		return nil
	}

	res.WinnerID = *winnerID
	s.logger.Info("Challenge ended with winner",
		zap.String("run_id", run.ID),
		zap.String("challenge_id", ch.ID),
		zap.String("winner_id", res.WinnerID),
	)

	notice := Notice{
		RunID:       run.ID,
		GroupID:     ch.GroupID,
		ChallengeID: ch.ID,
		UserID:      res.WinnerID,
		PeriodKey:   res.PeriodKey,
		Text:        winnerText(ch, res.WinnerID),
	}
	sent, err := s.notifier.deliver(ctx, model.NotificationKindWinner, winnerGuardKey(ch.GroupID, ch.ID), retainForever, func(ctx context.Context) error {
		return s.notifier.messenger.SendWinnerMessage(ctx, notice)
	})
	if err != nil {
		return err
	}
	if sent {
		res.Notified++
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
