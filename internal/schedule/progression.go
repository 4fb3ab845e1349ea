package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
)

// DefaultIntervalLabel 未配置阶段名称时的默认文案
const DefaultIntervalLabel = "Target"

// IntervalIndex 从创建时刻起经过的完整阶段数，创建前为 0。
// 按整天计算，intervalDays 很大时也不会溢出 time.Duration
func IntervalIndex(createdAt, now time.Time, intervalDays int) int {
	elapsed := now.Sub(createdAt)
	if intervalDays <= 0 || elapsed <= 0 {
		return 0
	}
	days := int64(elapsed / (24 * time.Hour))
	return int(days / int64(intervalDays))
}

// ProgressionNotifier 递增型挑战每跨过一个阶段发一次"目标提升"通知。
// 第 0 阶段不通知，同一阶段只通知一次
type ProgressionNotifier struct {
	notifier *notifier
	logger   *zap.Logger
}

// Notify 返回本次是否发出了通知
func (p *ProgressionNotifier) Notify(ctx context.Context, run Run, ch *model.Challenge) (bool, error) {
	if ch.Type != model.ChallengeTypeProgress || ch.IsEnded() {
		return false, nil
	}

	rules := ch.Rules.Progress
	index := IntervalIndex(ch.CreatedAt, run.Now, rules.IntervalDays)
	if index < 1 {
		return false, nil
	}

	key := intervalGuardKey(ch.GroupID, ch.ID, index)
	exists, err := p.notifier.guards.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check progression guard: %w", err)
	}
	if exists {
		return false, nil
	}

	label := strings.TrimSpace(rules.IntervalLabel)
	if label == "" {
		label = DefaultIntervalLabel
	}

	notice := Notice{
		RunID:       run.ID,
		GroupID:     ch.GroupID,
		ChallengeID: ch.ID,
		Text:        progressionText(label),
	}
	sent, err := p.notifier.deliver(ctx, model.NotificationKindProgression, key, retainForever, func(ctx context.Context) error {
		return p.notifier.messenger.SendProgressionMessage(ctx, notice, index)
	})
	if err != nil {
		return false, err
	}

	if sent {
		p.logger.Info("Progression interval announced",
			zap.String("run_id", run.ID),
			zap.String("challenge_id", ch.ID),
			zap.Int("interval_index", index),
		)
	}
	return sent, nil
}
