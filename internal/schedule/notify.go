package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/pkg/metrics"
)

// 通知幂等键
//   - 成员周期通知：groupId_challengeId_userId_periodKey
//   - 阶段提升：  groupId_challengeId_intervalIndex
//   - 胜者公告：  groupId_challengeId_winner
func memberPeriodGuardKey(groupID, challengeID, userID, periodKey string) string {
	return strings.Join([]string{groupID, challengeID, userID, periodKey}, "_")
}

func intervalGuardKey(groupID, challengeID string, index int) string {
	return strings.Join([]string{groupID, challengeID, strconv.Itoa(index)}, "_")
}

func winnerGuardKey(groupID, challengeID string) string {
	return strings.Join([]string{groupID, challengeID, "winner"}, "_")
}

// notifier 先写幂等记录再发送：写入成功的那一次才发消息，发送失败不回滚记录
type notifier struct {
	guards    GuardStore
	messenger Messenger
	logger    *zap.Logger
	metrics   *metrics.OTelMetrics
}

// guardRetention 幂等记录的保留方式
type guardRetention int

const (
	// retainDefault 成员周期键，周期过去后不会再被计算，允许过期
	retainDefault guardRetention = iota
	// retainForever 阶段 / 胜者键，同一个键会被反复计算
	retainForever
)

func (n *notifier) tryInsert(ctx context.Context, key string, retention guardRetention) (bool, error) {
	if retention == retainForever {
		if p, ok := n.guards.(PermanentGuardStore); ok {
			return p.TryInsertPermanent(ctx, key)
		}
	}
	return n.guards.TryInsert(ctx, key)
}

// deliver 返回是否由本次调用发出
func (n *notifier) deliver(ctx context.Context, kind model.NotificationKind, key string, retention guardRetention, send func(context.Context) error) (bool, error) {
	inserted, err := n.tryInsert(ctx, key, retention)
	if err != nil {
		n.metrics.RecordNotification(ctx, string(kind), "failed")
		return false, fmt.Errorf("failed to write notification guard %s: %w", key, err)
	}
	if !inserted {
		n.metrics.RecordNotification(ctx, string(kind), "duplicate")
		n.logger.Debug("Notification already sent, skipping",
			zap.String("kind", string(kind)),
			zap.String("guard_key", key),
		)
		return false, nil
	}

	if err := send(ctx); err != nil {
		// 消息出口是发出即忘，失败只记录
		n.metrics.RecordNotification(ctx, string(kind), "failed")
		n.logger.Warn("Failed to send notification",
			zap.String("kind", string(kind)),
			zap.String("guard_key", key),
			zap.Error(err),
		)
		return true, nil
	}

	n.metrics.RecordNotification(ctx, string(kind), "sent")
	return true, nil
}

func challengeName(ch *model.Challenge) string {
	if ch.Title != "" {
		return ch.Title
	}
	return ch.ID
}

func eliminationText(ch *model.Challenge, userID string, strikes uint32) string {
	return fmt.Sprintf("%s is out of %q after %d missed check-ins", userID, challengeName(ch), strikes)
}

func strikeText(ch *model.Challenge, userID string, strikes, allowed uint32) string {
	var remaining uint32
	if allowed > strikes {
		remaining = allowed - strikes
	}
	return fmt.Sprintf("%s missed %q: strike %d of %d, %d remaining", userID, challengeName(ch), strikes, allowed, remaining)
}

func winnerText(ch *model.Challenge, userID string) string {
	return fmt.Sprintf("%s is the last one standing and wins %q", userID, challengeName(ch))
}

func missedText(ch *model.Challenge, userID, periodKey string) string {
	return fmt.Sprintf("%s missed the check-in for %q (%s)", userID, challengeName(ch), periodKey)
}

func progressionText(label string) string {
	return label + " has increased"
}
