package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"
	"SquadCheck/pkg/logger"
	pkgmq "SquadCheck/pkg/mq"
	"SquadCheck/pkg/snowflake"
)

// Producer 把结算产生的群消息发布到 RabbitMQ，由消息服务消费后推送到群聊
type Producer struct {
	publisher pkgmq.ChannelPublisher
	exchange  string
	now       func() time.Time
}

var _ schedule.Messenger = (*Producer)(nil)

func NewProducer(publisher pkgmq.ChannelPublisher, exchange string) *Producer {
	return &Producer{
		publisher: publisher,
		exchange:  exchange,
		now:       time.Now,
	}
}

// RoutingKey challenge.<kind>
func RoutingKey(kind model.NotificationKind) string {
	return "challenge." + string(kind)
}

func (p *Producer) SendEliminationMessage(ctx context.Context, n schedule.Notice) error {
	return p.publish(ctx, model.NotificationKindEliminated, n, nil)
}

func (p *Producer) SendStrikeMessage(ctx context.Context, n schedule.Notice, strikes, allowed uint32) error {
	return p.publish(ctx, model.NotificationKindStrike, n, model.JSONB{
		"strikes": strikes,
		"allowed": allowed,
	})
}

func (p *Producer) SendWinnerMessage(ctx context.Context, n schedule.Notice) error {
	return p.publish(ctx, model.NotificationKindWinner, n, nil)
}

func (p *Producer) SendGenericMissedMessage(ctx context.Context, n schedule.Notice) error {
	return p.publish(ctx, model.NotificationKindMissed, n, nil)
}

func (p *Producer) SendProgressionMessage(ctx context.Context, n schedule.Notice, intervalIndex int) error {
	return p.publish(ctx, model.NotificationKindProgression, n, model.JSONB{
		"interval_index": intervalIndex,
	})
}

func (p *Producer) publish(ctx context.Context, kind model.NotificationKind, n schedule.Notice, payload model.JSONB) error {
	id, err := snowflake.NextID()
	if err != nil {
		logger.Logger.Error("Failed to generate message ID",
			zap.String("challenge_id", n.ChallengeID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to generate message ID: %w", err)
	}

	msg := model.ChallengeNotificationMessage{
		MessageID:   fmt.Sprintf("sqck_notify_%d", id),
		RunID:       n.RunID,
		Kind:        kind,
		GroupID:     n.GroupID,
		ChallengeID: n.ChallengeID,
		UserID:      n.UserID,
		PeriodKey:   n.PeriodKey,
		Text:        n.Text,
		Payload:     payload,
		OccurredAt:  p.now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	routingKey := RoutingKey(kind)
	err = p.publisher.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    msg.MessageID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
	})
	if err != nil {
		logger.Logger.Error("Failed to publish challenge notification",
			zap.String("message_id", msg.MessageID),
			zap.String("kind", string(kind)),
			zap.String("challenge_id", n.ChallengeID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published challenge notification",
		zap.String("message_id", msg.MessageID),
		zap.String("routing_key", routingKey),
		zap.String("group_id", n.GroupID),
		zap.String("challenge_id", n.ChallengeID),
		zap.String("user_id", n.UserID),
	)

	return nil
}
