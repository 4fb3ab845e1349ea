package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"SquadCheck/config"
	"SquadCheck/pkg/logger"
	pkgmq "SquadCheck/pkg/mq"
)

// 单例 + 读写锁，发布通道读多写少，断开后下一次发布时重建
var (
	publisherCh *amqp.Channel
	pubMutex    sync.RWMutex
)

func getPublisherChannel() (*amqp.Channel, error) {
	pubMutex.RLock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		ch := publisherCh
		pubMutex.RUnlock()
		return ch, nil
	}
	pubMutex.RUnlock()

	pubMutex.Lock()
	defer pubMutex.Unlock()

	if publisherCh != nil && !publisherCh.IsClosed() {
		return publisherCh, nil
	}

	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	publisherCh = ch

	go func() {
		closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))
		<-closeChan

		pubMutex.Lock()
		if publisherCh == ch {
			publisherCh = nil
		}
		pubMutex.Unlock()

		logger.Logger.Warn("Publisher channel closed, will recreate on next publish",
			zap.String("component", "rabbitmq"),
		)
	}()

	logger.Logger.Info("Publisher channel created",
		zap.String("component", "rabbitmq"),
	)

	return ch, nil
}

// Publisher 使用共享发布通道的 pkgmq.ChannelPublisher 实现
type Publisher struct{}

func (Publisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	ch, err := getPublisherChannel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// NewPublisher 带追踪的发布器，OTel 关闭时直接使用共享通道
func NewPublisher() pkgmq.ChannelPublisher {
	if config.Cfg.OTelEnabled {
		return pkgmq.NewInstrumentedPublisher(Publisher{}, config.Cfg.ServiceName)
	}
	return Publisher{}
}
