package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"SquadCheck/config"
	"SquadCheck/pkg/logger"
)

// NotificationExchange 挑战群消息的 topic exchange，routing key 为 challenge.<kind>
const NotificationExchange = "squadcheck.notifications"

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

func Init() error {
	connOnce.Do(func() {
		conn, connErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if connErr != nil {
			logger.Logger.Error("Failed to connect RabbitMQ", zap.Error(connErr))
			return
		}

		ch, err := conn.Channel()
		if err != nil {
			connErr = fmt.Errorf("failed to open channel: %w", err)
			return
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare(
			NotificationExchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			connErr = fmt.Errorf("failed to declare exchange %s: %w", NotificationExchange, err)
			return
		}

		logger.Logger.Info("RabbitMQ initialized successfully",
			zap.String("exchange", NotificationExchange),
		)
	})

	return connErr
}

func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	if conn == nil {
		return nil
	}

	pubMutex.Lock()
	if publisherCh != nil {
		_ = publisherCh.Close()
		publisherCh = nil
	}
	pubMutex.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
