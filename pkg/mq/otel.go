package mq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ChannelPublisher *amqp.Channel 的发布能力
type ChannelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// InstrumentedPublisher 为发布加上 span、trace 上下文透传和发布指标
type InstrumentedPublisher struct {
	next        ChannelPublisher
	serviceName string
	propagators propagation.TextMapPropagator
	tracer      trace.Tracer
	published   metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewInstrumentedPublisher(next ChannelPublisher, serviceName string) *InstrumentedPublisher {
	meter := otel.Meter(serviceName + ".rabbitmq")
	// 指标创建失败时返回的是 noop 实现，可以直接使用
	published, _ := meter.Int64Counter(
		"mq.messages.total",
		metric.WithDescription("Total number of RabbitMQ messages"),
		metric.WithUnit("{message}"),
	)
	duration, _ := meter.Float64Histogram(
		"mq.message.duration",
		metric.WithDescription("RabbitMQ publish duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)

	return &InstrumentedPublisher{
		next:        next,
		serviceName: serviceName,
		propagators: otel.GetTextMapPropagator(),
		tracer:      otel.Tracer(serviceName + ".rabbitmq"),
		published:   published,
		duration:    duration,
	}
}

// PublishWithContext 发布消息并添加追踪
func (p *InstrumentedPublisher) PublishWithContext(
	ctx context.Context,
	exchange, routingKey string,
	mandatory, immediate bool,
	msg amqp.Publishing,
) error {
	startTime := time.Now()

	spanName := "rabbitmq.publish"
	if exchange != "" {
		spanName = "rabbitmq.publish." + exchange
	}

	ctx, span := p.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
			semconv.MessagingMessageID(msg.MessageId),
		),
	)
	defer span.End()

	// 注入追踪上下文到消息头，不修改调用方的 Headers
	headers := make(amqp.Table, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	p.propagators.Inject(ctx, &MessageHeaderCarrier{Headers: headers})
	msg.Headers = headers

	err := p.next.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, msg)

	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}

	opts := metric.WithAttributes(
		semconv.MessagingSystem("rabbitmq"),
		attribute.String("messaging.operation", "publish"),
		attribute.String("messaging.rabbitmq.exchange", exchange),
		attribute.String("messaging.status", status),
	)
	p.published.Add(ctx, 1, opts)
	p.duration.Record(ctx, time.Since(startTime).Seconds(), opts)

	return err
}

// MessageHeaderCarrier 实现 propagation.TextMapCarrier 接口
type MessageHeaderCarrier struct {
	Headers amqp.Table
}

func (m *MessageHeaderCarrier) Get(key string) string {
	if val, ok := m.Headers[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (m *MessageHeaderCarrier) Set(key, value string) {
	if m.Headers == nil {
		m.Headers = make(amqp.Table)
	}
	m.Headers[key] = value
}

func (m *MessageHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	return keys
}
