package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook Redis 追踪 Hook，记录命令 span 与耗时
type TracingHook struct {
	tracer   trace.Tracer
	attrs    []attribute.KeyValue
	commands metric.Int64Counter
	duration metric.Float64Histogram
}

var _ redis.Hook = (*TracingHook)(nil)

// NewTracingHook 创建追踪 Hook
func NewTracingHook(serviceName string, db int) *TracingHook {
	meter := otel.Meter(serviceName + ".redis")
	// 创建失败时返回 noop 实现
	commands, _ := meter.Int64Counter(
		"redis.commands.total",
		metric.WithDescription("Total number of Redis commands"),
		metric.WithUnit("{command}"),
	)
	duration, _ := meter.Float64Histogram(
		"redis.command.duration",
		metric.WithDescription("Redis command duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)

	return &TracingHook{
		tracer: otel.Tracer(serviceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			semconv.DBRedisDBIndex(db),
		},
		commands: commands,
		duration: duration,
	}
}

// DialHook 实现 redis.Hook 接口
func (th *TracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

// ProcessHook 实现 redis.Hook 接口
func (th *TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, "redis."+cmd.Name(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()

		// 只记录键名，不记录值
		span.SetAttributes(semconv.DBOperation(cmd.Name()))
		if keys := extractKeys(cmd.Args()); len(keys) > 0 {
			span.SetAttributes(attribute.StringSlice("redis.keys", keys))
		}

		startTime := time.Now()
		err := next(ctx, cmd)

		status := "success"
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil):
			status = "not_found"
		default:
			status = "error"
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}

		opts := metric.WithAttributes(
			attribute.String("redis.command", cmd.Name()),
			attribute.String("redis.status", status),
		)
		th.commands.Add(ctx, 1, opts)
		th.duration.Record(ctx, time.Since(startTime).Seconds(), opts)

		return err
	}
}

// ProcessPipelineHook 实现 redis.Hook 接口
func (th *TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, "redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()

		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		span.SetAttributes(
			attribute.Int("redis.pipeline.count", len(cmds)),
			attribute.String("redis.pipeline.commands", strings.Join(names, ";")),
		)

		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		return err
	}
}

// extractKeys 取命令中的键名，EVAL / EVALSHA 的键从第 3 个参数开始
func extractKeys(args []interface{}) []string {
	if len(args) < 2 {
		return nil
	}
	start := 1
	if name, ok := args[0].(string); ok {
		switch strings.ToLower(name) {
		case "eval", "evalsha", "eval_ro", "evalsha_ro":
			start = 3
		}
	}

	keys := make([]string, 0, 1)
	for i := start; i < len(args) && len(keys) < 5; i++ {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if len(key) > 100 {
			key = key[:100] + "..."
		}
		keys = append(keys, key)
		// 除多键命令外只取第一个键，其余是值
		if !isMultiKey(args[0]) {
			break
		}
	}
	return keys
}

func isMultiKey(name interface{}) bool {
	s, _ := name.(string)
	switch strings.ToLower(s) {
	case "del", "exists", "mget", "unlink", "touch":
		return true
	}
	return false
}

// InstrumentRedisClient 为 Redis 客户端添加 OpenTelemetry 支持
func InstrumentRedisClient(client *redis.Client, serviceName string, db int) {
	client.AddHook(NewTracingHook(serviceName, db))
}
