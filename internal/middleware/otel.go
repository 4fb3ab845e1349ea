package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// toValidUTF8 统一清洗用户可控字符串，防止非法 UTF-8 触发指标/trace 序列化失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

// MetricsMiddleware HTTP 请求数、耗时和活跃请求数。路由用注册时的模板，避免路径参数撑爆基数
func MetricsMiddleware() app.HandlerFunc {
	meter := otel.Meter("squadcheck.http")
	// 创建失败时返回 noop 实现
	requests, _ := meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	duration, _ := meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	active, _ := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)

	return func(ctx context.Context, c *app.RequestContext) {
		startTime := time.Now()
		active.Add(ctx, 1)
		defer active.Add(ctx, -1)

		c.Next(ctx)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		statusCode := c.Response.StatusCode()

		opts := metric.WithAttributes(
			semconv.HTTPMethod(toValidUTF8(string(c.Method()))),
			semconv.HTTPRoute(route),
			semconv.HTTPStatusCode(statusCode),
			attribute.String("http.status_class", strconv.Itoa(statusCode/100)+"xx"),
		)
		requests.Add(ctx, 1, opts)
		duration.Record(ctx, time.Since(startTime).Seconds(), opts)
	}
}

// NewServerTracerConfig 创建 Hertz Server 的追踪配置
// 返回用于初始化 Hertz server 的配置选项和追踪中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}
