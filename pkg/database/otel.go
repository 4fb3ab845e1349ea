package database

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanKey      = "otel:span"
	startTimeKey = "otel:start_time"
)

var quotedLiteral = regexp.MustCompile(`'[^']*'`)

// PluginConfig 插件配置
type PluginConfig struct {
	ServiceName  string
	DBSystem     attribute.KeyValue
	MaxSQLLength int
	// MeterProvider / TracerProvider 为空时使用全局 provider
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// DefaultPluginConfig 默认插件配置
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		ServiceName:  "squadcheck",
		DBSystem:     semconv.DBSystemPostgreSQL,
		MaxSQLLength: 500,
	}
}

// OTELPlugin GORM OpenTelemetry 插件，每条语句一个 client span，并记录次数和耗时
type OTELPlugin struct {
	tracer   trace.Tracer
	config   PluginConfig
	queries  metric.Int64Counter
	duration metric.Float64Histogram
}

func NewOTELPlugin(config PluginConfig) (*OTELPlugin, error) {
	if config.ServiceName == "" {
		config.ServiceName = "squadcheck"
	}
	if !config.DBSystem.Valid() {
		config.DBSystem = semconv.DBSystemPostgreSQL
	}
	if config.MaxSQLLength <= 0 {
		config.MaxSQLLength = 500
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.MeterProvider == nil {
		config.MeterProvider = otel.GetMeterProvider()
	}

	meter := config.MeterProvider.Meter(config.ServiceName + ".gorm")
	queries, err := meter.Int64Counter(
		"db.queries.total",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return nil, err
	}

	return &OTELPlugin{
		tracer:   config.TracerProvider.Tracer(config.ServiceName + ".gorm"),
		config:   config,
		queries:  queries,
		duration: duration,
	}, nil
}

// Name 实现 gorm.Plugin 接口
func (p *OTELPlugin) Name() string {
	return "otel_plugin"
}

// Initialize 注册回调
func (p *OTELPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}{
		{"db.select", func(b, a func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("otel:before_query", b); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("otel:after_query", a)
		}},
		{"db.insert", func(b, a func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("otel:before_create", b); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("otel:after_create", a)
		}},
		{"db.update", func(b, a func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("otel:before_update", b); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("otel:after_update", a)
		}},
		{"db.delete", func(b, a func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", b); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("otel:after_delete", a)
		}},
		{"db.query", func(b, a func(*gorm.DB)) error {
			if err := cb.Row().Before("gorm:row").Register("otel:before_row", b); err != nil {
				return err
			}
			return cb.Row().After("gorm:row").Register("otel:after_row", a)
		}},
		{"db.raw", func(b, a func(*gorm.DB)) error {
			if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", b); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("otel:after_raw", a)
		}},
	}

	for _, h := range hooks {
		if err := h.register(p.before(h.op), p.after(h.op)); err != nil {
			return err
		}
	}
	return nil
}

func (p *OTELPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		attrs := []attribute.KeyValue{
			p.config.DBSystem,
			attribute.String("db.operation", operation),
		}
		if table := db.Statement.Table; table != "" {
			attrs = append(attrs, semconv.DBSQLTable(table))
		}

		ctx, span := p.tracer.Start(db.Statement.Context, operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		db.InstanceSet(startTimeKey, time.Now())
		db.InstanceSet(spanKey, span)
		db.Statement.Context = ctx
	}
}

func (p *OTELPlugin) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(spanKey)
		if !ok {
			return
		}
		span, ok := v.(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		// 语句在 gorm 回调执行后才生成
		span.SetAttributes(
			semconv.DBStatement(p.sanitizeSQL(db.Statement.SQL.String())),
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
		)

		status := "success"
		switch {
		case db.Error == nil:
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			status = "not_found"
		default:
			status = "error"
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}

		var elapsed float64
		if t, ok := db.InstanceGet(startTimeKey); ok {
			if start, ok := t.(time.Time); ok {
				elapsed = time.Since(start).Seconds()
			}
		}
		p.record(db.Statement.Context, operation, status, elapsed)
	}
}

func (p *OTELPlugin) record(ctx context.Context, operation, status string, elapsed float64) {
	opts := metric.WithAttributes(
		attribute.String("db.operation", operation),
		attribute.String("db.status", status),
	)
	p.queries.Add(ctx, 1, opts)
	p.duration.Record(ctx, elapsed, opts)
}

// sanitizeSQL 截断并抹掉字符串字面量，参数本身走占位符不会出现在语句里
func (p *OTELPlugin) sanitizeSQL(sql string) string {
	sql = quotedLiteral.ReplaceAllString(strings.TrimSpace(sql), "'?'")
	if len(sql) > p.config.MaxSQLLength {
		sql = sql[:p.config.MaxSQLLength] + "..."
	}
	return sql
}

// WithOTELPlugin 为 GORM 添加 OpenTelemetry 插件
func WithOTELPlugin(db *gorm.DB, config PluginConfig) error {
	plugin, err := NewOTELPlugin(config)
	if err != nil {
		return err
	}
	return db.Use(plugin)
}
