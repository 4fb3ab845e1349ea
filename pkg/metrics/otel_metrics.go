package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 结算相关指标
	SweepChallengesTotal   metric.Int64Counter
	SweepDuration          metric.Float64Histogram
	SweepStrikesTotal      metric.Int64Counter
	SweepEliminationsTotal metric.Int64Counter
	SweepEndedTotal        metric.Int64Counter
	NotificationsTotal     metric.Int64Counter
	SweepActiveChallenges  metric.Int64UpDownCounter

	// 状态查询相关指标
	StatusEvaluationsTotal metric.Int64Counter
}

var (
	// 全局指标实例，未初始化时为 nil，所有 Record 方法对 nil 安全
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("squadcheck")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	m, err := newOTelMetrics(meter)
	if err != nil {
		return err
	}
	metrics = m
	return nil
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	var err error
	m := &OTelMetrics{}

	m.SweepChallengesTotal, err = meter.Int64Counter(
		"sweep_challenges_total",
		metric.WithDescription("Total number of challenge sweeps by outcome"),
		metric.WithUnit("{challenge}"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepDuration, err = meter.Float64Histogram(
		"sweep_duration_seconds",
		metric.WithDescription("Time spent sweeping one group in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepStrikesTotal, err = meter.Int64Counter(
		"sweep_strikes_total",
		metric.WithDescription("Total number of strikes applied"),
		metric.WithUnit("{strike}"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepEliminationsTotal, err = meter.Int64Counter(
		"sweep_eliminations_total",
		metric.WithDescription("Total number of members eliminated"),
		metric.WithUnit("{member}"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepEndedTotal, err = meter.Int64Counter(
		"sweep_challenges_ended_total",
		metric.WithDescription("Total number of challenges ended by sweeps"),
		metric.WithUnit("{challenge}"),
	)
	if err != nil {
		return nil, err
	}

	m.NotificationsTotal, err = meter.Int64Counter(
		"notifications_total",
		metric.WithDescription("Total number of notifications by kind and result"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepActiveChallenges, err = meter.Int64UpDownCounter(
		"sweep_active_challenges",
		metric.WithDescription("Number of challenges currently being swept"),
		metric.WithUnit("{challenge}"),
	)
	if err != nil {
		return nil, err
	}

	m.StatusEvaluationsTotal, err = meter.Int64Counter(
		"status_evaluations_total",
		metric.WithDescription("Total number of status evaluations by result"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// GetMetrics 获取全局指标实例
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordChallengeSwept 记录一次挑战结算，outcome: ok / skipped / locked / failed
func (m *OTelMetrics) RecordChallengeSwept(ctx context.Context, challengeType, outcome string) {
	if m == nil {
		return
	}
	m.SweepChallengesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("challenge_type", challengeType),
		attribute.String("outcome", outcome),
	))
}

// RecordGroupSweep 记录一个群组的结算耗时
func (m *OTelMetrics) RecordGroupSweep(ctx context.Context, challengeCount int, duration float64, failed bool) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "failed"
	}
	m.SweepDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("challenge_count", challengeCount),
	))
}

// RecordStrike 记录一次 strike，eliminated 表示本次导致出局
func (m *OTelMetrics) RecordStrike(ctx context.Context, eliminated bool) {
	if m == nil {
		return
	}
	m.SweepStrikesTotal.Add(ctx, 1)
	if eliminated {
		m.SweepEliminationsTotal.Add(ctx, 1)
	}
}

// RecordChallengeEnded 记录挑战结束，hasWinner 区分是否产生胜者
func (m *OTelMetrics) RecordChallengeEnded(ctx context.Context, challengeType string, hasWinner bool) {
	if m == nil {
		return
	}
	m.SweepEndedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("challenge_type", challengeType),
		attribute.Bool("has_winner", hasWinner),
	))
}

// RecordNotification 记录通知，result: sent / duplicate / failed
func (m *OTelMetrics) RecordNotification(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// AddActiveChallenge 增减正在结算的挑战数
func (m *OTelMetrics) AddActiveChallenge(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.SweepActiveChallenges.Add(ctx, delta)
}

// RecordStatusEvaluation 记录一次状态查询，status 为结果类别或错误码
func (m *OTelMetrics) RecordStatusEvaluation(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.StatusEvaluationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}
