package status

import (
	"math"
	"time"

	"SquadCheck/internal/model"
	"SquadCheck/internal/period"
)

// ProgressTarget 递增型挑战的当前目标值：startsAt + increaseBy × 跨过的周边界数。
// 周边界按管理员时区的周键计算，不是天数 / 7
func ProgressTarget(ch *model.Challenge, now time.Time) float64 {
	rules := ch.Rules.Progress
	sched := period.FromChallenge(ch)
	weeks := sched.WeeksElapsed(ch.CreatedAt, now)
	return rules.StartsAt + rules.IncreaseBy*float64(weeks)
}

// MeetsProgressRequirement 按配置的比较方式判断数值是否达标，未配置时按 >=
func MeetsProgressRequirement(value, target float64, comparison model.Comparison) bool {
	if comparison == model.ComparisonLTE {
		return value <= target
	}
	return value >= target
}

// DeadlineSummary 截止型挑战的进度
type DeadlineSummary struct {
	Value    float64 `json:"value"`
	Target   float64 `json:"target"`
	Met      bool    `json:"met"`
	CheckIns int     `json:"check_ins"`
}

// DeadlineProgress 汇总成员在截止型挑战中的全部完成打卡。
// cumulative 求和；best 取最优值（lte 时越小越好）
func DeadlineProgress(ch *model.Challenge, userID string, checkIns []model.CheckIn) DeadlineSummary {
	rules := ch.Rules.Deadline
	summary := DeadlineSummary{Target: rules.TargetValue}

	best := math.Inf(-1)
	if rules.Comparison == model.ComparisonLTE {
		best = math.Inf(1)
	}

	for i := range checkIns {
		c := &checkIns[i]
		if c.ChallengeID != ch.ID || c.UserID != userID || !c.IsCompleted() {
			continue
		}
		v := numericValue(c)
		summary.CheckIns++

		switch rules.ProgressMode {
		case model.DeadlineProgressBest:
			if rules.Comparison == model.ComparisonLTE {
				best = math.Min(best, v)
			} else {
				best = math.Max(best, v)
			}
		default:
			summary.Value += v
		}
	}

	if rules.ProgressMode == model.DeadlineProgressBest {
		if summary.CheckIns == 0 {
			return summary
		}
		summary.Value = best
	}

	summary.Met = summary.CheckIns > 0 && MeetsProgressRequirement(summary.Value, summary.Target, rules.Comparison)
	return summary
}

// numericValue 打卡载荷折算成数值：number > timer(秒) > bool(1/0) > 其他计 1
func numericValue(c *model.CheckIn) float64 {
	switch {
	case c.NumberValue != nil:
		return *c.NumberValue
	case c.TimerSeconds != nil:
		return float64(*c.TimerSeconds)
	case c.BoolValue != nil:
		if *c.BoolValue {
			return 1
		}
		return 0
	default:
		return 1
	}
}
