package period

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/internal/wallclock"
	"SquadCheck/pkg/logger"
)

const (
	// 旧数据缺少时区 / 截止时间时的兜底值。会改变受影响用户打卡落在哪一天，必须打 warn
	DefaultTimeZone = "UTC"
	DefaultDueTime  = "23:59"
)

// Fallback 记录一次兜底替换
type Fallback struct {
	Field string
	Raw   string
	Used  string
}

// Schedule 计算周期所需的全部参数，已经过兜底处理
type Schedule struct {
	Location      *time.Location
	Due           wallclock.Clock
	Unit          model.CadenceUnit
	WeekStartsOn  time.Weekday
	RequiredCount int
	// NoRollover 截止型挑战的周期就是当天日历日，截止时间只约束最终截止时刻
	NoRollover bool
	Fallbacks  []Fallback
}

// Params 构造 Schedule 的原始字段
type Params struct {
	TimeZone      string
	DueTimeLocal  string
	Unit          model.CadenceUnit
	WeekStartsOn  int
	RequiredCount int
	NoRollover    bool
}

// NewSchedule 校验并兜底原始字段，永不返回错误
func NewSchedule(p Params) Schedule {
	s := Schedule{
		Unit:          p.Unit,
		RequiredCount: p.RequiredCount,
		NoRollover:    p.NoRollover,
	}

	zone := strings.TrimSpace(p.TimeZone)
	loc, err := time.LoadLocation(zone)
	// "Local" 取决于部署机器的时区，按无效处理
	if zone == "" || zone == "Local" || err != nil {
		s.Fallbacks = append(s.Fallbacks, Fallback{Field: "time_zone", Raw: p.TimeZone, Used: DefaultTimeZone})
		loc = time.UTC
	}
	s.Location = loc

	due, err := wallclock.ParseClock(p.DueTimeLocal)
	if err != nil {
		s.Fallbacks = append(s.Fallbacks, Fallback{Field: "due_time_local", Raw: p.DueTimeLocal, Used: DefaultDueTime})
		due, _ = wallclock.ParseClock(DefaultDueTime)
	}
	s.Due = due

	switch s.Unit {
	case model.CadenceDaily, model.CadenceWeekly:
	default:
		s.Fallbacks = append(s.Fallbacks, Fallback{Field: "cadence_unit", Raw: string(p.Unit), Used: string(model.CadenceDaily)})
		s.Unit = model.CadenceDaily
	}

	if p.WeekStartsOn < 0 || p.WeekStartsOn > 6 {
		s.Fallbacks = append(s.Fallbacks, Fallback{Field: "week_starts_on", Raw: strconv.Itoa(p.WeekStartsOn), Used: "0"})
		s.WeekStartsOn = time.Sunday
	} else {
		s.WeekStartsOn = time.Weekday(p.WeekStartsOn)
	}

	if s.RequiredCount < 1 {
		s.RequiredCount = 1
	}

	return s
}

// FromChallenge 从挑战定义构造 Schedule，兜底时打 warn 日志
func FromChallenge(ch *model.Challenge) Schedule {
	s := NewSchedule(Params{
		TimeZone:      ch.Due.AdminTimeZone,
		DueTimeLocal:  ch.Due.DueTimeLocal,
		Unit:          ch.Cadence.Unit,
		WeekStartsOn:  ch.Cadence.WeekStartsOn,
		RequiredCount: ch.Cadence.RequiredCount,
		NoRollover:    ch.Type == model.ChallengeTypeDeadline,
	})

	for _, fb := range s.Fallbacks {
		logger.Logger.Warn("Challenge schedule field invalid, using fallback",
			zap.String("challenge_id", ch.ID),
			zap.String("field", fb.Field),
			zap.String("raw", fb.Raw),
			zap.String("fallback", fb.Used),
		)
	}

	return s
}

// FellBack 是否发生过兜底
func (s Schedule) FellBack() bool {
	return len(s.Fallbacks) > 0
}
