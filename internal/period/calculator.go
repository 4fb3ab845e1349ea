// Package period 计算挑战的周期键（日键 / 周键）和每个周期的截止时刻。
//
// 周期键永远相对挑战管理员时区计算；不同时区或不同周起始日算出来的键不能互相比较。
package period

import (
	"encoding/json"
	"fmt"
	"time"

	"SquadCheck/internal/model"
	"SquadCheck/internal/wallclock"
	"SquadCheck/pkg/errors"
)

// Key 周期键：日周期为当天日期，周周期为该周起始日日期，序列化为 "YYYY-MM-DD"
type Key struct {
	Unit model.CadenceUnit
	Date wallclock.Date
}

func (k Key) String() string {
	return k.Date.String()
}

func (k Key) IsZero() bool {
	return k.Date.IsZero()
}

func (k Key) Equal(other Key) bool {
	return k.Unit == other.Unit && k.Date == other.Date
}

// Next 下一个周期
func (k Key) Next() Key {
	return Key{Unit: k.Unit, Date: k.Date.AddDays(k.length())}
}

// Prev 上一个周期
func (k Key) Prev() Key {
	return Key{Unit: k.Unit, Date: k.Date.AddDays(-k.length())}
}

// LastDay 周期的最后一天
func (k Key) LastDay() wallclock.Date {
	return k.Date.AddDays(k.length() - 1)
}

func (k Key) length() int {
	if k.Unit == model.CadenceWeekly {
		return 7
	}
	return 1
}

func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// CurrentDayKey now 时刻在 loc 下的日历日
func CurrentDayKey(loc *time.Location, now time.Time) wallclock.Date {
	return wallclock.InZone(now, loc).Date
}

// CurrentWeekKey now 所在周（按 loc 日历）中最近一个 weekStartsOn 的日期
func CurrentWeekKey(loc *time.Location, weekStartsOn time.Weekday, now time.Time) wallclock.Date {
	return WeekKeyFor(CurrentDayKey(loc, now), weekStartsOn)
}

// WeekKeyFor 日期所在周的起始日
func WeekKeyFor(day wallclock.Date, weekStartsOn time.Weekday) wallclock.Date {
	back := (int(day.Weekday()) - int(weekStartsOn) + 7) % 7
	return day.AddDays(-back)
}

// DueMomentForDay 某天 dueTimeLocal 对应的绝对时刻
func DueMomentForDay(loc *time.Location, day wallclock.Date, due wallclock.Clock) time.Time {
	return wallclock.ToInstant(day, due, loc)
}

// DueMomentForWeek 周截止时刻是该周最后一天（weekKey + 6 天）的 dueTimeLocal
func DueMomentForWeek(loc *time.Location, weekKey wallclock.Date, due wallclock.Clock) time.Time {
	return wallclock.ToInstant(weekKey.AddDays(6), due, loc)
}

// CurrentSubmissionPeriod 当前打卡应归属的周期。
// 日周期：今天的截止时刻一过，新打卡归到明天，而不是算作今天迟交；
// 周周期不会提前滚动；截止型挑战始终是当天日历日。
func (s Schedule) CurrentSubmissionPeriod(now time.Time) Key {
	today := CurrentDayKey(s.Location, now)

	if s.Unit == model.CadenceWeekly {
		return s.KeyForDate(today)
	}

	if !s.NoRollover && !now.Before(DueMomentForDay(s.Location, today, s.Due)) {
		today = today.AddDays(1)
	}
	return Key{Unit: model.CadenceDaily, Date: today}
}

// DueMoment 周期 k 的截止时刻
func (s Schedule) DueMoment(k Key) time.Time {
	if k.Unit == model.CadenceWeekly {
		return DueMomentForWeek(s.Location, k.Date, s.Due)
	}
	return DueMomentForDay(s.Location, k.Date, s.Due)
}

// NextDueInstant 当前打卡周期的截止时刻，用于倒计时和调度
func (s Schedule) NextDueInstant(now time.Time) time.Time {
	return s.DueMoment(s.CurrentSubmissionPeriod(now))
}

// PreviousPeriod 最近一个已经结束的周期
func (s Schedule) PreviousPeriod(now time.Time) Key {
	return s.CurrentSubmissionPeriod(now).Prev()
}

// KeyForDate 日期所属的周期键
func (s Schedule) KeyForDate(day wallclock.Date) Key {
	if s.Unit == model.CadenceWeekly {
		return Key{Unit: model.CadenceWeekly, Date: WeekKeyFor(day, s.WeekStartsOn)}
	}
	return Key{Unit: model.CadenceDaily, Date: day}
}

// ParseKey 解析调用方传入的周期键。周键必须落在 WeekStartsOn 上，否则视为非法
func (s Schedule) ParseKey(raw string) (Key, error) {
	date, err := wallclock.ParseDate(raw)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", errors.InvalidPeriodKey, raw)
	}

	if s.Unit == model.CadenceWeekly && date.Weekday() != s.WeekStartsOn {
		return Key{}, fmt.Errorf("%w: %q is a %s, week starts on %s",
			errors.InvalidPeriodKey, raw, date.Weekday(), s.WeekStartsOn)
	}

	return Key{Unit: s.Unit, Date: date}, nil
}

// WeeksElapsed 从 from 所在周到 to 所在周跨过的周边界数
func (s Schedule) WeeksElapsed(from, to time.Time) int {
	start := CurrentWeekKey(s.Location, s.WeekStartsOn, from)
	end := CurrentWeekKey(s.Location, s.WeekStartsOn, to)
	days := start.DaysUntil(end)
	if days <= 0 {
		return 0
	}
	return days / 7
}

// ClosedBefore 周期 k 的截止时刻不晚于 t，即 t 时刻该周期已经结束
func (s Schedule) ClosedBefore(k Key, t time.Time) bool {
	return !s.DueMoment(k).After(t)
}

// PrecedesCreation 挑战创建时周期 k 还没有打卡义务：周期起始日早于创建当天（管理员日历），
// 或者周期在创建时刻已经截止。周周期中创建前已开始的第一个不完整周也算在内
func (s Schedule) PrecedesCreation(k Key, createdAt time.Time) bool {
	return k.Date.Before(CurrentDayKey(s.Location, createdAt)) || s.ClosedBefore(k, createdAt)
}

// RequiredCountFor 周期内需要的完成次数，日周期固定为 1
func (s Schedule) RequiredCountFor(k Key) int {
	if k.Unit == model.CadenceWeekly {
		return s.RequiredCount
	}
	return 1
}
