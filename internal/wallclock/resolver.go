// Package wallclock 在绝对时刻与某个 IANA 时区的墙上时间之间互相换算。
//
// 时区规则来自 Go 自带的 tzdata（time.LoadLocation），这里只负责跨夏令时的两段式求解：
// 先用当天零点的偏移猜一个时刻，回算墙上时间校验，不一致再用猜测时刻实际生效的偏移重算。
//
// 春季跳变的空档时间（例如纽约 02:30 不存在）统一解析到空档之后的时刻（03:30 EDT）；
// 秋季回拨出现两次的时间取第一次出现。
package wallclock

import (
	"time"
)

// Civil 某时区下的墙上时间
type Civil struct {
	Date
	Hour      int
	Minute    int
	Second    int
	DayOfWeek time.Weekday
}

// Clock 返回分钟精度的墙上时间
func (c Civil) Clock() Clock {
	return Clock{Hour: c.Hour, Minute: c.Minute}
}

// InZone 把绝对时刻换算成 loc 下的墙上时间
func InZone(instant time.Time, loc *time.Location) Civil {
	t := instant.In(loc)
	return Civil{
		Date:      DateOf(t),
		Hour:      t.Hour(),
		Minute:    t.Minute(),
		Second:    t.Second(),
		DayOfWeek: t.Weekday(),
	}
}

// ToInstant 把 loc 下的 (date, clock) 换算成绝对时刻
func ToInstant(date Date, clock Clock, loc *time.Location) time.Time {
	// 把墙上时间当作 UTC 读出来，再减去偏移就是真实时刻
	naive := time.Date(date.Year, date.Month, date.Day, clock.Hour, clock.Minute, 0, 0, time.UTC)

	first := naive.Add(-time.Duration(offsetAtStartOfDay(date, loc)) * time.Second)
	if matches(first, date, clock, loc) {
		return first
	}

	_, guessOffset := first.In(loc).Zone()
	second := naive.Add(-time.Duration(guessOffset) * time.Second)
	if matches(second, date, clock, loc) {
		return second
	}

	// 两次都对不上：目标时间落在跳变空档里，取较晚的那个
	if second.After(first) {
		return second
	}
	return first
}

// offsetAtStartOfDay 当天本地零点生效的 UTC 偏移（秒）
func offsetAtStartOfDay(date Date, loc *time.Location) int {
	midnight := date.midnightUTC()
	_, approx := midnight.In(loc).Zone()
	_, offset := midnight.Add(-time.Duration(approx) * time.Second).In(loc).Zone()
	return offset
}

func matches(instant time.Time, date Date, clock Clock, loc *time.Location) bool {
	c := InZone(instant, loc)
	return c.Date == date && c.Hour == clock.Hour && c.Minute == clock.Minute
}
