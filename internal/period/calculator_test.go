package period

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SquadCheck/internal/model"
	"SquadCheck/internal/wallclock"
	"SquadCheck/pkg/errors"
)

func daily(tz, due string) Schedule {
	return NewSchedule(Params{TimeZone: tz, DueTimeLocal: due, Unit: model.CadenceDaily})
}

func weekly(tz, due string, weekStartsOn int) Schedule {
	return NewSchedule(Params{TimeZone: tz, DueTimeLocal: due, Unit: model.CadenceWeekly, WeekStartsOn: weekStartsOn})
}

func date(t *testing.T, s string) wallclock.Date {
	t.Helper()
	d, err := wallclock.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestCurrentDayKey_AdminZoneNotViewerZone(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	tokyo, _ := time.LoadLocation("Asia/Tokyo")

	now := time.Date(2024, 3, 10, 5, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-10", CurrentDayKey(ny, now).String())
	assert.Equal(t, "2024-03-10", CurrentDayKey(tokyo, now).String())

	now = time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-09", CurrentDayKey(ny, now).String())
	assert.Equal(t, "2024-03-10", CurrentDayKey(tokyo, now).String())
}

func TestCurrentWeekKey(t *testing.T) {
	// 2024-03-13 是周三
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-11", CurrentWeekKey(time.UTC, time.Monday, now).String())
	assert.Equal(t, "2024-03-10", CurrentWeekKey(time.UTC, time.Sunday, now).String())
	assert.Equal(t, "2024-03-13", CurrentWeekKey(time.UTC, time.Wednesday, now).String())
	assert.Equal(t, "2024-03-07", CurrentWeekKey(time.UTC, time.Thursday, now).String())
}

func TestDueMomentForWeek_IsLastDayOfWeek(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	due := wallclock.Clock{Hour: 20, Minute: 0}

	got := DueMomentForWeek(ny, date(t, "2024-03-04"), due)
	// 2024-03-10 20:00 EDT
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), got.UTC())
}

func TestCurrentSubmissionPeriod_DailyRollover(t *testing.T) {
	s := daily("America/New_York", "21:00")

	before := time.Date(2024, 6, 1, 0, 59, 0, 0, time.UTC) // 2024-05-31 20:59 EDT
	assert.Equal(t, "2024-05-31", s.CurrentSubmissionPeriod(before).String())

	atDue := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC) // 21:00 EDT 整点即滚动
	assert.Equal(t, "2024-06-01", s.CurrentSubmissionPeriod(atDue).String())

	assert.Equal(t, time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC), s.NextDueInstant(atDue).UTC())
	assert.Equal(t, "2024-05-31", s.PreviousPeriod(atDue).String())
}

func TestCurrentSubmissionPeriod_WeeklyNeverRollsEarly(t *testing.T) {
	s := weekly("UTC", "18:00", 1)

	// 周日 20:00，已过本周截止时刻但仍在本周
	now := time.Date(2024, 3, 17, 20, 0, 0, 0, time.UTC)
	key := s.CurrentSubmissionPeriod(now)
	assert.Equal(t, model.CadenceWeekly, key.Unit)
	assert.Equal(t, "2024-03-11", key.String())
	assert.Equal(t, "2024-03-04", s.PreviousPeriod(now).String())

	monday := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-18", s.CurrentSubmissionPeriod(monday).String())
}

func TestCurrentSubmissionPeriod_DeadlineNoRollover(t *testing.T) {
	s := NewSchedule(Params{TimeZone: "UTC", DueTimeLocal: "08:00", Unit: model.CadenceDaily, NoRollover: true})

	now := time.Date(2024, 3, 13, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-13", s.CurrentSubmissionPeriod(now).String())
}

// 每跨过一次截止时刻，周期恰好前进一天；DST 当天也按截止时刻计数，而不是按 24 小时块
func TestCurrentSubmissionPeriod_AdvancesOncePerDueCrossingAcrossDST(t *testing.T) {
	for _, tc := range []struct {
		zone  string
		due   string
		start time.Time
	}{
		{"America/New_York", "23:59", time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)},
		{"America/New_York", "01:30", time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)},
		{"Europe/London", "00:30", time.Date(2024, 3, 29, 12, 0, 0, 0, time.UTC)},
		{"Australia/Sydney", "02:30", time.Date(2024, 10, 4, 12, 0, 0, 0, time.UTC)},
	} {
		s := daily(tc.zone, tc.due)
		end := tc.start.Add(5 * 24 * time.Hour)

		origin := s.CurrentSubmissionPeriod(tc.start)
		next := s.NextDueInstant(tc.start)
		prev := origin
		crossings, advances := 0, 0

		for now := tc.start; now.Before(end); now = now.Add(5 * time.Minute) {
			for !now.Before(next) {
				crossings++
				next = s.DueMoment(Key{Unit: model.CadenceDaily, Date: origin.Date.AddDays(crossings)})
			}
			cur := s.CurrentSubmissionPeriod(now)
			if !cur.Equal(prev) {
				assert.Equal(t, prev.Date.AddDays(1), cur.Date, tc.zone)
				advances++
				prev = cur
			}
		}

		assert.Equal(t, crossings, advances, tc.zone)
		assert.Equal(t, 5, advances, tc.zone)
	}
}

func TestNewSchedule_Fallbacks(t *testing.T) {
	s := NewSchedule(Params{TimeZone: "", DueTimeLocal: "", Unit: model.CadenceDaily})
	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, wallclock.Clock{Hour: 23, Minute: 59}, s.Due)
	require.Len(t, s.Fallbacks, 2)
	assert.True(t, s.FellBack())

	s = NewSchedule(Params{TimeZone: "Mars/Olympus_Mons", DueTimeLocal: "25:00", Unit: "hourly", WeekStartsOn: 9})
	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, model.CadenceDaily, s.Unit)
	assert.Equal(t, time.Sunday, s.WeekStartsOn)
	assert.Equal(t, 1, s.RequiredCount)
	assert.Len(t, s.Fallbacks, 4)

	s = weekly("Asia/Tokyo", "07:15", 1)
	assert.False(t, s.FellBack())
}

// 兜底会改变打卡落在哪一天：东京 08:00 在 UTC 兜底下仍是前一天
func TestFallbackTimeZoneChangesDayKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC) // 东京 2024-03-10 08:00

	tokyo := daily("Asia/Tokyo", "22:00")
	legacy := daily("", "22:00")

	assert.Equal(t, "2024-03-10", tokyo.CurrentSubmissionPeriod(now).String())
	assert.Equal(t, "2024-03-10", legacy.CurrentSubmissionPeriod(now).String()) // 22:00 UTC 已过，滚到次日

	legacy = daily("", "")
	assert.Equal(t, "2024-03-09", legacy.CurrentSubmissionPeriod(now).String())
}

func TestParseKey(t *testing.T) {
	s := weekly("UTC", "20:00", 1)

	k, err := s.ParseKey("2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, model.CadenceWeekly, k.Unit)

	_, err = s.ParseKey("2024-03-12")
	assert.True(t, stderrors.Is(err, errors.InvalidPeriodKey))

	_, err = daily("UTC", "20:00").ParseKey("03/12/2024")
	assert.True(t, stderrors.Is(err, errors.InvalidPeriodKey))
}

func TestKey_JSON(t *testing.T) {
	k := Key{Unit: model.CadenceDaily, Date: date(t, "2024-01-05")}
	b, err := k.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-05"`, string(b))
	assert.Equal(t, "2024-01-04", k.Prev().String())
	assert.Equal(t, "2024-01-06", k.Next().String())

	w := Key{Unit: model.CadenceWeekly, Date: date(t, "2024-01-01")}
	assert.Equal(t, "2024-01-07", w.LastDay().String())
	assert.Equal(t, "2024-01-08", w.Next().String())
}

func TestWeeksElapsed(t *testing.T) {
	s := weekly("UTC", "20:00", 1)
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // 周一

	assert.Equal(t, 0, s.WeeksElapsed(created, time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, s.WeeksElapsed(created, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 3, s.WeeksElapsed(created, time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, s.WeeksElapsed(created, created.Add(-48*time.Hour)))

	// 周日创建，周一开周：隔一天就跨过一个边界
	sunday := time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, s.WeeksElapsed(sunday, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
}

func TestPrecedesCreation(t *testing.T) {
	created := time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC) // 周三

	w := weekly("UTC", "18:00", 1)
	assert.True(t, w.PrecedesCreation(Key{Unit: model.CadenceWeekly, Date: date(t, "2024-03-11")}, created))
	assert.False(t, w.PrecedesCreation(Key{Unit: model.CadenceWeekly, Date: date(t, "2024-03-18")}, created))

	d := daily("UTC", "08:00")
	// 当天的截止时刻早于创建时刻
	assert.True(t, d.PrecedesCreation(Key{Unit: model.CadenceDaily, Date: date(t, "2024-03-13")}, created))
	assert.True(t, d.PrecedesCreation(Key{Unit: model.CadenceDaily, Date: date(t, "2024-03-12")}, created))
	assert.False(t, d.PrecedesCreation(Key{Unit: model.CadenceDaily, Date: date(t, "2024-03-14")}, created))

	// 创建当天按管理员时区算：东京已是 03-14
	tokyo := daily("Asia/Tokyo", "23:00")
	late := time.Date(2024, 3, 13, 16, 0, 0, 0, time.UTC)
	assert.True(t, tokyo.PrecedesCreation(Key{Unit: model.CadenceDaily, Date: date(t, "2024-03-13")}, late))
	assert.False(t, tokyo.PrecedesCreation(Key{Unit: model.CadenceDaily, Date: date(t, "2024-03-14")}, late))
}
