package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SquadCheck/internal/model"
	"SquadCheck/internal/status"
	"SquadCheck/pkg/errors"
)

var (
	created = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // 周一
	noon    = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
)

type fakeReader struct {
	challenges map[string]*model.Challenge
	checkIns   []model.CheckIn
	members    []model.ChallengeMember
	err        error
}

func (f *fakeReader) GetChallenge(ctx context.Context, challengeID string) (*model.Challenge, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch, ok := f.challenges[challengeID]
	if !ok {
		return nil, errors.ChallengeNotFound
	}
	return ch, nil
}

func (f *fakeReader) GetUserCheckIns(ctx context.Context, challengeID, userID string) ([]model.CheckIn, error) {
	out := make([]model.CheckIn, 0)
	for _, c := range f.checkIns {
		if c.ChallengeID == challengeID && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeReader) GetMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error) {
	return f.members, nil
}

func newService(r *fakeReader) *ChallengeService {
	return NewChallengeService(r, func() time.Time { return noon })
}

func challenge(id string, typ model.ChallengeType) *model.Challenge {
	return &model.Challenge{
		ID:        id,
		Type:      typ,
		Cadence:   model.Cadence{Unit: model.CadenceDaily, RequiredCount: 1},
		Due:       model.DueSpec{DueTimeLocal: "20:00", AdminTimeZone: "UTC"},
		State:     model.ChallengeStateActive,
		CreatedAt: created,
	}
}

func numberCheckIn(challengeID, user, day string, v float64, at time.Time) model.CheckIn {
	return model.CheckIn{
		BaseModel:   model.BaseModel{ID: at.Unix(), CreatedAt: at},
		ChallengeID: challengeID,
		UserID:      user,
		PeriodUnit:  model.CadenceDaily,
		DayKey:      day,
		NumberValue: &v,
		Status:      model.CheckInStatusCompleted,
	}
}

func TestGetStatus_CurrentPeriodPending(t *testing.T) {
	svc := newService(&fakeReader{challenges: map[string]*model.Challenge{
		"c1": challenge("c1", model.ChallengeTypeStandard),
	}})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	require.NoError(t, err)

	assert.Equal(t, status.KindPending, res.Status.Status)
	assert.Equal(t, "2024-03-13", res.Status.PeriodKey)
	assert.Equal(t, "8h 0m", res.Status.TimeRemaining)
	assert.Equal(t, "8h 0m remaining", res.Summary)
	assert.Nil(t, res.ProgressTarget)
	assert.Nil(t, res.Deadline)
}

func TestGetStatus_CompletedCheckIn(t *testing.T) {
	at := noon.Add(-time.Hour)
	svc := newService(&fakeReader{
		challenges: map[string]*model.Challenge{"c1": challenge("c1", model.ChallengeTypeStandard)},
		checkIns:   []model.CheckIn{numberCheckIn("c1", "u1", "2024-03-13", 1, at)},
	})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	require.NoError(t, err)

	assert.Equal(t, status.KindCompleted, res.Status.Status)
	require.NotNil(t, res.Status.CompletedAt)
	assert.True(t, res.Status.CompletedAt.Equal(at))
}

func TestGetStatus_PastPeriodMissed(t *testing.T) {
	svc := newService(&fakeReader{challenges: map[string]*model.Challenge{
		"c1": challenge("c1", model.ChallengeTypeStandard),
	}})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "2024-03-12")
	require.NoError(t, err)

	assert.Equal(t, status.KindMissed, res.Status.Status)
	assert.Equal(t, "2024-03-12", res.Status.PeriodKey)
	require.NotNil(t, res.Status.MissedAt)
	assert.True(t, res.Status.MissedAt.Equal(time.Date(2024, 3, 12, 20, 0, 0, 0, time.UTC)))
}

func TestGetStatus_ProgressTarget(t *testing.T) {
	ch := challenge("c1", model.ChallengeTypeProgress)
	ch.Rules.Progress = model.ProgressRules{StartsAt: 10, IncreaseBy: 5, Comparison: model.ComparisonGTE}
	svc := newService(&fakeReader{challenges: map[string]*model.Challenge{"c1": ch}})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	require.NoError(t, err)

	// 2023-12-31 所在周到 2024-03-10 所在周跨过 10 个周边界
	require.NotNil(t, res.ProgressTarget)
	assert.Equal(t, 60.0, *res.ProgressTarget)
}

func TestGetStatus_DeadlineSummary(t *testing.T) {
	ch := challenge("c1", model.ChallengeTypeDeadline)
	ch.Due.DeadlineDate = "2024-03-20"
	ch.Rules.Deadline = model.DeadlineRules{
		TargetValue:  100,
		Comparison:   model.ComparisonGTE,
		ProgressMode: model.DeadlineProgressCumulative,
	}
	svc := newService(&fakeReader{
		challenges: map[string]*model.Challenge{"c1": ch},
		checkIns: []model.CheckIn{
			numberCheckIn("c1", "u1", "2024-03-11", 30, noon.Add(-48*time.Hour)),
			numberCheckIn("c1", "u1", "2024-03-12", 50, noon.Add(-24*time.Hour)),
			numberCheckIn("c1", "u2", "2024-03-12", 70, noon.Add(-24*time.Hour)),
		},
	})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	require.NoError(t, err)

	require.NotNil(t, res.Deadline)
	assert.Equal(t, status.DeadlineSummary{Value: 80, Target: 100, Met: false, CheckIns: 2}, *res.Deadline)

	// 截止型挑战的倒计时指向最终截止时刻
	assert.Equal(t, status.KindPending, res.Status.Status)
	assert.Equal(t, "176h 0m", res.Status.TimeRemaining)
}

func TestGetStatus_Eliminated(t *testing.T) {
	svc := newService(&fakeReader{
		challenges: map[string]*model.Challenge{"c1": challenge("c1", model.ChallengeTypeElimination)},
		members: []model.ChallengeMember{
			{ChallengeID: "c1", UserID: "u1", State: model.MemberStateEliminated, Strikes: 3},
		},
	})

	res, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	require.NoError(t, err)

	assert.Equal(t, status.KindEliminated, res.Status.Status)
	require.NotNil(t, res.Status.Strikes)
	assert.Equal(t, uint32(3), *res.Status.Strikes)
	assert.Equal(t, "eliminated after 3 strikes", res.Summary)
}

func TestGetStatus_Errors(t *testing.T) {
	r := &fakeReader{challenges: map[string]*model.Challenge{
		"c1":  challenge("c1", model.ChallengeTypeStandard),
		"bad": challenge("bad", model.ChallengeType("marathon")),
	}}
	svc := newService(r)
	ctx := context.Background()

	tests := []struct {
		name        string
		challengeID string
		userID      string
		period      string
		want        error
	}{
		{name: "blank user", challengeID: "c1", userID: "  ", want: errors.InvalidUserID},
		{name: "unknown challenge", challengeID: "nope", userID: "u1", want: errors.ChallengeNotFound},
		{name: "malformed period", challengeID: "c1", userID: "u1", period: "2024-13-01", want: errors.InvalidPeriodKey},
		{name: "unknown type", challengeID: "bad", userID: "u1", want: errors.ChallengeTypeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetStatus(ctx, tt.challengeID, tt.userID, tt.period)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGetStatus_ReaderFailure(t *testing.T) {
	boom := stderrors.New("connection reset")
	svc := newService(&fakeReader{err: boom})

	_, err := svc.GetStatus(context.Background(), "c1", "u1", "")
	assert.ErrorIs(t, err, boom)
}

func TestGetCurrentPeriod_DailyRollsOverAfterDue(t *testing.T) {
	svc := NewChallengeService(&fakeReader{challenges: map[string]*model.Challenge{
		"c1": challenge("c1", model.ChallengeTypeStandard),
	}}, func() time.Time { return time.Date(2024, 3, 13, 21, 30, 0, 0, time.UTC) })

	res, err := svc.GetCurrentPeriod(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, "daily", res.Unit)
	assert.Equal(t, "2024-03-14", res.PeriodKey)
	assert.Equal(t, "2024-03-13", res.PreviousPeriodKey)
	assert.True(t, res.DueAt.Equal(time.Date(2024, 3, 14, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, "22h 30m", res.TimeRemaining)
	assert.Equal(t, "UTC", res.TimeZone)
	assert.False(t, res.Fallback)
}

func TestGetCurrentPeriod_WeeklyAndFallback(t *testing.T) {
	ch := challenge("c1", model.ChallengeTypeStandard)
	ch.Cadence = model.Cadence{Unit: model.CadenceWeekly, RequiredCount: 3, WeekStartsOn: 1}
	ch.Due.AdminTimeZone = "Mars/Olympus"
	svc := newService(&fakeReader{challenges: map[string]*model.Challenge{"c1": ch}})

	res, err := svc.GetCurrentPeriod(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, "weekly", res.Unit)
	assert.Equal(t, "2024-03-11", res.PeriodKey)
	assert.Equal(t, "2024-03-04", res.PreviousPeriodKey)
	assert.True(t, res.Fallback)
}

func TestGetCurrentPeriod_NotFound(t *testing.T) {
	svc := newService(&fakeReader{})

	_, err := svc.GetCurrentPeriod(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ChallengeNotFound)
}
