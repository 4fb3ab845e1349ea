package schedule_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"
	"SquadCheck/internal/testutil"
)

func progressChallenge(id string, created time.Time, intervalDays int, label string) model.Challenge {
	return model.Challenge{
		ID:      id,
		GroupID: "g1",
		Type:    model.ChallengeTypeProgress,
		Cadence: model.Cadence{Unit: model.CadenceDaily, RequiredCount: 1},
		Due:     model.DueSpec{DueTimeLocal: "20:00", AdminTimeZone: "UTC"},
		Rules: model.ChallengeRules{Progress: model.ProgressRules{
			StartsAt: 20, IncreaseBy: 5, Comparison: model.ComparisonGTE,
			IntervalDays: intervalDays, IntervalLabel: label,
		}},
		CreatedAt: created,
	}
}

func TestIntervalIndex(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, schedule.IntervalIndex(created, created, 7))
	assert.Equal(t, 0, schedule.IntervalIndex(created, created.Add(7*24*time.Hour-time.Second), 7))
	assert.Equal(t, 1, schedule.IntervalIndex(created, created.Add(7*24*time.Hour), 7))
	assert.Equal(t, 2, schedule.IntervalIndex(created, created.Add(15*24*time.Hour), 7))
	assert.Equal(t, 0, schedule.IntervalIndex(created, created.Add(-3*24*time.Hour), 7))
	assert.Equal(t, 0, schedule.IntervalIndex(created, created.Add(30*24*time.Hour), 0))

	// 超大阶段天数不能让索引变成负数或乱值
	later := created.AddDate(5, 0, 0)
	assert.Equal(t, 0, schedule.IntervalIndex(created, later, 200000))
	assert.Equal(t, 0, schedule.IntervalIndex(created, later, math.MaxInt))
	assert.Equal(t, 1, schedule.IntervalIndex(created, later, 1000))
}

func TestProgression_FiresOncePerInterval(t *testing.T) {
	store := testutil.NewMemoryStore()
	// 12 天多：第 1 阶段
	store.AddChallenge(progressChallenge("p1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 7, ""))
	messenger := &testutil.MockMessenger{}
	sweeper := newSweeper(store, messenger, nil)

	ctx := context.Background()
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))

	msgs := messenger.ByKind(model.NotificationKindProgression)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].IntervalIndex)
	assert.Equal(t, "Target has increased", msgs[0].Notice.Text)
	assert.Equal(t, "g1", msgs[0].Notice.GroupID)

	exists, err := store.Exists(ctx, "g1_p1_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProgression_NeverFiresForFirstInterval(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(progressChallenge("p1", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 7, "Reps"))
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))
	assert.Empty(t, messenger.ByKind(model.NotificationKindProgression))
	assert.Equal(t, 0, store.GuardInsertions)
}

func TestProgression_NewIntervalFiresAgain(t *testing.T) {
	store := testutil.NewMemoryStore()
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.AddChallenge(progressChallenge("p1", created, 5, "Reps"))
	messenger := &testutil.MockMessenger{}

	ctx := context.Background()
	for _, days := range []int{6, 7, 11, 12} {
		now := created.Add(time.Duration(days) * 24 * time.Hour)
		sweeper := schedule.NewGroupSweeper(schedule.Deps{
			Challenges: store, CheckIns: store, Members: store,
			Mutations: store, Guards: store, Messenger: messenger,
		}, schedule.Options{Now: func() time.Time { return now }})
		require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	}

	msgs := messenger.ByKind(model.NotificationKindProgression)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].IntervalIndex)
	assert.Equal(t, 2, msgs[1].IntervalIndex)
	assert.Equal(t, "Reps has increased", msgs[1].Notice.Text)
}

func TestProgression_IgnoresOtherTypesAndMissingInterval(t *testing.T) {
	store := testutil.NewMemoryStore()
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	store.AddChallenge(progressChallenge("p1", created, 0, "Reps"))
	other := progressChallenge("s1", created, 7, "Reps")
	other.Type = model.ChallengeTypeStandard
	store.AddChallenge(other)
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))
	assert.Empty(t, messenger.ByKind(model.NotificationKindProgression))
}
