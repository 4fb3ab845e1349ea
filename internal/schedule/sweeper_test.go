package schedule_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"
	"SquadCheck/internal/testutil"
	"SquadCheck/pkg/logger"
)

// 2024-03-13 20:00 UTC 截止已过：当前周期 03-14，上一个周期 03-13
var sweepNow = time.Date(2024, 3, 13, 21, 0, 0, 0, time.UTC)

func eliminationChallenge(id, groupID string, strikesAllowed uint32) model.Challenge {
	return model.Challenge{
		ID:        id,
		GroupID:   groupID,
		Title:     "Morning run",
		Type:      model.ChallengeTypeElimination,
		Cadence:   model.Cadence{Unit: model.CadenceDaily, RequiredCount: 1},
		Due:       model.DueSpec{DueTimeLocal: "20:00", AdminTimeZone: "UTC"},
		Rules:     model.ChallengeRules{Elimination: model.EliminationRules{StrikesAllowed: strikesAllowed, EliminateOn: "missed"}},
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func completed(challengeID, userID, day string) model.CheckIn {
	return model.CheckIn{
		BaseModel:   model.BaseModel{CreatedAt: sweepNow.Add(-6 * time.Hour)},
		ChallengeID: challengeID,
		UserID:      userID,
		PeriodUnit:  model.CadenceDaily,
		DayKey:      day,
		Status:      model.CheckInStatusCompleted,
	}
}

func newSweeper(store *testutil.MemoryStore, messenger *testutil.MockMessenger, locker schedule.Locker) *schedule.GroupSweeper {
	return schedule.NewGroupSweeper(schedule.Deps{
		Challenges: store,
		CheckIns:   store,
		Members:    store,
		Mutations:  store,
		Guards:     store,
		Messenger:  messenger,
		Locker:     locker,
	}, schedule.Options{
		Concurrency: 4,
		Now:         func() time.Time { return sweepNow },
	})
}

func TestSweep_StrikesAreIdempotent(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 2))
	store.AddGroupMembers("g1", "u1", "u2", "u3", "u4", "u5")
	for _, u := range []string{"u1", "u2", "u3"} {
		store.AddCheckIn(completed("c1", u, "2024-03-13"))
	}
	messenger := &testutil.MockMessenger{}
	sweeper := newSweeper(store, messenger, &testutil.MockLocker{})

	ctx := context.Background()
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))

	for _, u := range []string{"u4", "u5"} {
		m := store.Member("c1", u)
		assert.Equal(t, uint32(1), m.Strikes, u)
		assert.Equal(t, model.MemberStateActive, m.State, u)
	}
	assert.Equal(t, uint32(0), store.Member("c1", "u1").Strikes)

	strikes := messenger.ByKind(model.NotificationKindStrike)
	require.Len(t, strikes, 2)
	assert.Equal(t, 2, messenger.Count())
	assert.Equal(t, uint32(1), strikes[0].Strikes)
	assert.Equal(t, uint32(2), strikes[0].Allowed)
	assert.Equal(t, "2024-03-13", strikes[0].Notice.PeriodKey)
	assert.Equal(t, "g1", strikes[0].Notice.GroupID)
	assert.Contains(t, strikes[0].Notice.Text, "strike 1 of 2, 1 remaining")

	assert.Equal(t, model.ChallengeStateActive, store.Challenge("c1").State)
}

func TestSweep_StrikesAccumulateAcrossPeriods(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 1))
	store.AddGroupMembers("g1", "u1", "u2", "u3")
	store.AddCheckIn(completed("c1", "u1", "2024-03-12"))
	store.AddCheckIn(completed("c1", "u1", "2024-03-13"))
	store.AddCheckIn(completed("c1", "u2", "2024-03-12"))
	store.AddCheckIn(completed("c1", "u2", "2024-03-13"))
	messenger := &testutil.MockMessenger{}

	ctx := context.Background()
	for _, now := range []time.Time{sweepNow.Add(-24 * time.Hour), sweepNow} {
		sweeper := schedule.NewGroupSweeper(schedule.Deps{
			Challenges: store, CheckIns: store, Members: store,
			Mutations: store, Guards: store, Messenger: messenger,
		}, schedule.Options{Now: func() time.Time { return now }})
		require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	}

	// 两个周期各漏一次：strike 2 > 1，出局
	m := store.Member("c1", "u3")
	assert.Equal(t, uint32(2), m.Strikes)
	assert.True(t, m.IsEliminated())
	require.NotNil(t, m.EliminatedAt)
	assert.Equal(t, sweepNow, *m.EliminatedAt)

	assert.Len(t, messenger.ByKind(model.NotificationKindStrike), 1)
	eliminated := messenger.ByKind(model.NotificationKindEliminated)
	require.Len(t, eliminated, 1)
	assert.Equal(t, "u3", eliminated[0].Notice.UserID)

	// 还剩两人，挑战继续
	assert.Equal(t, model.ChallengeStateActive, store.Challenge("c1").State)
}

func TestSweep_SoleSurvivorWins(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 0))
	store.AddGroupMembers("g1", "u1", "u2", "u3")
	store.AddCheckIn(completed("c1", "u1", "2024-03-13"))
	messenger := &testutil.MockMessenger{}
	sweeper := newSweeper(store, messenger, nil)

	ctx := context.Background()
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))

	ch := store.Challenge("c1")
	assert.Equal(t, model.ChallengeStateEnded, ch.State)
	require.NotNil(t, ch.WinnerID)
	assert.Equal(t, "u1", *ch.WinnerID)
	require.NotNil(t, ch.EndedAt)

	assert.Len(t, messenger.ByKind(model.NotificationKindEliminated), 2)
	winners := messenger.ByKind(model.NotificationKindWinner)
	require.Len(t, winners, 1)
	assert.Equal(t, "u1", winners[0].Notice.UserID)

	// 已结束的挑战不再结算
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	assert.Equal(t, 3, messenger.Count())
	assert.Equal(t, 1, store.EndedCalls)
}

func TestSweep_NoSurvivorsEndsWithoutWinner(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 0))
	store.AddGroupMembers("g1", "u1", "u2")
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))

	ch := store.Challenge("c1")
	assert.Equal(t, model.ChallengeStateEnded, ch.State)
	assert.Nil(t, ch.WinnerID)
	assert.Empty(t, messenger.ByKind(model.NotificationKindWinner))
}

func TestSweep_SingleMemberWithoutEliminationKeepsRunning(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 3))
	store.AddGroupMembers("g1", "u1")
	store.AddCheckIn(completed("c1", "u1", "2024-03-13"))

	require.NoError(t, newSweeper(store, &testutil.MockMessenger{}, nil).SweepGroup(context.Background(), "g1"))
	assert.Equal(t, model.ChallengeStateActive, store.Challenge("c1").State)
	assert.Equal(t, 0, store.EndedCalls)
}

func TestSweep_FailingChallengeDoesNotBlockSiblings(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 2))
	store.AddChallenge(eliminationChallenge("c2", "g1", 2))
	store.AddGroupMembers("g1", "u1", "u2")
	store.FailStrikeFor["c1"] = stderrors.New("connection reset")
	messenger := &testutil.MockMessenger{}

	err := newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1")
	assert.NotContains(t, err.Error(), "challenge c2")

	assert.Equal(t, uint32(1), store.Member("c2", "u1").Strikes)
	assert.Equal(t, uint32(1), store.Member("c2", "u2").Strikes)
	assert.Len(t, messenger.ByKind(model.NotificationKindStrike), 2)

	failed := logs.FilterMessage("Challenge sweep failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "c1", failed[0].ContextMap()["challenge_id"])
}

func TestSweep_ReadsCheckInsOncePerGroup(t *testing.T) {
	store := testutil.NewMemoryStore()
	for _, id := range []string{"c1", "c2", "c3"} {
		store.AddChallenge(eliminationChallenge(id, "g1", 5))
	}
	store.AddGroupMembers("g1", "u1")

	require.NoError(t, newSweeper(store, &testutil.MockMessenger{}, nil).SweepGroup(context.Background(), "g1"))
	assert.Equal(t, 1, store.CheckInReads)
}

func TestSweep_CheckInReadFailure(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 1))
	store.FailCheckIns = stderrors.New("replica unavailable")

	err := newSweeper(store, &testutil.MockMessenger{}, nil).SweepGroup(context.Background(), "g1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica unavailable")
}

func TestSweep_GenericMissedForOtherTypes(t *testing.T) {
	store := testutil.NewMemoryStore()
	ch := eliminationChallenge("c1", "g1", 0)
	ch.Type = model.ChallengeTypeStandard
	store.AddChallenge(ch)
	store.AddGroupMembers("g1", "u1", "u2")
	store.AddCheckIn(completed("c1", "u1", "2024-03-13"))
	messenger := &testutil.MockMessenger{}
	sweeper := newSweeper(store, messenger, nil)

	ctx := context.Background()
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))

	missed := messenger.ByKind(model.NotificationKindMissed)
	require.Len(t, missed, 1)
	assert.Equal(t, "u2", missed[0].Notice.UserID)
	assert.Equal(t, "2024-03-13", missed[0].Notice.PeriodKey)
	assert.Equal(t, 1, messenger.Count())

	// 非淘汰赛不记 strike
	assert.Equal(t, uint32(0), store.Member("c1", "u2").Strikes)
	assert.Equal(t, model.ChallengeStateActive, store.Challenge("c1").State)
}

func TestSweep_SkipsPeriodsBeforeCreation(t *testing.T) {
	store := testutil.NewMemoryStore()
	ch := eliminationChallenge("c1", "g1", 0)
	ch.CreatedAt = time.Date(2024, 3, 13, 20, 30, 0, 0, time.UTC)
	store.AddChallenge(ch)
	store.AddGroupMembers("g1", "u1", "u2")
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))
	assert.Equal(t, 0, messenger.Count())
	assert.Equal(t, uint32(0), store.Member("c1", "u1").Strikes)
}

func TestSweep_SkipsPartialWeekBeforeCreation(t *testing.T) {
	store := testutil.NewMemoryStore()
	ch := eliminationChallenge("c1", "g1", 0)
	ch.Cadence = model.Cadence{Unit: model.CadenceWeekly, RequiredCount: 1, WeekStartsOn: 1}
	// 周三创建；上一周 2024-03-04 在创建前已开始，截止时刻 03-10 却在创建之后
	ch.CreatedAt = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	store.AddChallenge(ch)
	store.AddGroupMembers("g1", "u1", "u2")
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))
	assert.Equal(t, 0, messenger.Count())
	assert.Equal(t, uint32(0), store.Member("c1", "u1").Strikes)
	ended := store.Challenge("c1")
	assert.False(t, ended.IsEnded())
}

func TestSweep_WeeklyRequiresCount(t *testing.T) {
	store := testutil.NewMemoryStore()
	ch := eliminationChallenge("c1", "g1", 3)
	ch.Cadence = model.Cadence{Unit: model.CadenceWeekly, RequiredCount: 2, WeekStartsOn: 1}
	store.AddChallenge(ch)
	store.AddGroupMembers("g1", "u1", "u2")

	// 上一周 2024-03-04；u1 完成两次，u2 只完成一次
	for _, u := range []string{"u1", "u1", "u2"} {
		c := completed("c1", u, "")
		c.PeriodUnit = model.CadenceWeekly
		c.WeekKey = "2024-03-04"
		store.AddCheckIn(c)
	}
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))
	assert.Equal(t, uint32(0), store.Member("c1", "u1").Strikes)
	assert.Equal(t, uint32(1), store.Member("c1", "u2").Strikes)

	strikes := messenger.ByKind(model.NotificationKindStrike)
	require.Len(t, strikes, 1)
	assert.Equal(t, "2024-03-04", strikes[0].Notice.PeriodKey)
}

func TestSweep_DeadlineChallengeEndsAfterDeadline(t *testing.T) {
	store := testutil.NewMemoryStore()
	open := eliminationChallenge("open", "g1", 0)
	open.Type = model.ChallengeTypeDeadline
	open.Due.DeadlineDate = "2024-03-20"
	closed := open
	closed.ID = "closed"
	closed.Due.DeadlineDate = "2024-03-12"
	store.AddChallenge(open)
	store.AddChallenge(closed)
	store.AddGroupMembers("g1", "u1")
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, nil).SweepGroup(context.Background(), "g1"))

	assert.Equal(t, model.ChallengeStateActive, store.Challenge("open").State)
	assert.Equal(t, model.ChallengeStateEnded, store.Challenge("closed").State)
	assert.Nil(t, store.Challenge("closed").WinnerID)
	// 截止型挑战不按周期发漏打卡
	assert.Equal(t, 0, messenger.Count())
}

func TestSweep_LockedChallengeIsSkipped(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 0))
	store.AddChallenge(eliminationChallenge("c2", "g1", 5))
	store.AddGroupMembers("g1", "u1")
	locker := &testutil.MockLocker{Held: map[string]bool{"sweep:c1": true}}
	messenger := &testutil.MockMessenger{}

	require.NoError(t, newSweeper(store, messenger, locker).SweepGroup(context.Background(), "g1"))

	assert.Equal(t, uint32(0), store.Member("c1", "u1").Strikes)
	assert.Equal(t, uint32(1), store.Member("c2", "u1").Strikes)
	assert.Equal(t, []string{"sweep:c2"}, locker.Unlocked)
	assert.True(t, locker.Held["sweep:c1"])
}

func TestSweep_MessengerFailureDoesNotResend(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 2))
	store.AddGroupMembers("g1", "u1")
	messenger := &testutil.MockMessenger{Fail: stderrors.New("broker down")}
	sweeper := newSweeper(store, messenger, nil)

	ctx := context.Background()
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	assert.Equal(t, 1, store.GuardInsertions)

	messenger.Fail = nil
	require.NoError(t, sweeper.SweepGroup(ctx, "g1"))
	assert.Equal(t, 0, messenger.Count())
	assert.Equal(t, uint32(1), store.Member("c1", "u1").Strikes)
}

func TestSweepAll_CoversUngroupedChallenges(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddChallenge(eliminationChallenge("c1", "g1", 2))
	store.AddGroupMembers("g1", "u1")
	store.AddChallenge(eliminationChallenge("solo", "", 2))
	store.AddMember("solo", "u7")
	store.AddMember("solo", "u8")
	store.AddCheckIn(completed("solo", "u7", "2024-03-13"))
	messenger := &testutil.MockMessenger{}
	sweeper := newSweeper(store, messenger, nil)

	require.NoError(t, sweeper.SweepAll(context.Background()))

	assert.Equal(t, uint32(1), store.Member("c1", "u1").Strikes)
	assert.Equal(t, uint32(0), store.Member("solo", "u7").Strikes)
	assert.Equal(t, uint32(1), store.Member("solo", "u8").Strikes)
	assert.Equal(t, sweepNow, sweeper.LastSweep())
	assert.Equal(t, 2, store.CheckInReads)
}
