package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"
)

// MemoryStore 内存版存储，实现 schedule 包的 ChallengeSource / CheckInStore / MemberStore /
// MutationSink / GuardStore。Fail* 字段用于注入错误
type MemoryStore struct {
	mu           sync.Mutex
	Challenges   map[string]*model.Challenge
	CheckIns     []model.CheckIn
	Members      map[string]map[string]*model.ChallengeMember // challengeID -> userID
	GroupMembers map[string][]string
	Guards       map[string]struct{}
	Strikes      map[string]struct{}

	FailStrikeFor   map[string]error // challengeID -> err
	FailCheckIns    error
	CheckInReads    int
	EndedCalls      int
	GuardInsertions int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Challenges:    map[string]*model.Challenge{},
		Members:       map[string]map[string]*model.ChallengeMember{},
		GroupMembers:  map[string][]string{},
		Guards:        map[string]struct{}{},
		Strikes:       map[string]struct{}{},
		FailStrikeFor: map[string]error{},
	}
}

func (s *MemoryStore) AddChallenge(ch model.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.State == "" {
		ch.State = model.ChallengeStateActive
	}
	s.Challenges[ch.ID] = &ch
}

func (s *MemoryStore) AddGroupMembers(groupID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GroupMembers[groupID] = append(s.GroupMembers[groupID], userIDs...)
}

func (s *MemoryStore) AddMember(challengeID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberLocked(challengeID, userID)
}

func (s *MemoryStore) AddCheckIn(c model.CheckIn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CheckInStatusCompleted
	}
	s.CheckIns = append(s.CheckIns, c)
}

// Challenge 返回挑战的副本
func (s *MemoryStore) Challenge(id string) model.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Challenges[id]
}

// Member 返回成员记录的副本，不存在时返回零值
func (s *MemoryStore) Member(challengeID, userID string) model.ChallengeMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.Members[challengeID][userID]; ok {
		return *m
	}
	return model.ChallengeMember{}
}

func (s *MemoryStore) memberLocked(challengeID, userID string) *model.ChallengeMember {
	byUser, ok := s.Members[challengeID]
	if !ok {
		byUser = map[string]*model.ChallengeMember{}
		s.Members[challengeID] = byUser
	}
	m, ok := byUser[userID]
	if !ok {
		m = &model.ChallengeMember{ChallengeID: challengeID, UserID: userID, State: model.MemberStateActive}
		byUser[userID] = m
	}
	return m
}

func (s *MemoryStore) ListSweepGroups(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	groups := make([]string, 0)
	for _, ch := range s.Challenges {
		if ch.IsEnded() {
			continue
		}
		if _, ok := seen[ch.GroupID]; ok {
			continue
		}
		seen[ch.GroupID] = struct{}{}
		groups = append(groups, ch.GroupID)
	}
	sort.Strings(groups)
	return groups, nil
}

func (s *MemoryStore) ListChallengesByGroup(ctx context.Context, groupID string) ([]model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Challenge, 0)
	for _, ch := range s.Challenges {
		if ch.GroupID == groupID {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCheckInsForChallenges(ctx context.Context, challengeIDs []string) ([]model.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CheckInReads++
	if s.FailCheckIns != nil {
		return nil, s.FailCheckIns
	}
	wanted := map[string]struct{}{}
	for _, id := range challengeIDs {
		wanted[id] = struct{}{}
	}
	out := make([]model.CheckIn, 0)
	for _, c := range s.CheckIns {
		if _, ok := wanted[c.ChallengeID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetActiveMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChallengeMember, 0)
	for _, m := range s.sortedMembersLocked(challengeID) {
		if !m.IsEliminated() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedMembersLocked(challengeID), nil
}

func (s *MemoryStore) sortedMembersLocked(challengeID string) []model.ChallengeMember {
	out := make([]model.ChallengeMember, 0, len(s.Members[challengeID]))
	for _, m := range s.Members[challengeID] {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *MemoryStore) GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.GroupMembers[groupID]...), nil
}

func (s *MemoryStore) ApplyStrike(ctx context.Context, in schedule.StrikeInput) (schedule.StrikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailStrikeFor[in.ChallengeID]; err != nil {
		return schedule.StrikeResult{}, err
	}

	m := s.memberLocked(in.ChallengeID, in.UserID)
	key := in.ChallengeID + "|" + in.UserID + "|" + in.PeriodKey
	if _, ok := s.Strikes[key]; ok {
		return schedule.StrikeResult{Member: *m}, nil
	}
	s.Strikes[key] = struct{}{}

	m.Strikes++
	res := schedule.StrikeResult{Applied: true}
	if m.Strikes > in.StrikesAllowed && !m.IsEliminated() {
		at := in.At
		m.State = model.MemberStateEliminated
		m.EliminatedAt = &at
		res.Eliminated = true
	}
	res.Member = *m
	return res, nil
}

func (s *MemoryStore) SetChallengeEnded(ctx context.Context, challengeID string, winnerID *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndedCalls++
	ch, ok := s.Challenges[challengeID]
	if !ok || ch.IsEnded() {
		return false, nil
	}
	ch.State = model.ChallengeStateEnded
	ch.WinnerID = winnerID
	ch.EndedAt = &at
	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Guards[key]
	return ok, nil
}

func (s *MemoryStore) TryInsert(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Guards[key]; ok {
		return false, nil
	}
	s.Guards[key] = struct{}{}
	s.GuardInsertions++
	return true, nil
}

// SentMessage MockMessenger 记录的一条消息
type SentMessage struct {
	Kind          model.NotificationKind
	Notice        schedule.Notice
	Strikes       uint32
	Allowed       uint32
	IntervalIndex int
}

// MockMessenger 实现 schedule.Messenger 并记录调用
type MockMessenger struct {
	mu       sync.Mutex
	Messages []SentMessage
	Fail     error
}

func (m *MockMessenger) record(msg SentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockMessenger) SendEliminationMessage(ctx context.Context, n schedule.Notice) error {
	return m.record(SentMessage{Kind: model.NotificationKindEliminated, Notice: n})
}

func (m *MockMessenger) SendStrikeMessage(ctx context.Context, n schedule.Notice, strikes, allowed uint32) error {
	return m.record(SentMessage{Kind: model.NotificationKindStrike, Notice: n, Strikes: strikes, Allowed: allowed})
}

func (m *MockMessenger) SendWinnerMessage(ctx context.Context, n schedule.Notice) error {
	return m.record(SentMessage{Kind: model.NotificationKindWinner, Notice: n})
}

func (m *MockMessenger) SendGenericMissedMessage(ctx context.Context, n schedule.Notice) error {
	return m.record(SentMessage{Kind: model.NotificationKindMissed, Notice: n})
}

func (m *MockMessenger) SendProgressionMessage(ctx context.Context, n schedule.Notice, intervalIndex int) error {
	return m.record(SentMessage{Kind: model.NotificationKindProgression, Notice: n, IntervalIndex: intervalIndex})
}

// ByKind 按类别筛选已发送的消息
func (m *MockMessenger) ByKind(kind model.NotificationKind) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, 0)
	for _, msg := range m.Messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockMessenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// MockLocker 实现 schedule.Locker，Held 中的键视为被其他实例持有
type MockLocker struct {
	mu       sync.Mutex
	Held     map[string]bool
	Unlocked []string
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Held == nil {
		l.Held = map[string]bool{}
	}
	if l.Held[key] {
		return false, nil
	}
	l.Held[key] = true
	return true, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.Held, key)
	l.Unlocked = append(l.Unlocked, key)
	return nil
}
