package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"

	pkgerrors "SquadCheck/pkg/errors"
)

// Store 基于 GORM 的挑战 / 打卡 / 成员 / 幂等记录存储。
// 批量读打卡记录走只读副本，其余读写走主库
type Store struct {
	db *gorm.DB
}

var (
	_ schedule.ChallengeSource = (*Store)(nil)
	_ schedule.CheckInStore    = (*Store)(nil)
	_ schedule.MemberStore     = (*Store)(nil)
	_ schedule.MutationSink    = (*Store)(nil)
	_ schedule.GuardStore      = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ========== Challenge ==========

func (s *Store) ListSweepGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.db.WithContext(ctx).
		Model(&model.Challenge{}).
		Where("state = ?", model.ChallengeStateActive).
		Distinct().
		Order("group_id").
		Pluck("group_id", &groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep groups: %w", err)
	}
	return groups, nil
}

func (s *Store) ListChallengesByGroup(ctx context.Context, groupID string) ([]model.Challenge, error) {
	var challenges []model.Challenge
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND state = ?", groupID, model.ChallengeStateActive).
		Order("id").
		Find(&challenges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	return challenges, nil
}

func (s *Store) GetChallenge(ctx context.Context, challengeID string) (*model.Challenge, error) {
	var ch model.Challenge
	err := s.db.WithContext(ctx).Where("id = ?", challengeID).First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ChallengeNotFound
		}
		return nil, fmt.Errorf("failed to query challenge: %w", err)
	}
	return &ch, nil
}

// SetChallengeEnded 条件更新，只有 active 的挑战会被结束
func (s *Store) SetChallengeEnded(ctx context.Context, challengeID string, winnerID *string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&model.Challenge{}).
		Where("id = ? AND state = ?", challengeID, model.ChallengeStateActive).
		Updates(map[string]interface{}{
			"state":     model.ChallengeStateEnded,
			"winner_id": winnerID,
			"ended_at":  at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to end challenge: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ========== CheckIn ==========

func (s *Store) GetCheckInsForChallenges(ctx context.Context, challengeIDs []string) ([]model.CheckIn, error) {
	if len(challengeIDs) == 0 {
		return []model.CheckIn{}, nil
	}
	var checkIns []model.CheckIn
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("challenge_id IN ?", challengeIDs).
		Order("created_at, id").
		Find(&checkIns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	return checkIns, nil
}

// GetUserCheckIns 单个成员在挑战中的全部打卡
func (s *Store) GetUserCheckIns(ctx context.Context, challengeID, userID string) ([]model.CheckIn, error) {
	var checkIns []model.CheckIn
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		Order("created_at, id").
		Find(&checkIns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query user check-ins: %w", err)
	}
	return checkIns, nil
}

// ========== Member ==========

func (s *Store) GetActiveMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error) {
	var members []model.ChallengeMember
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("challenge_id = ? AND state = ?", challengeID, model.MemberStateActive).
		Order("user_id").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active members: %w", err)
	}
	return members, nil
}

func (s *Store) GetMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error) {
	var members []model.ChallengeMember
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("challenge_id = ?", challengeID).
		Order("user_id").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return members, nil
}

// GetMember 成员记录不存在时返回 nil
func (s *Store) GetMember(ctx context.Context, challengeID, userID string) (*model.ChallengeMember, error) {
	var members []model.ChallengeMember
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		Limit(1).
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return &members[0], nil
}

func (s *Store) GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	return ids, nil
}

// ApplyStrike 在一个事务里写 strike 流水并累加成员计数。
// 流水按 (challenge, user, period) 唯一，重复调用不会再次累加
func (s *Store) ApplyStrike(ctx context.Context, in schedule.StrikeInput) (schedule.StrikeResult, error) {
	var res schedule.StrikeResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.ChallengeMember{
			ChallengeID: in.ChallengeID,
			UserID:      in.UserID,
			State:       model.MemberStateActive,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to ensure member: %w", err)
		}

		// 锁住成员行，同一成员的并发结算串行执行
		var member model.ChallengeMember
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("challenge_id = ? AND user_id = ?", in.ChallengeID, in.UserID).
			First(&member).Error
		if err != nil {
			return fmt.Errorf("failed to lock member: %w", err)
		}

		strike := model.ChallengeStrike{
			ChallengeID: in.ChallengeID,
			UserID:      in.UserID,
			PeriodKey:   in.PeriodKey,
		}
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&strike)
		if inserted.Error != nil {
			return fmt.Errorf("failed to record strike: %w", inserted.Error)
		}
		if inserted.RowsAffected == 0 {
			res.Member = member
			return nil
		}

		member.Strikes++
		updates := map[string]interface{}{"strikes": member.Strikes}
		if member.Strikes > in.StrikesAllowed && !member.IsEliminated() {
			at := in.At
			member.State = model.MemberStateEliminated
			member.EliminatedAt = &at
			updates["state"] = member.State
			updates["eliminated_at"] = at
			res.Eliminated = true
		}

		if err := tx.Model(&model.ChallengeMember{}).Where("id = ?", member.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update member strikes: %w", err)
		}

		res.Applied = true
		res.Member = member
		return nil
	})
	if err != nil {
		return schedule.StrikeResult{}, err
	}
	return res, nil
}

// ========== NotificationGuard ==========

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.NotificationGuard{}).
		Where(&model.NotificationGuard{Key: key}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check guard: %w", err)
	}
	return count > 0, nil
}

// TryInsert 依赖唯一索引，插入成功返回 true，已存在返回 false
func (s *Store) TryInsert(ctx context.Context, key string) (bool, error) {
	guard := model.NotificationGuard{Key: key}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&guard)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert guard: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
