package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/internal/period"
	"SquadCheck/internal/repository"
	"SquadCheck/internal/status"
	"SquadCheck/pkg/logger"
	"SquadCheck/pkg/metrics"
	"SquadCheck/storage/database"

	pkgerrors "SquadCheck/pkg/errors"
)

// ChallengeReader 状态查询需要的只读数据
type ChallengeReader interface {
	GetChallenge(ctx context.Context, challengeID string) (*model.Challenge, error)
	GetUserCheckIns(ctx context.Context, challengeID, userID string) ([]model.CheckIn, error)
	GetMembers(ctx context.Context, challengeID string) ([]model.ChallengeMember, error)
}

// StatusResult 成员在某个周期的状态
type StatusResult struct {
	ChallengeID    string                  `json:"challenge_id"`
	UserID         string                  `json:"user_id"`
	Status         status.View             `json:"status"`
	Summary        string                  `json:"summary"`
	ProgressTarget *float64                `json:"progress_target,omitempty"`
	Deadline       *status.DeadlineSummary `json:"deadline,omitempty"`
}

// PeriodResult 挑战当前的打卡周期
type PeriodResult struct {
	ChallengeID       string    `json:"challenge_id"`
	Unit              string    `json:"unit"`
	PeriodKey         string    `json:"period_key"`
	PreviousPeriodKey string    `json:"previous_period_key"`
	DueAt             time.Time `json:"due_at"`
	TimeRemaining     string    `json:"time_remaining"`
	TimeZone          string    `json:"time_zone"`
	Fallback          bool      `json:"fallback,omitempty"`
}

type ChallengeService struct {
	reader ChallengeReader
	now    func() time.Time
}

var (
	challengeService *ChallengeService
	challengeOnce    sync.Once
)

// Challenge 基于主库 / 只读副本的默认实例
func Challenge() *ChallengeService {
	challengeOnce.Do(func() {
		challengeService = NewChallengeService(repository.NewStore(database.DB()), time.Now)
	})
	return challengeService
}

func NewChallengeService(reader ChallengeReader, now func() time.Time) *ChallengeService {
	if now == nil {
		now = time.Now
	}
	return &ChallengeService{reader: reader, now: now}
}

// GetStatus 查询成员在 periodKey（为空时取当前周期）的状态
func (s *ChallengeService) GetStatus(ctx context.Context, challengeID, userID, periodKey string) (*StatusResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.InvalidUserID
	}

	ch, err := s.reader.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	checkIns, err := s.reader.GetUserCheckIns(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}

	members, err := s.reader.GetMembers(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	st, err := status.Evaluate(status.Input{
		Challenge:       ch,
		UserID:          userID,
		CheckIns:        checkIns,
		Members:         members,
		RequestedPeriod: periodKey,
		Now:             now,
	})
	if err != nil {
		var def pkgerrors.Definition
		if errors.As(err, &def) {
			metrics.GetMetrics().RecordStatusEvaluation(ctx, def.Code)
		}
		logger.Logger.Warn("Failed to evaluate status",
			zap.String("challenge_id", challengeID),
			zap.String("user_id", userID),
			zap.String("period", periodKey),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.GetMetrics().RecordStatusEvaluation(ctx, string(st.Kind()))

	if periodKey == "" {
		periodKey = period.FromChallenge(ch).CurrentSubmissionPeriod(now).String()
	}

	result := &StatusResult{
		ChallengeID: ch.ID,
		UserID:      userID,
		Status:      status.Describe(st, periodKey),
		Summary:     status.Summary(st),
	}

	switch ch.Type {
	case model.ChallengeTypeProgress:
		target := status.ProgressTarget(ch, now)
		result.ProgressTarget = &target
	case model.ChallengeTypeDeadline:
		summary := status.DeadlineProgress(ch, userID, checkIns)
		result.Deadline = &summary
	}

	return result, nil
}

// GetCurrentPeriod 当前打卡周期及其截止时刻
func (s *ChallengeService) GetCurrentPeriod(ctx context.Context, challengeID string) (*PeriodResult, error) {
	ch, err := s.reader.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sched := period.FromChallenge(ch)
	current := sched.CurrentSubmissionPeriod(now)
	due := sched.DueMoment(current)

	return &PeriodResult{
		ChallengeID:       ch.ID,
		Unit:              string(current.Unit),
		PeriodKey:         current.String(),
		PreviousPeriodKey: sched.PreviousPeriod(now).String(),
		DueAt:             due.UTC(),
		TimeRemaining:     status.FormatRemaining(due.Sub(now)),
		TimeZone:          sched.Location.String(),
		Fallback:          sched.FellBack(),
	}, nil
}
