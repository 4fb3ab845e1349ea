package schedule

// 结算调度器：按群组批量读取打卡记录，群组内挑战并发结算（淘汰结算 + 阶段提升通知）

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"SquadCheck/internal/model"
	"SquadCheck/pkg/logger"
	"SquadCheck/pkg/metrics"

	pkgerrors "SquadCheck/pkg/errors"
)

const (
	defaultConcurrency = 8
	defaultLockTTL     = 2 * time.Minute
)

// Deps 调度器依赖的外部存储和消息出口。Locker 可为空（单实例部署）
type Deps struct {
	Challenges ChallengeSource
	CheckIns   CheckInStore
	Members    MemberStore
	Mutations  MutationSink
	Guards     GuardStore
	Messenger  Messenger
	Locker     Locker
}

// Options 调度参数
type Options struct {
	Concurrency int
	LockTTL     time.Duration
	Now         func() time.Time
}

type GroupSweeper struct {
	challenges  ChallengeSource
	checkIns    CheckInStore
	locker      Locker
	elimination *EliminationSweeper
	progression *ProgressionNotifier
	opts        Options
	logger      *zap.Logger
	metrics     *metrics.OTelMetrics
	tracer      trace.Tracer

	sweepRunning bool
	sweepMu      sync.Mutex
	lastSweep    time.Time
}

func NewGroupSweeper(deps Deps, opts Options) *GroupSweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	n := &notifier{
		guards:    deps.Guards,
		messenger: deps.Messenger,
		logger:    logger.Logger,
		metrics:   metrics.GetMetrics(),
	}

	return &GroupSweeper{
		challenges: deps.Challenges,
		checkIns:   deps.CheckIns,
		locker:     deps.Locker,
		elimination: &EliminationSweeper{
			members:   deps.Members,
			mutations: deps.Mutations,
			notifier:  n,
			logger:    logger.Logger,
			metrics:   metrics.GetMetrics(),
		},
		progression: &ProgressionNotifier{
			notifier: n,
			logger:   logger.Logger,
		},
		opts:    opts,
		logger:  logger.Logger,
		metrics: metrics.GetMetrics(),
		tracer:  otel.Tracer("squadcheck/schedule"),
	}
}

// LastSweep 最近一次 SweepAll 的开始时间
func (s *GroupSweeper) LastSweep() time.Time {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.lastSweep
}

// SweepAll 结算所有仍有进行中挑战的群组。上一轮未结束时直接跳过
func (s *GroupSweeper) SweepAll(ctx context.Context) error {
	s.sweepMu.Lock()
	if s.sweepRunning {
		s.sweepMu.Unlock()
		s.logger.Info("Sweep already running, skipping")
		return nil
	}
	s.sweepRunning = true
	s.lastSweep = s.opts.Now()
	s.sweepMu.Unlock()

	defer func() {
		s.sweepMu.Lock()
		s.sweepRunning = false
		s.sweepMu.Unlock()
	}()

	run := Run{ID: uuid.NewString(), Now: s.opts.Now()}

	s.logger.Info("Starting challenge sweep",
		zap.String("run_id", run.ID),
		zap.Time("now", run.Now),
	)

	groups, err := s.challenges.ListSweepGroups(ctx)
	if err != nil {
		s.logger.Error("Failed to list sweep groups", zap.Error(err))
		return fmt.Errorf("failed to list sweep groups: %w", err)
	}

	errs := make([]error, 0)
	for _, groupID := range groups {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.sweepGroup(ctx, run, groupID); err != nil {
			errs = append(errs, fmt.Errorf("group %q: %w", groupID, err))
		}
	}

	s.logger.Info("Challenge sweep finished",
		zap.String("run_id", run.ID),
		zap.Int("group_count", len(groups)),
		zap.Int("failed_group_count", len(errs)),
	)

	return errors.Join(errs...)
}

// SweepGroup 结算单个群组
func (s *GroupSweeper) SweepGroup(ctx context.Context, groupID string) error {
	return s.sweepGroup(ctx, Run{ID: uuid.NewString(), Now: s.opts.Now()}, groupID)
}

func (s *GroupSweeper) sweepGroup(ctx context.Context, run Run, groupID string) error {
	startTime := time.Now()

	challenges, err := s.challenges.ListChallengesByGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to list challenges: %w", err)
	}

	active := make([]*model.Challenge, 0, len(challenges))
	ids := make([]string, 0, len(challenges))
	for i := range challenges {
		if challenges[i].IsEnded() {
			continue
		}
		active = append(active, &challenges[i])
		ids = append(ids, challenges[i].ID)
	}
	if len(active) == 0 {
		return nil
	}

	// 每个群组只读一次打卡记录
	checkIns, err := s.checkIns.GetCheckInsForChallenges(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load check-ins: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.Concurrency)
	errs := make([]error, 0)
	errsMu := sync.Mutex{}

	for _, ch := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("challenge %s: %w", ch.ID, ctx.Err()))
				errsMu.Unlock()
				return
			}
			defer func() { <-sem }()

			err := s.sweepChallenge(ctx, run, ch, checkIns)
			if errors.Is(err, pkgerrors.SweepLocked) {
				s.logger.Info("Challenge sweep locked by another worker, skipping",
					zap.String("run_id", run.ID),
					zap.String("challenge_id", ch.ID),
				)
				return
			}
			if err != nil {
				// 单个挑战失败不影响同组其他挑战
				s.logger.Error("Challenge sweep failed",
					zap.String("run_id", run.ID),
					zap.String("group_id", groupID),
					zap.String("challenge_id", ch.ID),
					zap.Error(err),
				)
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("challenge %s: %w", ch.ID, err))
				errsMu.Unlock()
			}
		}()
	}

	wg.Wait()

	duration := time.Since(startTime)
	s.metrics.RecordGroupSweep(ctx, len(active), duration.Seconds(), len(errs) > 0)

	s.logger.Info("Group sweep finished",
		zap.String("run_id", run.ID),
		zap.String("group_id", groupID),
		zap.Int("challenge_count", len(active)),
		zap.Int("check_in_count", len(checkIns)),
		zap.Int("failed_count", len(errs)),
		zap.Duration("duration", duration),
	)

	return errors.Join(errs...)
}

func (s *GroupSweeper) sweepChallenge(ctx context.Context, run Run, ch *model.Challenge, checkIns []model.CheckIn) (err error) {
	ctx, span := s.tracer.Start(ctx, "schedule.SweepChallenge", trace.WithAttributes(
		attribute.String("sweep.run_id", run.ID),
		attribute.String("challenge.id", ch.ID),
		attribute.String("challenge.type", string(ch.Type)),
		attribute.String("group.id", ch.GroupID),
	))
	defer func() {
		if err != nil && !errors.Is(err, pkgerrors.SweepLocked) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.locker != nil {
		lockKey := "sweep:" + ch.ID
		locked, lockErr := s.locker.TryLock(ctx, lockKey, s.opts.LockTTL)
		if lockErr != nil {
			s.metrics.RecordChallengeSwept(ctx, string(ch.Type), "failed")
			return fmt.Errorf("failed to acquire sweep lock: %w", lockErr)
		}
		if !locked {
			s.metrics.RecordChallengeSwept(ctx, string(ch.Type), "locked")
			return pkgerrors.SweepLocked
		}
		defer func() {
			if unlockErr := s.locker.Unlock(context.WithoutCancel(ctx), lockKey); unlockErr != nil {
				s.logger.Warn("Failed to release sweep lock",
					zap.String("challenge_id", ch.ID),
					zap.Error(unlockErr),
				)
			}
		}()
	}

	s.metrics.AddActiveChallenge(ctx, 1)
	defer s.metrics.AddActiveChallenge(ctx, -1)

	res, sweepErr := s.elimination.Sweep(ctx, run, ch, checkIns)
	span.SetAttributes(
		attribute.String("sweep.period_key", res.PeriodKey),
		attribute.Int("sweep.missed", len(res.Missed)),
		attribute.Int("sweep.eliminated", len(res.Eliminated)),
		attribute.Bool("sweep.ended", res.Ended),
	)

	var progressErr error
	if !res.Ended {
		_, progressErr = s.progression.Notify(ctx, run, ch)
	}

	err = errors.Join(sweepErr, progressErr)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Skipped != "":
		outcome = "skipped"
	}
	s.metrics.RecordChallengeSwept(ctx, string(ch.Type), outcome)

	if err == nil {
		s.logger.Debug("Challenge swept",
			zap.String("run_id", run.ID),
			zap.String("challenge_id", ch.ID),
			zap.String("period_key", res.PeriodKey),
			zap.String("skipped", res.Skipped),
			zap.Int("missed_count", len(res.Missed)),
			zap.Int("notified_count", res.Notified),
		)
	}

	return err
}
