package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/lock"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
)

// SchedulerLockKey is the Redis key claimed for one scheduler tick
const SchedulerLockKey = "campaign-scheduler:tick"

// Scheduler promotes due SCHEDULED campaigns to PENDING
type Scheduler struct {
	campaigns repository.CampaignRepository
	publisher Publisher
	locker    lock.Locker
	interval  time.Duration
	lockTTL   time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. A nil locker runs without a claim lock.
func NewScheduler(
	campaigns repository.CampaignRepository,
	publisher Publisher,
	locker lock.Locker,
	cfg config.PipelineConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	return &Scheduler{
		campaigns: campaigns,
		publisher: publisher,
		locker:    locker,
		interval:  cfg.SchedulerInterval,
		lockTTL:   cfg.SchedulerLockTTL,
		batchSize: cfg.SchedulerBatchSize,
		metrics:   m,
		logger:    logger.With(zap.String("stage", "scheduler")),
		now:       time.Now,
	}
}

// Run ticks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick promotes every campaign due at the current time and returns how many
// were promoted. The creation event is emitted before the status update; the
// resolver tolerates seeing the campaign still SCHEDULED.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	token, ok, err := s.locker.TryAcquire(ctx, SchedulerLockKey, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Debug("tick claimed by another instance")
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), SchedulerLockKey, token); err != nil {
			s.logger.Warn("failed to release scheduler lock", zap.Error(err))
		}
	}()

	due, err := s.campaigns.FindDueScheduled(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find due campaigns: %w", err)
	}

	promoted := 0
	for _, c := range due {
		log := s.logger.With(zap.String("campaign_id", c.ID.String()))

		if err := s.publisher.Publish(ctx, models.QueueCampaignCreated, models.CampaignEvent{CampaignID: c.ID}); err != nil {
			log.Error("failed to emit creation event", zap.Error(err))
			continue
		}

		moved, err := s.campaigns.TransitionStatus(ctx, c.ID,
			[]models.CampaignStatus{models.CampaignStatusScheduled}, models.CampaignStatusPending)
		if err != nil {
			log.Error("failed to promote campaign", zap.Error(err))
			continue
		}
		if !moved {
			log.Info("campaign already left SCHEDULED")
			continue
		}

		promoted++
		s.metrics.CampaignsPromoted.Inc()
		log.Info("scheduled campaign promoted")
	}

	return promoted, nil
}
