package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

// Resolver consumes campaign_created. It sizes the audience, attaches
// advisory tags, moves the campaign to PROCESSING and emits campaign_process.
type Resolver struct {
	campaigns  repository.CampaignRepository
	customers  repository.CustomerRepository
	tagger     service.Tagger
	publisher  Publisher
	tagTimeout time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewResolver creates the audience resolver stage
func NewResolver(
	campaigns repository.CampaignRepository,
	customers repository.CustomerRepository,
	tagger service.Tagger,
	publisher Publisher,
	tagTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Resolver {
	if tagger == nil {
		tagger = service.NoopTagger{}
	}
	return &Resolver{
		campaigns:  campaigns,
		customers:  customers,
		tagger:     tagger,
		publisher:  publisher,
		tagTimeout: tagTimeout,
		metrics:    m,
		logger:     logger.With(zap.String("stage", "resolver")),
	}
}

// Handle implements queue.Handler
func (r *Resolver) Handle(ctx context.Context, d amqp.Delivery) error {
	var event models.CampaignEvent
	if err := queue.Decode(d, &event); err != nil {
		return err
	}
	return r.Resolve(ctx, event)
}

// Resolve runs audience resolution for one creation event. A redelivered
// event for a PROCESSING campaign re-emits campaign_process without touching
// the campaign; one for a COMPLETED campaign is acknowledged as is.
func (r *Resolver) Resolve(ctx context.Context, event models.CampaignEvent) error {
	log := r.logger.With(zap.String("campaign_id", event.CampaignID.String()))

	campaign, err := r.campaigns.GetByID(ctx, event.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("campaign %s not found", event.CampaignID))
	}
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to load campaign: %w", err))
	}

	if campaign.Status == models.CampaignStatusProcessing {
		// campaign_process may not have gone out after MarkProcessing
		// committed. Fan-out is idempotent per recipient, so emit it again.
		log.Info("campaign already processing, re-emitting campaign_process")
		return r.emitProcess(ctx, campaign.ID)
	}
	if campaign.Status.IsPastResolution() {
		log.Info("campaign already resolved, skipping", zap.String("status", string(campaign.Status)))
		return nil
	}

	filter := rules.Compile(campaign.Rules, campaign.OwnerID)
	if filter.Permissive {
		log.Warn("rule set contains unknown fields or operators, treated as no-op")
	}

	summary, err := r.customers.Summarize(ctx, filter)
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to size audience: %w", err))
	}

	tags := r.suggestTags(ctx, log, campaign, summary)

	moved, err := r.campaigns.MarkProcessing(ctx, campaign.ID, summary.Size, tags)
	if err != nil {
		return fmt.Errorf("failed to mark campaign processing: %w", err)
	}
	if !moved {
		log.Info("campaign resolved concurrently, skipping")
		return nil
	}
	r.metrics.CampaignsResolved.Inc()

	if err := r.emitProcess(ctx, campaign.ID); err != nil {
		return err
	}

	log.Info("audience resolved",
		zap.Int("audience_size", summary.Size),
		zap.Strings("tags", tags))

	return nil
}

func (r *Resolver) emitProcess(ctx context.Context, id uuid.UUID) error {
	if err := r.publisher.Publish(ctx, models.QueueCampaignProcess, models.CampaignEvent{CampaignID: id}); err != nil {
		return fmt.Errorf("failed to emit campaign_process: %w", err)
	}
	return nil
}

// suggestTags asks the tagger for advisory tags. Failures and timeouts yield
// no tags.
func (r *Resolver) suggestTags(ctx context.Context, log *zap.Logger, c *models.Campaign, summary *repository.AudienceSummary) []string {
	if r.tagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.tagTimeout)
		defer cancel()
	}

	tags, err := r.tagger.SuggestTags(ctx, service.TagRequest{
		Message:      c.Message,
		Rules:        c.Rules,
		AudienceSize: summary.Size,
		AvgSpend:     summary.AvgSpend,
	})
	if err != nil {
		r.metrics.TaggingFailures.Inc()
		log.Warn("tag generation failed", zap.Error(err))
		return []string{}
	}
	if len(tags) > service.MaxTags {
		tags = tags[:service.MaxTags]
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}
