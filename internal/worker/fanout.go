package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// Fanout consumes campaign_process and publishes one delivery task per
// audience member
type Fanout struct {
	campaigns repository.CampaignRepository
	customers repository.CustomerRepository
	publisher Publisher
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewFanout creates the fan-out stage. batchSize is the page size used to
// enumerate the audience.
func NewFanout(
	campaigns repository.CampaignRepository,
	customers repository.CustomerRepository,
	publisher Publisher,
	batchSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Fanout {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Fanout{
		campaigns: campaigns,
		customers: customers,
		publisher: publisher,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.With(zap.String("stage", "fanout")),
	}
}

// Handle implements queue.Handler
func (f *Fanout) Handle(ctx context.Context, d amqp.Delivery) error {
	var event models.CampaignEvent
	if err := queue.Decode(d, &event); err != nil {
		return err
	}
	_, err := f.FanOut(ctx, event)
	return err
}

// FanOut enumerates the audience again with the campaign's compiled filter
// and returns the number of tasks published. The count is not reconciled
// with the stored audience size.
func (f *Fanout) FanOut(ctx context.Context, event models.CampaignEvent) (int, error) {
	log := f.logger.With(zap.String("campaign_id", event.CampaignID.String()))

	campaign, err := f.campaigns.GetByID(ctx, event.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, queue.Permanent(fmt.Errorf("campaign %s not found", event.CampaignID))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status == models.CampaignStatusCompleted {
		log.Info("campaign already completed, skipping")
		return 0, nil
	}

	filter := rules.Compile(campaign.Rules, campaign.OwnerID)

	published := 0
	after := uuid.Nil
	for {
		page, err := f.customers.ListByFilter(ctx, filter, after, f.batchSize)
		if err != nil {
			return published, fmt.Errorf("failed to enumerate audience: %w", err)
		}

		for _, customer := range page {
			task := models.DeliveryTask{
				CampaignID: campaign.ID,
				CustomerID: customer.ID,
				OwnerID:    campaign.OwnerID,
			}
			if err := f.publisher.Publish(ctx, models.QueueCampaignDelivery, task); err != nil {
				return published, fmt.Errorf("failed to publish delivery task: %w", err)
			}
			published++
			f.metrics.TasksPublished.Inc()
		}

		if len(page) < f.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if published != campaign.Stats.AudienceSize {
		log.Warn("enumerated audience differs from resolved size",
			zap.Int("audience_size", campaign.Stats.AudienceSize),
			zap.Int("enumerated", published))
	}

	if published == 0 {
		done, err := f.campaigns.CompleteIfDone(ctx, campaign.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to complete empty campaign: %w", err)
		}
		if done {
			f.metrics.CampaignsCompleted.Inc()
			log.Info("campaign with empty audience completed")
		}
		return 0, nil
	}

	log.Info("fan-out finished", zap.Int("tasks", published))
	return published, nil
}
