package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/vendor"
)

// Vendor call results recorded in metrics
const (
	vendorAccepted = "accepted"
	vendorRejected = "rejected"
	vendorError    = "error"
)

// DispatcherOptions tunes the dispatch stage
type DispatcherOptions struct {
	VendorTimeout time.Duration
	// CampaignCacheTTL bounds how long a loaded campaign is reused. Zero
	// disables the cache.
	CampaignCacheTTL time.Duration
}

// Dispatcher consumes campaign_delivery. It records one communication log per
// recipient and submits the personalized message to the vendor.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	customers repository.CustomerRepository
	logs      repository.CommunicationLogRepository
	templates *service.TemplateService
	vendor    vendor.Client
	publisher Publisher
	cache     *cache.Cache
	opts      DispatcherOptions
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates the dispatch stage
func NewDispatcher(
	campaigns repository.CampaignRepository,
	customers repository.CustomerRepository,
	logs repository.CommunicationLogRepository,
	templates *service.TemplateService,
	client vendor.Client,
	publisher Publisher,
	opts DispatcherOptions,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	var c *cache.Cache
	if opts.CampaignCacheTTL > 0 {
		c = cache.New(opts.CampaignCacheTTL, 2*opts.CampaignCacheTTL)
	}
	return &Dispatcher{
		campaigns: campaigns,
		customers: customers,
		logs:      logs,
		templates: templates,
		vendor:    client,
		publisher: publisher,
		cache:     c,
		opts:      opts,
		metrics:   m,
		logger:    logger.With(zap.String("stage", "dispatch")),
		now:       time.Now,
	}
}

// Handle implements queue.Handler
func (d *Dispatcher) Handle(ctx context.Context, del amqp.Delivery) error {
	var task models.DeliveryTask
	if err := queue.Decode(del, &task); err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// Dispatch delivers one task. Redelivered tasks whose log was already handed
// to the vendor, or already has an outcome, are acknowledged without a second
// vendor call.
func (d *Dispatcher) Dispatch(ctx context.Context, task models.DeliveryTask) error {
	if !task.Valid() {
		return queue.Permanent(errors.New("delivery task is missing campaignId, customerId or ownerId"))
	}

	log := d.logger.With(
		zap.String("campaign_id", task.CampaignID.String()),
		zap.String("customer_id", task.CustomerID.String()))

	campaign, err := d.campaign(ctx, task.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("campaign %s not found", task.CampaignID))
	}
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	customer, err := d.customers.GetByID(ctx, task.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("customer no longer exists, recording failure")
		return d.recordUnreachable(ctx, log, task, nil, "")
	}
	if err != nil {
		return fmt.Errorf("failed to load customer: %w", err)
	}

	message, err := d.templates.Render(campaign.Message, customer)
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to render message: %w", err))
	}

	commLog, created, err := d.logs.CreatePending(ctx, &models.CommunicationLog{
		CampaignID:        task.CampaignID,
		OwnerID:           task.OwnerID,
		CustomerID:        task.CustomerID,
		CustomerNumericID: &customer.CustomerID,
		Message:           message,
	})
	if err != nil {
		return fmt.Errorf("failed to create communication log: %w", err)
	}
	if !commLog.NeedsDispatch() {
		log.Info("recipient already dispatched, skipping",
			zap.String("comm_log_id", commLog.ID.String()),
			zap.String("status", string(commLog.Status)))
		return nil
	}
	if !created {
		log.Info("retrying dispatch for existing log", zap.String("comm_log_id", commLog.ID.String()))
	}

	return d.submit(ctx, log, task, commLog)
}

func (d *Dispatcher) submit(ctx context.Context, log *zap.Logger, task models.DeliveryTask, commLog *models.CommunicationLog) error {
	log = log.With(zap.String("comm_log_id", commLog.ID.String()))

	callCtx := ctx
	if d.opts.VendorTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.VendorTimeout)
		defer cancel()
	}

	_, err := d.vendor.Submit(callCtx, vendor.Request{
		CampaignID: task.CampaignID,
		CustomerID: task.CustomerID,
		OwnerID:    task.OwnerID,
		CommLogID:  commLog.ID,
		Message:    commLog.Message,
	})
	if vendor.IsRejected(err) {
		d.metrics.VendorCalls.WithLabelValues(vendorRejected).Inc()
		log.Warn("vendor rejected message, recording failure", zap.Error(err))
		return d.recordUnreachable(ctx, log, task, commLog, commLog.Message)
	}
	if err != nil {
		d.metrics.VendorCalls.WithLabelValues(vendorError).Inc()
		return fmt.Errorf("vendor submit failed: %w", err)
	}
	d.metrics.VendorCalls.WithLabelValues(vendorAccepted).Inc()

	// The receipt will settle the log either way; a failed flag update only
	// risks a second submission on redelivery.
	if err := d.logs.MarkSubmitted(ctx, commLog.ID); err != nil {
		log.Warn("failed to mark log submitted", zap.Error(err))
	}

	log.Debug("message submitted to vendor")
	return nil
}

// recordUnreachable settles a recipient that cannot be delivered to. The
// failure travels as a FAILED receipt for the recipient's log, so it is
// counted once by the receipt batcher like any vendor outcome. commLog is
// created when nil, with no message and a NULL customer_numeric_id.
func (d *Dispatcher) recordUnreachable(ctx context.Context, log *zap.Logger, task models.DeliveryTask, commLog *models.CommunicationLog, message string) error {
	if commLog == nil {
		var err error
		commLog, _, err = d.logs.CreatePending(ctx, &models.CommunicationLog{
			CampaignID: task.CampaignID,
			OwnerID:    task.OwnerID,
			CustomerID: task.CustomerID,
			Message:    message,
		})
		if err != nil {
			return fmt.Errorf("failed to create communication log: %w", err)
		}
		if !commLog.NeedsDispatch() {
			return nil
		}
	}

	now := d.now().UTC()
	receipt := models.DeliveryReceipt{
		VendorMessageID: models.VendorMessageID(commLog.ID),
		CampaignID:      task.CampaignID,
		CustomerID:      task.CustomerID,
		Status:          models.DeliveryStatusFailed,
		Timestamp:       &now,
	}
	if err := d.publisher.Publish(ctx, models.QueueDeliveryReceipts, receipt); err != nil {
		return fmt.Errorf("failed to publish failure receipt: %w", err)
	}

	if err := d.logs.MarkSubmitted(ctx, commLog.ID); err != nil {
		log.Warn("failed to mark log submitted", zap.Error(err))
	}
	return nil
}

// campaign loads a campaign through the in-process cache. Only immutable
// fields (message, owner) are read from the cached copy.
func (d *Dispatcher) campaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	if d.cache != nil {
		if c, ok := d.cache.Get(id.String()); ok {
			return c.(*models.Campaign), nil
		}
	}

	c, err := d.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		d.cache.SetDefault(id.String(), c)
	}
	return c, nil
}
