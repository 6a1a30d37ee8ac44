package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// Publisher publishes a JSON message to a named queue
type Publisher interface {
	Publish(ctx context.Context, queueName string, v interface{}) error
}

// CampaignService handles campaign intake and the receipt callback
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	customerRepo repository.CustomerRepository
	logRepo      repository.CommunicationLogRepository
	templateSvc  *TemplateService
	publisher    Publisher
	logger       *zap.Logger
	now          func() time.Time
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	customerRepo repository.CustomerRepository,
	logRepo repository.CommunicationLogRepository,
	templateSvc *TemplateService,
	publisher Publisher,
	logger *zap.Logger,
) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignService{
		campaignRepo: campaignRepo,
		customerRepo: customerRepo,
		logRepo:      logRepo,
		templateSvc:  templateSvc,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateCampaign validates and stores a campaign. Immediate campaigns are
// enqueued for audience resolution right away; scheduled ones wait for the
// scheduler.
func (s *CampaignService) CreateCampaign(ctx context.Context, ownerID uuid.UUID, req *CreateCampaignRequest) (*models.Campaign, error) {
	now := s.now()

	campaign := req.toCampaign(ownerID)
	if err := campaign.Validate(now); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := rules.Validate(campaign.Rules); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid rules: %v", err)}
	}
	if err := s.templateSvc.ValidateTemplate(campaign.Message); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if unknown := s.templateSvc.UnknownPlaceholders(campaign.Message); len(unknown) > 0 {
		s.logger.Info("message has unknown placeholders", zap.Strings("placeholders", unknown))
	}

	campaign.Status = campaign.InitialStatus(now)

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	if campaign.Status == models.CampaignStatusPending {
		event := models.CampaignEvent{CampaignID: campaign.ID}
		if err := s.publisher.Publish(ctx, models.QueueCampaignCreated, event); err != nil {
			s.logger.Error("campaign stored but not enqueued",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Error(err))
			return nil, &UnavailableError{Dependency: "queue", Err: err}
		}
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("status", string(campaign.Status)))

	return campaign, nil
}

// GetCampaign returns an owner's campaign with its delivery breakdown
func (s *CampaignService) GetCampaign(ctx context.Context, ownerID, id uuid.UUID) (*models.CampaignWithDeliveries, error) {
	campaign, err := s.campaignRepo.GetByIDForOwner(ctx, id, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	breakdown, err := s.logRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery breakdown: %w", err)
	}

	return &models.CampaignWithDeliveries{
		Campaign:   *campaign,
		Deliveries: *breakdown,
	}, nil
}

// ListCampaigns returns one page of an owner's campaigns
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("invalid status %q", *filters.Status)}
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}

	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	pagination := &PaginationInfo{
		Page:       filters.Page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	return campaigns, pagination, nil
}

// PreviewMessage renders a campaign message for one of the owner's customers
func (s *CampaignService) PreviewMessage(ctx context.Context, ownerID uuid.UUID, req *PreviewMessageRequest) (*PreviewMessageResult, error) {
	campaign, err := s.campaignRepo.GetByIDForOwner(ctx, req.CampaignID, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: req.CampaignID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	customer, err := s.customerRepo.GetByID(ctx, req.CustomerID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && customer.OwnerID != ownerID) {
		return nil, &NotFoundError{Resource: "customer", ID: req.CustomerID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	template := campaign.Message
	if req.OverrideTemplate != nil {
		template = *req.OverrideTemplate
		if err := s.templateSvc.ValidateTemplate(template); err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
	}

	rendered, err := s.templateSvc.Render(template, customer)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	return &PreviewMessageResult{
		RenderedMessage: rendered,
		UsedTemplate:    template,
		Customer: CustomerDetails{
			ID:   customer.ID,
			Name: customer.DisplayName(),
		},
	}, nil
}

// PreviewAudience counts the customers a rule set would target
func (s *CampaignService) PreviewAudience(ctx context.Context, ownerID uuid.UUID, set models.RuleSet) (*PreviewAudienceResult, error) {
	if err := rules.Validate(set); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid rules: %v", err)}
	}

	filter := rules.Compile(set, ownerID)
	count, err := s.customerRepo.CountByFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count audience: %w", err)
	}

	return &PreviewAudienceResult{
		AudienceSize: count,
		Permissive:   filter.Permissive,
	}, nil
}

// SubmitReceipt validates a vendor delivery receipt and queues it for the
// receipt batcher
func (s *CampaignService) SubmitReceipt(ctx context.Context, receipt *models.DeliveryReceipt) error {
	if _, ok := receipt.CorrelationKey(); !ok {
		return &ValidationError{Message: "vendorMessageId is missing or malformed"}
	}
	if !receipt.Valid() {
		return &ValidationError{Message: "campaignId and a SENT or FAILED status are required"}
	}

	if err := s.publisher.Publish(ctx, models.QueueDeliveryReceipts, receipt); err != nil {
		return &UnavailableError{Dependency: "queue", Err: err}
	}

	return nil
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	CampaignName *string             `json:"campaignName,omitempty"`
	Rules        models.RuleSet      `json:"rules"`
	Message      string              `json:"message"`
	DeliveryMode models.DeliveryMode `json:"deliveryMode"`
	ScheduledAt  *time.Time          `json:"scheduledAt,omitempty"`
}

func (r *CreateCampaignRequest) toCampaign(ownerID uuid.UUID) *models.Campaign {
	mode := r.DeliveryMode
	if mode == "" {
		mode = models.DeliveryModeImmediate
	}
	logic := r.Rules.Logic
	if logic == "" {
		logic = models.LogicAnd
	}

	return &models.Campaign{
		OwnerID:      ownerID,
		Name:         r.CampaignName,
		Rules:        models.RuleSet{Logic: logic, Rules: r.Rules.Rules},
		Message:      r.Message,
		DeliveryMode: mode,
		ScheduledAt:  r.ScheduledAt,
		Tags:         []string{},
	}
}

// PreviewAudienceResult is the response of an audience preview
type PreviewAudienceResult struct {
	AudienceSize int `json:"audienceSize"`
	// Permissive is true when some rule was ignored because its field or
	// operator is unknown
	Permissive bool `json:"permissive"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

// PreviewMessageRequest represents a request to preview a personalized message
type PreviewMessageRequest struct {
	CampaignID       uuid.UUID
	CustomerID       uuid.UUID
	OverrideTemplate *string
}

// PreviewMessageResult represents the result of a message preview
type PreviewMessageResult struct {
	RenderedMessage string          `json:"renderedMessage"`
	UsedTemplate    string          `json:"usedTemplate"`
	Customer        CustomerDetails `json:"customer"`
}

// CustomerDetails identifies the customer a preview was rendered for
type CustomerDetails struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
