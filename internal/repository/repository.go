package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// ErrNotFound is returned when a referenced row does not exist
var ErrNotFound = errors.New("not found")

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, audienceSize int, tags []string) (bool, error)
	CompleteIfDone(ctx context.Context, id uuid.UUID) (bool, error)
}

// CustomerRepository defines the audience queries of the pipeline
type CustomerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	CountByFilter(ctx context.Context, filter rules.Filter) (int, error)
	Summarize(ctx context.Context, filter rules.Filter) (*AudienceSummary, error)
	ListByFilter(ctx context.Context, filter rules.Filter, afterID uuid.UUID, limit int) ([]*models.Customer, error)
}

// CommunicationLogRepository defines communication log data access operations
type CommunicationLogRepository interface {
	CreatePending(ctx context.Context, log *models.CommunicationLog) (*models.CommunicationLog, bool, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CommunicationLog, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (*models.DeliveryBreakdown, error)
	ApplyReceipts(ctx context.Context, campaignID uuid.UUID, receipts []models.DeliveryReceipt) (*ReceiptOutcome, error)
}

// CampaignFilters scopes and pages a campaign listing
type CampaignFilters struct {
	OwnerID  uuid.UUID
	Status   *models.CampaignStatus
	Page     int
	PageSize int
}

// AudienceSummary is the size and average spend of a compiled audience
type AudienceSummary struct {
	Size     int
	AvgSpend float64
}

// ReceiptOutcome reports what a receipt batch changed for one campaign
type ReceiptOutcome struct {
	Sent    int
	Failed  int
	Skipped int
	Stats   models.CampaignStats
	Status  models.CampaignStatus
	// Completed is set when this batch moved the campaign to COMPLETED
	Completed bool
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
