package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

const campaignColumns = `id, owner_id, name, rules, message, delivery_mode, scheduled_at, status,
		audience_size, sent, failed, tags, created_at, updated_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	var tags []string
	err := row.Scan(
		&campaign.ID,
		&campaign.OwnerID,
		&campaign.Name,
		&campaign.Rules,
		&campaign.Message,
		&campaign.DeliveryMode,
		&campaign.ScheduledAt,
		&campaign.Status,
		&campaign.Stats.AudienceSize,
		&campaign.Stats.Sent,
		&campaign.Stats.Failed,
		pq.Array(&tags),
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	campaign.Tags = tags
	return campaign, nil
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if campaign.Tags == nil {
		campaign.Tags = []string{}
	}

	query := `
		INSERT INTO campaigns (id, owner_id, name, rules, message, delivery_mode, scheduled_at, status, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.ID,
		campaign.OwnerID,
		campaign.Name,
		campaign.Rules,
		campaign.Message,
		campaign.DeliveryMode,
		campaign.ScheduledAt,
		campaign.Status,
		pq.Array(campaign.Tags),
	).Scan(&campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetByIDForOwner retrieves a campaign only if it belongs to ownerID
func (r *campaignRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND owner_id = $2`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// List returns one page of an owner's campaigns, newest first, and the total
// number of campaigns matching the filters
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE owner_id = $1")

	args := []interface{}{filters.OwnerID}
	argPos := 2

	if filters.Status != nil {
		where.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where.String() +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM campaigns` + where.String()
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	return campaigns, total, nil
}

// FindDueScheduled lists SCHEDULED campaigns whose scheduled time has passed,
// oldest first
func (r *campaignRepository) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.CampaignStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	return campaigns, nil
}

// TransitionStatus moves a campaign to status `to` only while it is in one of
// `from`. It reports whether the row changed.
func (r *campaignRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = ANY($3)
	`

	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}

	return affectedOne(result)
}

// MarkProcessing records the resolved audience and tags and moves the
// campaign to PROCESSING. SCHEDULED is accepted as a source status because
// the scheduler emits before it promotes.
func (r *campaignRepository) MarkProcessing(ctx context.Context, id uuid.UUID, audienceSize int, tags []string) (bool, error) {
	if tags == nil {
		tags = []string{}
	}

	query := `
		UPDATE campaigns
		SET status = $1, audience_size = $2, tags = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND status = ANY($5)
	`

	from := []string{string(models.CampaignStatusScheduled), string(models.CampaignStatusPending)}
	result, err := r.db.ExecContext(ctx, query,
		models.CampaignStatusProcessing, audienceSize, pq.Array(tags), id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign processing: %w", err)
	}

	return affectedOne(result)
}

// CompleteIfDone moves a PROCESSING campaign to COMPLETED once every resolved
// recipient has an outcome. The condition is evaluated by the database so
// concurrent callers complete a campaign at most once.
func (r *campaignRepository) CompleteIfDone(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3 AND sent + failed >= audience_size
	`

	result, err := r.db.ExecContext(ctx, query,
		models.CampaignStatusCompleted, id, models.CampaignStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}

	return affectedOne(result)
}

func statusStrings(statuses []models.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func affectedOne(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
