package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

const logColumns = `id, campaign_id, owner_id, customer_id, customer_numeric_id, message,
		status, vendor_submitted, last_updated_at, created_at`

type communicationLogRepository struct {
	db *sql.DB
}

// NewCommunicationLogRepository creates a new communication log repository
func NewCommunicationLogRepository(db *sql.DB) CommunicationLogRepository {
	return &communicationLogRepository{db: db}
}

func scanLog(row rowScanner) (*models.CommunicationLog, error) {
	log := &models.CommunicationLog{}
	err := row.Scan(
		&log.ID,
		&log.CampaignID,
		&log.OwnerID,
		&log.CustomerID,
		&log.CustomerNumericID,
		&log.Message,
		&log.Status,
		&log.VendorSubmitted,
		&log.LastUpdatedAt,
		&log.CreatedAt,
	)
	return log, err
}

// CreatePending inserts a PENDING log for (campaign, customer). If one already
// exists the stored row is returned instead and created is false.
func (r *communicationLogRepository) CreatePending(ctx context.Context, log *models.CommunicationLog) (*models.CommunicationLog, bool, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.Status = models.DeliveryStatusPending

	insert := `
		INSERT INTO communication_logs (id, campaign_id, owner_id, customer_id, customer_numeric_id, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, customer_id) DO NOTHING
		RETURNING created_at, last_updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		insert,
		log.ID,
		log.CampaignID,
		log.OwnerID,
		log.CustomerID,
		log.CustomerNumericID,
		log.Message,
		log.Status,
	).Scan(&log.CreatedAt, &log.LastUpdatedAt)

	if err == nil {
		return log, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create communication log: %w", err)
	}

	query := `SELECT ` + logColumns + ` FROM communication_logs WHERE campaign_id = $1 AND customer_id = $2`
	existing, err := scanLog(r.db.QueryRowContext(ctx, query, log.CampaignID, log.CustomerID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing communication log: %w", err)
	}

	return existing, false, nil
}

// MarkSubmitted records that the vendor accepted the message
func (r *communicationLogRepository) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE communication_logs SET vendor_submitted = TRUE WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark communication log submitted: %w", err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("communication log %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetByID retrieves a communication log by ID
func (r *communicationLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CommunicationLog, error) {
	query := `SELECT ` + logColumns + ` FROM communication_logs WHERE id = $1`

	log, err := scanLog(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("communication log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get communication log: %w", err)
	}

	return log, nil
}

// CountByStatus returns the per-status breakdown of a campaign's logs
func (r *communicationLogRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (*models.DeliveryBreakdown, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING') as pending,
			COUNT(*) FILTER (WHERE status = 'SENT') as sent,
			COUNT(*) FILTER (WHERE status = 'FAILED') as failed
		FROM communication_logs
		WHERE campaign_id = $1
	`

	breakdown := &models.DeliveryBreakdown{}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&breakdown.Pending,
		&breakdown.Sent,
		&breakdown.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count communication logs: %w", err)
	}

	return breakdown, nil
}

// ApplyReceipts applies a batch of receipts for one campaign in a single
// transaction. A receipt only counts if it moves its log out of PENDING, so
// redelivered and late receipts never inflate the counters. The campaign is
// completed in the same transaction once sent + failed reaches its audience.
func (r *communicationLogRepository) ApplyReceipts(ctx context.Context, campaignID uuid.UUID, receipts []models.DeliveryReceipt) (*ReceiptOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	outcome := &ReceiptOutcome{}

	update := `
		UPDATE communication_logs
		SET status = $1, last_updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND campaign_id = $3 AND status = 'PENDING'
	`
	for _, receipt := range receipts {
		logID, ok := receipt.CorrelationKey()
		if !ok || !receipt.Status.IsTerminal() {
			outcome.Skipped++
			continue
		}

		result, err := tx.ExecContext(ctx, update, receipt.Status, logID, campaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to apply receipt %s: %w", receipt.VendorMessageID, err)
		}
		applied, err := affectedOne(result)
		if err != nil {
			return nil, err
		}
		if !applied {
			outcome.Skipped++
			continue
		}

		if receipt.Status == models.DeliveryStatusSent {
			outcome.Sent++
		} else {
			outcome.Failed++
		}
	}

	// counter increment and completion share one statement
	counters := `
		WITH prev AS (
			SELECT id, status FROM campaigns WHERE id = $3 FOR UPDATE
		)
		UPDATE campaigns c
		SET sent = c.sent + $1,
			failed = c.failed + $2,
			status = CASE
				WHEN c.status = 'PROCESSING' AND c.sent + $1 + c.failed + $2 >= c.audience_size THEN 'COMPLETED'
				ELSE c.status
			END,
			updated_at = CURRENT_TIMESTAMP
		FROM prev
		WHERE c.id = prev.id
		RETURNING c.audience_size, c.sent, c.failed, c.status, prev.status
	`
	var previous models.CampaignStatus
	err = tx.QueryRowContext(ctx, counters, outcome.Sent, outcome.Failed, campaignID).Scan(
		&outcome.Stats.AudienceSize,
		&outcome.Stats.Sent,
		&outcome.Stats.Failed,
		&outcome.Status,
		&previous,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign counters: %w", err)
	}
	outcome.Completed = previous == models.CampaignStatusProcessing && outcome.Status == models.CampaignStatusCompleted

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit receipts: %w", err)
	}

	return outcome, nil
}
