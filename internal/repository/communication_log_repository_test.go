package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

var numericID int64 = 9

func newPendingLog(customer uuid.UUID) *models.CommunicationLog {
	return &models.CommunicationLog{
		CampaignID:        testCampaign,
		OwnerID:           testOwner,
		CustomerID:        customer,
		CustomerNumericID: &numericID,
		Message:           "Hi Asha, welcome back",
	}
}

// ==================== CreatePending ====================

func TestCommunicationLogRepository_CreatePending_Inserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	customer := uuid.New()
	mock.ExpectQuery("INSERT INTO communication_logs (.+) ON CONFLICT \\(campaign_id, customer_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), testCampaign, testOwner, customer, int64(9), "Hi Asha, welcome back", models.DeliveryStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "last_updated_at"}).AddRow(testTime, testTime))

	log, created, err := repo.CreatePending(context.Background(), newPendingLog(customer))
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.True(t, log.NeedsDispatch())
}

func TestCommunicationLogRepository_CreatePending_ReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	customer := uuid.New()
	existing := uuid.New()

	mock.ExpectQuery("INSERT INTO communication_logs").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "last_updated_at"}))
	mock.ExpectQuery("SELECT (.+) FROM communication_logs WHERE campaign_id = \\$1 AND customer_id = \\$2").
		WithArgs(testCampaign, customer).
		WillReturnRows(sqlmock.NewRows(logRowColumns).AddRow(
			existing.String(), testCampaign.String(), testOwner.String(), customer.String(), 9,
			"Hi Asha, welcome back", "PENDING", true, testTime, testTime,
		))

	log, created, err := repo.CreatePending(context.Background(), newPendingLog(customer))
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, existing, log.ID)
	assert.True(t, log.VendorSubmitted)
	assert.False(t, log.NeedsDispatch())
}

func TestCommunicationLogRepository_MarkSubmitted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	id := uuid.New()
	mock.ExpectExec("UPDATE communication_logs SET vendor_submitted = TRUE WHERE id = \\$1").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE communication_logs SET vendor_submitted").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkSubmitted(context.Background(), id))
	assert.ErrorIs(t, repo.MarkSubmitted(context.Background(), id), ErrNotFound)
}

func TestCommunicationLogRepository_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	mock.ExpectQuery("FROM communication_logs WHERE campaign_id = \\$1").
		WithArgs(testCampaign).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "sent", "failed"}).AddRow(3, 5, 2))

	breakdown, err := repo.CountByStatus(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryBreakdown{Pending: 3, Sent: 5, Failed: 2}, *breakdown)
}

// ==================== ApplyReceipts ====================

const (
	applyLogUpdate  = "UPDATE communication_logs SET status = \\$1(.+)WHERE id = \\$2 AND campaign_id = \\$3 AND status = 'PENDING'"
	applyCounters   = "WITH prev AS \\( SELECT id, status FROM campaigns WHERE id = \\$3 FOR UPDATE \\) UPDATE campaigns c SET sent = c\\.sent \\+ \\$1, failed = c\\.failed \\+ \\$2"
	applyCompletion = "status = CASE WHEN c\\.status = 'PROCESSING' AND c\\.sent \\+ \\$1 \\+ c\\.failed \\+ \\$2 >= c\\.audience_size THEN 'COMPLETED'"
)

var counterColumns = []string{"audience_size", "sent", "failed", "status", "status"}

func TestCommunicationLogRepository_ApplyReceipts_CountsOnlyTransitions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	sent, failed, late := uuid.New(), uuid.New(), uuid.New()
	receipts := []models.DeliveryReceipt{
		{VendorMessageID: models.VendorMessageID(sent), CampaignID: testCampaign, Status: models.DeliveryStatusSent},
		{VendorMessageID: models.VendorMessageID(failed), CampaignID: testCampaign, Status: models.DeliveryStatusFailed},
		{VendorMessageID: models.VendorMessageID(late), CampaignID: testCampaign, Status: models.DeliveryStatusSent},
		{VendorMessageID: "v_not-a-uuid", CampaignID: testCampaign, Status: models.DeliveryStatusSent},
	}

	mock.ExpectBegin()
	mock.ExpectExec(applyLogUpdate).
		WithArgs(models.DeliveryStatusSent, sent, testCampaign).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(applyLogUpdate).
		WithArgs(models.DeliveryStatusFailed, failed, testCampaign).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(applyLogUpdate).
		WithArgs(models.DeliveryStatusSent, late, testCampaign).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(applyCounters).
		WithArgs(1, 1, testCampaign).
		WillReturnRows(sqlmock.NewRows(counterColumns).
			AddRow(4, 2, 1, "PROCESSING", "PROCESSING"))
	mock.ExpectCommit()

	outcome, err := repo.ApplyReceipts(context.Background(), testCampaign, receipts)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Sent)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 2, outcome.Skipped)
	assert.Equal(t, models.CampaignStats{AudienceSize: 4, Sent: 2, Failed: 1}, outcome.Stats)
	assert.Equal(t, models.CampaignStatusProcessing, outcome.Status)
	assert.False(t, outcome.Completed)
}

func TestCommunicationLogRepository_ApplyReceipts_CompletesInSameStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	last := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(applyLogUpdate).
		WithArgs(models.DeliveryStatusSent, last, testCampaign).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(applyCompletion).
		WithArgs(1, 0, testCampaign).
		WillReturnRows(sqlmock.NewRows(counterColumns).
			AddRow(3, 2, 1, "COMPLETED", "PROCESSING"))
	mock.ExpectCommit()

	outcome, err := repo.ApplyReceipts(context.Background(), testCampaign, []models.DeliveryReceipt{
		{VendorMessageID: models.VendorMessageID(last), CampaignID: testCampaign, Status: models.DeliveryStatusSent},
	})
	require.NoError(t, err)

	assert.True(t, outcome.Stats.IsDone())
	assert.Equal(t, models.CampaignStatusCompleted, outcome.Status)
	assert.True(t, outcome.Completed)
}

func TestCommunicationLogRepository_ApplyReceipts_AlreadyCompleted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(applyCounters).
		WithArgs(0, 0, testCampaign).
		WillReturnRows(sqlmock.NewRows(counterColumns).
			AddRow(3, 2, 1, "COMPLETED", "COMPLETED"))
	mock.ExpectCommit()

	outcome, err := repo.ApplyReceipts(context.Background(), testCampaign, nil)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusCompleted, outcome.Status)
	assert.False(t, outcome.Completed)
}

func TestCommunicationLogRepository_ApplyReceipts_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(applyLogUpdate).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := repo.ApplyReceipts(context.Background(), testCampaign, []models.DeliveryReceipt{
		{VendorMessageID: models.VendorMessageID(id), CampaignID: testCampaign, Status: models.DeliveryStatusSent},
	})
	assert.ErrorContains(t, err, "deadlock detected")
}

func TestCommunicationLogRepository_ApplyReceipts_UnknownCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommunicationLogRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(applyCounters).
		WithArgs(0, 0, testCampaign).
		WillReturnRows(sqlmock.NewRows(counterColumns))
	mock.ExpectRollback()

	_, err := repo.ApplyReceipts(context.Background(), testCampaign, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
