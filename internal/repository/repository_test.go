package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newMockDB creates a sqlmock-backed database and verifies expectations on cleanup
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return db, mock
}

var (
	testOwner    = uuid.MustParse("0b0e9c3a-5f55-4f0c-9d63-1a3e5a2f7c01")
	testCampaign = uuid.MustParse("3c7d2b1e-8a4f-4e6b-b0d9-6f2e1c4a9b02")
	testTime     = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

var campaignRowColumns = []string{
	"id", "owner_id", "name", "rules", "message", "delivery_mode", "scheduled_at", "status",
	"audience_size", "sent", "failed", "tags", "created_at", "updated_at",
}

var customerRowColumns = []string{
	"id", "customer_id", "owner_id", "name", "email", "phone", "location",
	"lifetime_spend", "total_orders", "last_order_date", "created_at",
}

var logRowColumns = []string{
	"id", "campaign_id", "owner_id", "customer_id", "customer_numeric_id", "message",
	"status", "vendor_submitted", "last_updated_at", "created_at",
}
