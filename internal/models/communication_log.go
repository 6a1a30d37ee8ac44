package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the status of a single dispatched message
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

// CommunicationLog is the durable per-recipient dispatch record. Its ID is the
// correlation key handed to the vendor.
type CommunicationLog struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaignId" db:"campaign_id"`
	OwnerID    uuid.UUID `json:"ownerId" db:"owner_id"`
	CustomerID uuid.UUID `json:"customerId" db:"customer_id"`
	// CustomerNumericID is nil when the customer was gone at dispatch time
	CustomerNumericID *int64         `json:"customerNumericId,omitempty" db:"customer_numeric_id"`
	Message           string         `json:"message" db:"message"`
	Status            DeliveryStatus `json:"status" db:"status"`
	VendorSubmitted   bool           `json:"vendorSubmitted" db:"vendor_submitted"`
	LastUpdatedAt     time.Time      `json:"lastUpdatedAt" db:"last_updated_at"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
}

// NeedsDispatch reports whether the vendor still has to be called for this log
func (l *CommunicationLog) NeedsDispatch() bool {
	return l.Status == DeliveryStatusPending && !l.VendorSubmitted
}

// DeliveryBreakdown counts communication logs of a campaign by status
type DeliveryBreakdown struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// CampaignWithDeliveries is a campaign plus its communication-log breakdown
type CampaignWithDeliveries struct {
	Campaign
	Deliveries DeliveryBreakdown `json:"deliveries"`
}
