package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue names of the delivery pipeline
const (
	QueueCampaignCreated  = "campaign_created"
	QueueCampaignProcess  = "campaign_process"
	QueueCampaignDelivery = "campaign_delivery"
	QueueDeliveryReceipts = "delivery_receipts"
)

// PipelineQueues lists every queue in pipeline order
var PipelineQueues = []string{
	QueueCampaignCreated,
	QueueCampaignProcess,
	QueueCampaignDelivery,
	QueueDeliveryReceipts,
}

// vendorMessagePrefix is prepended by the vendor to the correlation key
const vendorMessagePrefix = "v_"

// CampaignEvent is the body of campaign_created and campaign_process
type CampaignEvent struct {
	CampaignID uuid.UUID `json:"campaignId"`
}

// DeliveryTask is the body of campaign_delivery
type DeliveryTask struct {
	CampaignID uuid.UUID `json:"campaignId"`
	CustomerID uuid.UUID `json:"customerId"`
	OwnerID    uuid.UUID `json:"ownerId"`
}

// Valid reports whether all identifiers are present
func (t DeliveryTask) Valid() bool {
	return t.CampaignID != uuid.Nil && t.CustomerID != uuid.Nil && t.OwnerID != uuid.Nil
}

// DeliveryReceipt is the body of delivery_receipts, produced by the vendor
// callback or by the dispatch stage for recipients it could not reach.
type DeliveryReceipt struct {
	VendorMessageID string         `json:"vendorMessageId"`
	CampaignID      uuid.UUID      `json:"campaignId"`
	CustomerID      uuid.UUID      `json:"customerId"`
	Status          DeliveryStatus `json:"status"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
}

// Valid reports whether the receipt can be applied
func (r DeliveryReceipt) Valid() bool {
	return r.CampaignID != uuid.Nil && r.Status.IsTerminal()
}

// CorrelationKey resolves the vendor message id to a communication log id.
// ok is false for empty ids and for ids that do not parse.
func (r DeliveryReceipt) CorrelationKey() (id uuid.UUID, ok bool) {
	raw := strings.TrimPrefix(r.VendorMessageID, vendorMessagePrefix)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// VendorMessageID builds the vendor message id for a communication log
func VendorMessageID(commLogID uuid.UUID) string {
	return vendorMessagePrefix + commLogID.String()
}
