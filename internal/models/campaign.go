package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusScheduled  CampaignStatus = "SCHEDULED"
	CampaignStatusPending    CampaignStatus = "PENDING"
	CampaignStatusProcessing CampaignStatus = "PROCESSING"
	CampaignStatusCompleted  CampaignStatus = "COMPLETED"
)

// transitions lists the allowed next states for each status
var transitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusScheduled:  {CampaignStatusPending},
	CampaignStatusPending:    {CampaignStatusProcessing},
	CampaignStatusProcessing: {CampaignStatusCompleted},
	CampaignStatusCompleted:  nil,
}

// IsValid reports whether s is a known status
func (s CampaignStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPastResolution reports whether the audience resolver already ran
func (s CampaignStatus) IsPastResolution() bool {
	return s == CampaignStatusProcessing || s == CampaignStatusCompleted
}

// DeliveryMode represents how a campaign is released into the pipeline
type DeliveryMode string

const (
	DeliveryModeImmediate DeliveryMode = "IMMEDIATE"
	DeliveryModeScheduled DeliveryMode = "SCHEDULED"
)

// CampaignStats holds the aggregated delivery counters of a campaign
type CampaignStats struct {
	AudienceSize int `json:"audienceSize"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
}

// Processed returns the number of recipients with a final outcome
func (s CampaignStats) Processed() int {
	return s.Sent + s.Failed
}

// IsDone reports whether every resolved recipient has an outcome
func (s CampaignStats) IsDone() bool {
	return s.Processed() >= s.AudienceSize
}

// Campaign represents a campaign in the system
type Campaign struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	OwnerID      uuid.UUID      `json:"ownerId" db:"owner_id"`
	Name         *string        `json:"campaignName,omitempty" db:"name"`
	Rules        RuleSet        `json:"rules" db:"rules"`
	Message      string         `json:"message" db:"message"`
	DeliveryMode DeliveryMode   `json:"deliveryMode" db:"delivery_mode"`
	ScheduledAt  *time.Time     `json:"scheduledAt,omitempty" db:"scheduled_at"`
	Status       CampaignStatus `json:"status" db:"status"`
	Stats        CampaignStats  `json:"stats"`
	Tags         []string       `json:"tags"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate(now time.Time) error {
	if c.OwnerID == uuid.Nil {
		return fmt.Errorf("owner id is required")
	}
	if c.Message == "" {
		return fmt.Errorf("message is required")
	}
	switch c.DeliveryMode {
	case DeliveryModeImmediate:
	case DeliveryModeScheduled:
		if c.ScheduledAt == nil {
			return fmt.Errorf("scheduledAt is required for SCHEDULED delivery")
		}
		if !c.ScheduledAt.After(now) {
			return fmt.Errorf("scheduledAt must be in the future")
		}
	default:
		return fmt.Errorf("invalid deliveryMode: must be 'IMMEDIATE' or 'SCHEDULED'")
	}
	return nil
}

// InitialStatus returns the status a freshly created campaign enters with
func (c *Campaign) InitialStatus(now time.Time) CampaignStatus {
	if c.DeliveryMode == DeliveryModeScheduled && c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		return CampaignStatusScheduled
	}
	return CampaignStatusPending
}

// IsDue reports whether a scheduled campaign should be promoted
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}

// RuleLogic combines the predicates of a rule set
type RuleLogic string

const (
	LogicAnd RuleLogic = "AND"
	LogicOr  RuleLogic = "OR"
)

// Rule is a single {field, operator, value} predicate
type Rule struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// RuleSet is the targeting rule tree of a campaign
type RuleSet struct {
	Logic RuleLogic `json:"logic"`
	Rules []Rule    `json:"rules"`
}

// Value implements driver.Valuer so rule sets persist as JSONB
func (r RuleSet) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB rule sets
func (r *RuleSet) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = RuleSet{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported rules column type %T", src)
	}
	return json.Unmarshal(data, r)
}
