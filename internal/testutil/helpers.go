package testutil

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

// NewTestCampaign creates a PENDING immediate campaign for ownerID
func NewTestCampaign(ownerID uuid.UUID) *models.Campaign {
	now := time.Now()
	return &models.Campaign{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    StringPtr("Diwali Promo"),
		Rules: models.RuleSet{
			Logic: models.LogicAnd,
			Rules: []models.Rule{{Field: "lifetimeSpend", Operator: ">", Value: 1000.0}},
		},
		Message:      "enjoy 20% off this week!",
		DeliveryMode: models.DeliveryModeImmediate,
		Status:       models.CampaignStatusPending,
		Tags:         []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestCampaignWithStatus creates a campaign in the given status
func NewTestCampaignWithStatus(ownerID uuid.UUID, status models.CampaignStatus) *models.Campaign {
	c := NewTestCampaign(ownerID)
	c.Status = status
	return c
}

// NewTestCustomer creates a customer of ownerID
func NewTestCustomer(ownerID uuid.UUID) *models.Customer {
	return &models.Customer{
		ID:            uuid.New(),
		CustomerID:    1,
		OwnerID:       ownerID,
		Name:          "Asha Rao",
		Email:         StringPtr("asha@example.com"),
		Location:      StringPtr("Pune"),
		LifetimeSpend: 2500,
		TotalOrders:   6,
		CreatedAt:     time.Now(),
	}
}

// NewTestCustomers creates count customers of ownerID sorted by id. All of
// them spend over 1000, so NewTestCampaign's rules select every one.
func NewTestCustomers(ownerID uuid.UUID, count int) []*models.Customer {
	customers := make([]*models.Customer, count)
	for i := range customers {
		c := NewTestCustomer(ownerID)
		c.CustomerID = int64(i + 1)
		c.Name = fmt.Sprintf("Customer %d", i+1)
		c.LifetimeSpend = float64(1000*(i+1) + 500)
		customers[i] = c
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].ID.String() < customers[j].ID.String()
	})
	return customers
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
