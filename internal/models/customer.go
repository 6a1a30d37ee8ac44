package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents an audience member. The pipeline only reads customers.
type Customer struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CustomerID    int64      `json:"customerId" db:"customer_id"`
	OwnerID       uuid.UUID  `json:"ownerId" db:"owner_id"`
	Name          string     `json:"name" db:"name"`
	Email         *string    `json:"email,omitempty" db:"email"`
	Phone         *string    `json:"phone,omitempty" db:"phone"`
	Location      *string    `json:"location,omitempty" db:"location"`
	LifetimeSpend float64    `json:"lifetimeSpend" db:"lifetime_spend"`
	TotalOrders   int        `json:"totalOrders" db:"total_orders"`
	LastOrderDate *time.Time `json:"lastOrderDate,omitempty" db:"last_order_date"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// DisplayName returns the name used to greet the customer
func (c *Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "Customer"
}
