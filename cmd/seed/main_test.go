package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

func TestBuildCustomers(t *testing.T) {
	owner := uuid.MustParse(DemoOwner)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	customers := buildCustomers(owner, 20, now)

	require.Len(t, customers, 20)
	emails := map[string]bool{}
	withoutLocation := 0
	for _, c := range customers {
		assert.Equal(t, owner, c.OwnerID)
		assert.NotEmpty(t, c.Name)
		require.NotNil(t, c.Email)
		assert.False(t, emails[*c.Email], "duplicate email %s", *c.Email)
		emails[*c.Email] = true
		if c.Location == nil {
			withoutLocation++
		}
		if c.LastOrderDate != nil {
			assert.False(t, c.LastOrderDate.After(now))
		}
	}
	assert.Equal(t, 5, withoutLocation)
}

func TestDemoCampaigns_AreValid(t *testing.T) {
	owner := uuid.MustParse(DemoOwner)
	now := time.Now()

	for _, c := range demoCampaigns(owner, now) {
		assert.NoError(t, c.Validate(now))
		assert.NoError(t, rules.Validate(c.Rules))
		assert.Equal(t, c.InitialStatus(now), c.Status)
		assert.False(t, rules.Compile(c.Rules, owner).Permissive)
	}

	assert.Equal(t, models.DeliveryModeScheduled, demoCampaigns(owner, now)[1].DeliveryMode)
}
