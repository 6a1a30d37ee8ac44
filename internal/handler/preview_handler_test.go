package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/testutil"
)

func previewFixture(t *testing.T) (*apiFixture, *models.Campaign, *models.Customer) {
	t.Helper()

	f := newAPIFixture(t)
	campaign := testutil.NewTestCampaign(testOwner)
	campaign.Message = "Hi {name}, your {location} store has new arrivals"
	customer := testutil.NewTestCustomer(testOwner)

	f.campaigns.GetByIDForOwnerFunc = func(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error) {
		if id != campaign.ID || ownerID != testOwner {
			return nil, repository.ErrNotFound
		}
		return campaign, nil
	}
	f.customers.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
		return customer, nil
	}
	return f, campaign, customer
}

func TestPreview_RendersCampaignTemplate(t *testing.T) {
	f, campaign, customer := previewFixture(t)

	rr := f.do(t, http.MethodPost, "/campaigns/"+campaign.ID.String()+"/personalized-preview",
		map[string]interface{}{"customerId": customer.ID}, ownerPtr(testOwner))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp service.PreviewMessageResult
	parseJSON(t, rr, &resp)
	assert.Equal(t, "Hi Asha Rao, your Pune store has new arrivals", resp.RenderedMessage)
	assert.Equal(t, campaign.Message, resp.UsedTemplate)
	assert.Equal(t, customer.ID, resp.Customer.ID)
}

func TestPreview_OverrideTemplate(t *testing.T) {
	f, campaign, customer := previewFixture(t)

	rr := f.do(t, http.MethodPost, "/campaigns/"+campaign.ID.String()+"/personalized-preview",
		map[string]interface{}{"customerId": customer.ID, "overrideTemplate": "Thanks {name}"}, ownerPtr(testOwner))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp service.PreviewMessageResult
	parseJSON(t, rr, &resp)
	assert.Equal(t, "Thanks Asha Rao", resp.RenderedMessage)
	assert.Equal(t, "Thanks {name}", resp.UsedTemplate)
}

func TestPreview_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		path func(campaignID uuid.UUID) string
		body interface{}
		want int
	}{
		{
			name: "invalid campaign id",
			path: func(uuid.UUID) string { return "/campaigns/abc/personalized-preview" },
			body: map[string]interface{}{"customerId": uuid.New()},
			want: http.StatusBadRequest,
		},
		{
			name: "missing customer id",
			path: func(id uuid.UUID) string { return "/campaigns/" + id.String() + "/personalized-preview" },
			body: map[string]interface{}{},
			want: http.StatusBadRequest,
		},
		{
			name: "invalid customer id",
			path: func(id uuid.UUID) string { return "/campaigns/" + id.String() + "/personalized-preview" },
			body: map[string]interface{}{"customerId": "42"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown campaign",
			path: func(uuid.UUID) string { return "/campaigns/" + uuid.NewString() + "/personalized-preview" },
			body: map[string]interface{}{"customerId": uuid.New()},
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, campaign, _ := previewFixture(t)
			f.campaigns.GetByIDForOwnerFunc = func(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error) {
				if id == campaign.ID {
					return campaign, nil
				}
				return nil, repository.ErrNotFound
			}

			rr := f.do(t, http.MethodPost, tt.path(campaign.ID), tt.body, ownerPtr(testOwner))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestPreview_ForeignCustomerIsNotFound(t *testing.T) {
	f, campaign, customer := previewFixture(t)
	customer.OwnerID = uuid.New()

	rr := f.do(t, http.MethodPost, "/campaigns/"+campaign.ID.String()+"/personalized-preview",
		map[string]interface{}{"customerId": customer.ID}, ownerPtr(testOwner))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
