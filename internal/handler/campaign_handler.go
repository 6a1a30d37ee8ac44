package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), owner, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteAccepted(w, CreateCampaignResponse{
		Message:    "Campaign created",
		CampaignID: campaign.ID,
		Status:     campaign.Status,
	})
}

// List handles GET /campaigns?status=&page=&per_page=
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filters := repository.CampaignFilters{
		OwnerID:  owner,
		Page:     1,
		PageSize: 20,
	}

	if pageStr := query.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			filters.Page = p
		}
	}
	if perPageStr := query.Get("per_page"); perPageStr != "" {
		if pp, err := strconv.Atoi(perPageStr); err == nil && pp > 0 {
			filters.PageSize = pp
		}
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.CampaignStatus(strings.ToUpper(statusStr))
		if !status.IsValid() {
			WriteValidationError(w, "invalid status: must be one of scheduled, pending, processing, completed")
			return
		}
		filters.Status = &status
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), owner, id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// PreviewAudience handles POST /campaigns/preview
func (h *CampaignHandler) PreviewAudience(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req PreviewAudienceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rules == nil {
		WriteValidationError(w, "rules required")
		return
	}

	result, err := h.campaignService.PreviewAudience(r.Context(), owner, *req.Rules)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}

// DeliveryReceipt handles POST /campaigns/delivery-receipt, the vendor
// callback. The receipt is queued and applied asynchronously.
func (h *CampaignHandler) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt models.DeliveryReceipt
	if !decodeJSON(w, r, &receipt) {
		return
	}

	if err := h.campaignService.SubmitReceipt(r.Context(), &receipt); err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, map[string]string{"message": "Receipt queued"})
}

// Request/Response types

// CreateCampaignResponse is returned once a campaign is accepted
type CreateCampaignResponse struct {
	Message    string                `json:"message"`
	CampaignID uuid.UUID             `json:"campaignId"`
	Status     models.CampaignStatus `json:"status"`
}

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// PreviewAudienceRequest is the body of an audience preview
type PreviewAudienceRequest struct {
	Rules *models.RuleSet `json:"rules"`
}
