package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

// PreviewHandler handles HTTP requests for message preview functionality
type PreviewHandler struct {
	campaignService *service.CampaignService
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService *service.CampaignService) *PreviewHandler {
	return &PreviewHandler{
		campaignService: campaignService,
	}
}

// PreviewRequest represents the request body for message preview
type PreviewRequest struct {
	CustomerID       string  `json:"customerId"`
	OverrideTemplate *string `json:"overrideTemplate,omitempty"`
}

// Preview handles POST /campaigns/{id}/personalized-preview. It renders the
// message one customer would receive.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	campaignID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID")
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.CustomerID == "" {
		WriteValidationError(w, "customerId is required")
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		WriteValidationError(w, "invalid customerId")
		return
	}

	result, err := h.campaignService.PreviewMessage(r.Context(), owner, &service.PreviewMessageRequest{
		CampaignID:       campaignID,
		CustomerID:       customerID,
		OverrideTemplate: req.OverrideTemplate,
	})
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}
