package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter registers the campaign API routes. intake wraps the routes
// called by users; the vendor callback and health check bypass it.
func NewRouter(campaigns *CampaignHandler, previews *PreviewHandler, health *HealthHandler, intake mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/delivery-receipt", campaigns.DeliveryReceipt).Methods(http.MethodPost)

	api := router.PathPrefix("/campaigns").Subrouter()
	if intake != nil {
		api.Use(intake)
	}
	api.HandleFunc("", campaigns.Create).Methods(http.MethodPost)
	api.HandleFunc("", campaigns.List).Methods(http.MethodGet)
	api.HandleFunc("/preview", campaigns.PreviewAudience).Methods(http.MethodPost)
	api.HandleFunc("/{id}", campaigns.GetByID).Methods(http.MethodGet)
	api.HandleFunc("/{id}/personalized-preview", previews.Preview).Methods(http.MethodPost)

	return router
}
