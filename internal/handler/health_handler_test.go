package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

type downPinger struct{}

func (downPinger) PingContext(ctx context.Context) error { return errors.New("refused") }

type queueState bool

func (q queueState) IsConnected() bool { return bool(q) }

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         service.DBPinger
		queue      service.QueueStatus
		wantCode   int
		wantStatus string
	}{
		{"healthy", okPinger{}, queueState(true), http.StatusOK, service.StatusHealthy},
		{"queue down is degraded", okPinger{}, queueState(false), http.StatusOK, service.StatusDegraded},
		{"database down", downPinger{}, queueState(true), http.StatusServiceUnavailable, service.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(service.NewHealthService(tt.db, tt.queue, nil, "1.0.0"))

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			var resp service.HealthStatus
			parseJSON(t, rr, &resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "1.0.0", resp.Version)
			assert.Equal(t, service.StatusDisabled, resp.Services["redis"])
		})
	}
}

func TestRouter_IntakeMiddlewareSkipsCallback(t *testing.T) {
	f := newAPIFixture(t)
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	svc := service.NewCampaignService(f.campaigns, f.customers, f.logs, service.NewTemplateService(), f.publisher, nil)
	f.router = NewRouter(NewCampaignHandler(svc), NewPreviewHandler(svc),
		NewHealthHandler(service.NewHealthService(okPinger{}, nil, nil, "")), blocked)

	rr := f.do(t, http.MethodGet, "/campaigns", nil, ownerPtr(testOwner))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/campaigns/delivery-receipt", "{}", nil)
	require.NotEqual(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
