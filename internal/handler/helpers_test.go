package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/testutil"
)

var testOwner = uuid.MustParse("0b7e4a52-93d1-4f0c-8f6e-5c2a1d9b7e30")

type apiFixture struct {
	router    *mux.Router
	campaigns *testutil.MockCampaignRepository
	customers *testutil.MockCustomerRepository
	logs      *testutil.MockCommunicationLogRepository
	publisher *testutil.MockPublisher
}

// newAPIFixture wires the real router over mock repositories
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		campaigns: testutil.NewMockCampaignRepository(),
		customers: testutil.NewMockCustomerRepository(),
		logs:      testutil.NewMockCommunicationLogRepository(),
		publisher: testutil.NewMockPublisher(),
	}

	svc := service.NewCampaignService(f.campaigns, f.customers, f.logs, service.NewTemplateService(), f.publisher, nil)
	health := service.NewHealthService(okPinger{}, nil, nil, "test")
	f.router = NewRouter(NewCampaignHandler(svc), NewPreviewHandler(svc), NewHealthHandler(health), nil)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, owner *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != nil {
		req.Header.Set(OwnerHeader, owner.String())
	}

	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func parseJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	parseJSON(t, rr, &resp)
	return resp.Error.Code
}

type okPinger struct{}

func (okPinger) PingContext(ctx context.Context) error { return nil }

func ownerPtr(id uuid.UUID) *uuid.UUID { return &id }
