package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/vendor"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry(), "test")
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		SchedulerInterval:    time.Minute,
		SchedulerBatchSize:   100,
		SchedulerLockTTL:     30 * time.Second,
		FanoutBatchSize:      2,
		ReceiptBatchSize:     100,
		ReceiptFlushInterval: time.Second,
		ReceiptBufferMax:     1000,
		RejectPolicy:         "drop",
	}
}

func delivery(t *testing.T, v interface{}) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

// fakeVendor records submissions. Unset SubmitFunc accepts everything.
type fakeVendor struct {
	SubmitFunc func(ctx context.Context, req vendor.Request) (*vendor.Response, error)

	mu       sync.Mutex
	requests []vendor.Request
}

func (f *fakeVendor) Submit(ctx context.Context, req vendor.Request) (*vendor.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, req)
	}
	return &vendor.Response{VendorMessageID: models.VendorMessageID(req.CommLogID), Status: "queued"}, nil
}

func (f *fakeVendor) Requests() []vendor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vendor.Request(nil), f.requests...)
}

type fakeTagger func(ctx context.Context, req service.TagRequest) ([]string, error)

func (f fakeTagger) SuggestTags(ctx context.Context, req service.TagRequest) ([]string, error) {
	return f(ctx, req)
}

func staticTags(tags ...string) fakeTagger {
	return func(ctx context.Context, req service.TagRequest) ([]string, error) {
		return tags, nil
	}
}

var nopLogger = zap.NewNop()
