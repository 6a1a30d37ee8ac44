package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
)

func TestObserveDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "crm")

	m.ObserveDelivery("campaign_delivery", queue.OutcomeAck, 20*time.Millisecond)
	m.ObserveDelivery("campaign_delivery", queue.OutcomeAck, 30*time.Millisecond)
	m.ObserveDelivery("campaign_delivery", queue.OutcomeDrop, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("campaign_delivery", "ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("campaign_delivery", "drop")))
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry(), "crm")
		NewMetrics(prometheus.NewRegistry(), "crm")
	})
}
