package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Queue consumption
	Deliveries      *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	// Campaign lifecycle
	CampaignsPromoted  prometheus.Counter
	CampaignsResolved  prometheus.Counter
	CampaignsCompleted prometheus.Counter
	TasksPublished     prometheus.Counter

	// Dispatch
	VendorCalls     *prometheus.CounterVec
	TaggingFailures prometheus.Counter

	// Receipts
	ReceiptsApplied      *prometheus.CounterVec
	ReceiptsSkipped      prometheus.Counter
	ReceiptBufferSize    prometheus.Gauge
	ReceiptsRefused      prometheus.Counter
	ReceiptFlushDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics on reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deliveries_total",
			Help:      "Deliveries settled per queue and outcome",
		}, []string{"queue", "outcome"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_handler_duration_seconds",
			Help:      "Time spent handling a delivery",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"queue"}),

		CampaignsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_promoted_total",
			Help:      "Scheduled campaigns promoted by the scheduler",
		}),
		CampaignsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_resolved_total",
			Help:      "Campaigns whose audience was resolved",
		}),
		CampaignsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_completed_total",
			Help:      "Campaigns moved to COMPLETED",
		}),
		TasksPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_tasks_published_total",
			Help:      "Per-recipient delivery tasks published by fan-out",
		}),

		VendorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Vendor submissions by result",
		}, []string{"result"}),
		TaggingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tagging_failures_total",
			Help:      "Tag generation calls that failed or timed out",
		}),

		ReceiptsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_applied_total",
			Help:      "Receipts that moved a communication log to a final status",
		}, []string{"status"}),
		ReceiptsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_skipped_total",
			Help:      "Duplicate, late or uncorrelatable receipts",
		}),
		ReceiptBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receipt_buffer_size",
			Help:      "Receipts waiting for the next flush",
		}),
		ReceiptsRefused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_refused_total",
			Help:      "Receipts left with the broker because the buffer was full",
		}),
		ReceiptFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_flush_duration_seconds",
			Help:      "Time spent flushing a receipt batch",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

// ObserveDelivery records a settled delivery. It matches
// queue.ConsumerOptions.Observe.
func (m *Metrics) ObserveDelivery(queueName string, outcome queue.Outcome, elapsed time.Duration) {
	m.Deliveries.WithLabelValues(queueName, string(outcome)).Inc()
	m.HandlerDuration.WithLabelValues(queueName).Observe(elapsed.Seconds())
}
