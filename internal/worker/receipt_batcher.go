package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
)

// ErrReceiptBufferFull is returned by Ingest while the buffer holds its
// maximum. The delivery is left with the broker.
var ErrReceiptBufferFull = errors.New("receipt buffer full")

// accumulator buffers receipts between flushes. drain takes the whole buffer
// in one step, so a receipt appended concurrently lands either in the drained
// batch or in the next one. held counts buffered receipts plus those drained
// but not yet released, and never exceeds max.
type accumulator struct {
	mu    sync.Mutex
	items []models.DeliveryReceipt
	held  int
	max   int
}

// add appends r and returns the new buffer size. It refuses r once max
// receipts are held; a zero max never refuses.
func (a *accumulator) add(r models.DeliveryReceipt) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.max > 0 && a.held >= a.max {
		return len(a.items), false
	}
	a.items = append(a.items, r)
	a.held++
	return len(a.items), true
}

// drain swaps the buffer for an empty one and returns the old contents. The
// drained receipts stay held until released or requeued.
func (a *accumulator) drain() []models.DeliveryReceipt {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := a.items
	a.items = nil
	return batch
}

// requeue puts drained receipts back in front of anything added since the drain
func (a *accumulator) requeue(rs []models.DeliveryReceipt) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(append(make([]models.DeliveryReceipt, 0, len(rs)+len(a.items)), rs...), a.items...)
	return len(a.items)
}

// release forgets n drained receipts that were applied or dropped
func (a *accumulator) release(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held -= n
}

func (a *accumulator) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// FlushResult summarizes one flush
type FlushResult struct {
	Campaigns int
	Sent      int
	Failed    int
	Skipped   int
	Requeued  int
	Dropped   int
	Completed int
}

// ReceiptBatcher consumes delivery_receipts. Receipts are acknowledged on
// ingestion and applied in batches grouped by campaign. The buffer is bounded:
// when full, receipts are refused and stay queued in the broker.
type ReceiptBatcher struct {
	logs      repository.CommunicationLogRepository
	buf       accumulator
	flushMu   sync.Mutex
	batchSize int
	interval  time.Duration
	// backoff is how long a refused receipt is held before it is nacked
	backoff time.Duration
	// failing is set while the last flush had to requeue. Inline flushes
	// are skipped then and retries happen on the ticker only.
	failing atomic.Bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewReceiptBatcher creates the receipt batcher stage
func NewReceiptBatcher(
	logs repository.CommunicationLogRepository,
	cfg config.PipelineConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReceiptBatcher {
	limit := cfg.ReceiptBufferMax
	if limit < cfg.ReceiptBatchSize {
		limit = cfg.ReceiptBatchSize * 10
	}
	return &ReceiptBatcher{
		logs:      logs,
		buf:       accumulator{max: limit},
		batchSize: cfg.ReceiptBatchSize,
		interval:  cfg.ReceiptFlushInterval,
		backoff:   time.Second,
		metrics:   m,
		logger:    logger.With(zap.String("stage", "receipts")),
	}
}

// Handle implements queue.Handler
func (b *ReceiptBatcher) Handle(ctx context.Context, d amqp.Delivery) error {
	var receipt models.DeliveryReceipt
	if err := queue.Decode(d, &receipt); err != nil {
		return err
	}
	return b.Ingest(ctx, receipt)
}

// Ingest buffers a receipt and flushes inline once the batch size is reached.
// A full buffer returns ErrReceiptBufferFull after a short pause, which the
// consumer turns into a requeue.
func (b *ReceiptBatcher) Ingest(ctx context.Context, receipt models.DeliveryReceipt) error {
	if !receipt.Valid() {
		return queue.Permanent(errors.New("receipt needs a campaignId and a SENT or FAILED status"))
	}

	n, ok := b.buf.add(receipt)
	if !ok {
		b.metrics.ReceiptsRefused.Inc()
		select {
		case <-ctx.Done():
		case <-time.After(b.backoff):
		}
		return ErrReceiptBufferFull
	}
	b.metrics.ReceiptBufferSize.Set(float64(n))

	if n >= b.batchSize && !b.failing.Load() {
		b.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered receipts
func (b *ReceiptBatcher) Pending() int {
	return b.buf.len()
}

// Run flushes on every interval until ctx is cancelled. The caller performs
// the final flush after the consumer has stopped.
func (b *ReceiptBatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush applies every buffered receipt. Flushes never overlap. A campaign
// group that fails is put back for the next flush, except when the campaign
// no longer exists. Completion happens inside ApplyReceipts.
func (b *ReceiptBatcher) Flush(ctx context.Context) FlushResult {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var result FlushResult

	batch := b.buf.drain()
	if len(batch) == 0 {
		return result
	}
	start := time.Now()
	defer func() {
		b.metrics.ReceiptFlushDuration.Observe(time.Since(start).Seconds())
		b.metrics.ReceiptBufferSize.Set(float64(b.buf.len()))
	}()

	order, groups := groupByCampaign(batch)
	result.Campaigns = len(order)

	for _, campaignID := range order {
		receipts := groups[campaignID]
		log := b.logger.With(zap.String("campaign_id", campaignID.String()))

		outcome, err := b.logs.ApplyReceipts(ctx, campaignID, receipts)
		if errors.Is(err, repository.ErrNotFound) {
			b.buf.release(len(receipts))
			result.Dropped += len(receipts)
			log.Warn("dropping receipts for unknown campaign", zap.Int("receipts", len(receipts)))
			continue
		}
		if err != nil {
			b.buf.requeue(receipts)
			result.Requeued += len(receipts)
			log.Error("failed to apply receipts, requeued", zap.Int("receipts", len(receipts)), zap.Error(err))
			continue
		}

		b.buf.release(len(receipts))
		result.Sent += outcome.Sent
		result.Failed += outcome.Failed
		result.Skipped += outcome.Skipped
		b.metrics.ReceiptsApplied.WithLabelValues(string(models.DeliveryStatusSent)).Add(float64(outcome.Sent))
		b.metrics.ReceiptsApplied.WithLabelValues(string(models.DeliveryStatusFailed)).Add(float64(outcome.Failed))
		b.metrics.ReceiptsSkipped.Add(float64(outcome.Skipped))

		if outcome.Skipped > 0 {
			log.Info("ignored duplicate or uncorrelated receipts", zap.Int("skipped", outcome.Skipped))
		}

		if outcome.Completed {
			result.Completed++
			b.metrics.CampaignsCompleted.Inc()
			log.Info("campaign completed",
				zap.Int("audience_size", outcome.Stats.AudienceSize),
				zap.Int("sent", outcome.Stats.Sent),
				zap.Int("failed", outcome.Stats.Failed))
		}
	}
	b.failing.Store(result.Requeued > 0)

	b.logger.Debug("receipt batch flushed",
		zap.Int("receipts", len(batch)),
		zap.Int("campaigns", result.Campaigns),
		zap.Int("requeued", result.Requeued))

	return result
}

// groupByCampaign splits a batch per campaign, keeping first-seen order
func groupByCampaign(batch []models.DeliveryReceipt) ([]uuid.UUID, map[uuid.UUID][]models.DeliveryReceipt) {
	order := []uuid.UUID{}
	groups := make(map[uuid.UUID][]models.DeliveryReceipt)
	for _, r := range batch {
		if _, ok := groups[r.CampaignID]; !ok {
			order = append(order, r.CampaignID)
		}
		groups[r.CampaignID] = append(groups[r.CampaignID], r)
	}
	return order, groups
}
