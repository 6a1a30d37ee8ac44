package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/lock"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/testutil"
)

type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "token", l.ok, l.err
}

func (l *stubLocker) Release(ctx context.Context, key, token string) error {
	l.released++
	return nil
}

func scheduledCampaign(owner uuid.UUID, at time.Time) *models.Campaign {
	c := testutil.NewTestCampaignWithStatus(owner, models.CampaignStatusScheduled)
	c.DeliveryMode = models.DeliveryModeScheduled
	c.ScheduledAt = &at
	return c
}

func TestScheduler_PromotesOnlyOnceDue(t *testing.T) {
	store := testutil.NewMemoryStore()
	publisher := testutil.NewMockPublisher()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	campaign := scheduledCampaign(uuid.New(), base.Add(time.Minute))
	store.AddCampaign(campaign)

	s := NewScheduler(store.Campaigns(), publisher, nil, testPipelineConfig(), newTestMetrics(), nopLogger)

	s.now = func() time.Time { return base }
	promoted, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, models.CampaignStatusScheduled, store.Campaign(campaign.ID).Status)
	assert.Equal(t, 0, publisher.Count(models.QueueCampaignCreated))

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	promoted, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, models.CampaignStatusPending, store.Campaign(campaign.ID).Status)

	promoted, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	events := publisher.On(models.QueueCampaignCreated)
	require.Len(t, events, 1)
	var event models.CampaignEvent
	require.NoError(t, events[0].Decode(&event))
	assert.Equal(t, campaign.ID, event.CampaignID)
}

func TestScheduler_PublishFailureLeavesCampaignScheduled(t *testing.T) {
	store := testutil.NewMemoryStore()
	publisher := testutil.NewMockPublisher()
	publisher.PublishFunc = func(ctx context.Context, queueName string, v interface{}) error {
		return errors.New("channel closed")
	}
	campaign := scheduledCampaign(uuid.New(), time.Now().Add(-time.Minute))
	store.AddCampaign(campaign)

	s := NewScheduler(store.Campaigns(), publisher, nil, testPipelineConfig(), newTestMetrics(), nopLogger)

	promoted, err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, models.CampaignStatusScheduled, store.Campaign(campaign.ID).Status)
}

func TestScheduler_SkipsTickClaimedElsewhere(t *testing.T) {
	repo := testutil.NewMockCampaignRepository()
	locker := &stubLocker{ok: false}

	s := NewScheduler(repo, testutil.NewMockPublisher(), locker, testPipelineConfig(), newTestMetrics(), nopLogger)

	promoted, err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, 0, repo.Calls("FindDueScheduled"))
	assert.Equal(t, 0, locker.released)
}

func TestScheduler_LockErrorIsReported(t *testing.T) {
	repo := testutil.NewMockCampaignRepository()
	s := NewScheduler(repo, testutil.NewMockPublisher(), &stubLocker{err: errors.New("redis down")},
		testPipelineConfig(), newTestMetrics(), nopLogger)

	_, err := s.Tick(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 0, repo.Calls("FindDueScheduled"))
}

func TestScheduler_ReleasesLockAfterTick(t *testing.T) {
	repo := testutil.NewMockCampaignRepository()
	locker := &stubLocker{ok: true}
	s := NewScheduler(repo, testutil.NewMockPublisher(), locker, testPipelineConfig(), newTestMetrics(), nopLogger)

	_, err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, repo.Calls("FindDueScheduled"))
	assert.Equal(t, 1, locker.released)
}

func TestScheduler_RedisLockSharedBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client)

	store := testutil.NewMemoryStore()
	store.AddCampaign(scheduledCampaign(uuid.New(), time.Now().Add(-time.Minute)))
	publisher := testutil.NewMockPublisher()

	// another instance holds this tick
	token, ok, err := locker.TryAcquire(context.Background(), SchedulerLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := NewScheduler(store.Campaigns(), publisher, locker, testPipelineConfig(), newTestMetrics(), nopLogger)

	promoted, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	require.NoError(t, locker.Release(context.Background(), SchedulerLockKey, token))

	promoted, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.False(t, mr.Exists(SchedulerLockKey))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.SchedulerInterval = 10 * time.Millisecond
	repo := testutil.NewMockCampaignRepository()
	s := NewScheduler(repo, testutil.NewMockPublisher(), nil, cfg, newTestMetrics(), nopLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return repo.Calls("FindDueScheduled") > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
