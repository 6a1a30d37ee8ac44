// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// MockCampaignRepository mocks CampaignRepository. Unset funcs return
// zero values.
type MockCampaignRepository struct {
	CreateFunc           func(ctx context.Context, campaign *models.Campaign) error
	GetByIDFunc          func(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	GetByIDForOwnerFunc  func(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error)
	ListFunc             func(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error)
	FindDueScheduledFunc func(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	TransitionStatusFunc func(ctx context.Context, id uuid.UUID, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	MarkProcessingFunc   func(ctx context.Context, id uuid.UUID, audienceSize int, tags []string) (bool, error)
	CompleteIfDoneFunc   func(ctx context.Context, id uuid.UUID) (bool, error)

	calls
}

func NewMockCampaignRepository() *MockCampaignRepository {
	return &MockCampaignRepository{}
}

func (m *MockCampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	m.record("Create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, campaign)
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	return nil
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	m.record("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockCampaignRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error) {
	m.record("GetByIDForOwner")
	if m.GetByIDForOwnerFunc != nil {
		return m.GetByIDForOwnerFunc(ctx, id, ownerID)
	}
	return nil, repository.ErrNotFound
}

func (m *MockCampaignRepository) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	m.record("List")
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filters)
	}
	return []*models.Campaign{}, 0, nil
}

func (m *MockCampaignRepository) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	m.record("FindDueScheduled")
	if m.FindDueScheduledFunc != nil {
		return m.FindDueScheduledFunc(ctx, now, limit)
	}
	return []*models.Campaign{}, nil
}

func (m *MockCampaignRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	m.record("TransitionStatus")
	if m.TransitionStatusFunc != nil {
		return m.TransitionStatusFunc(ctx, id, from, to)
	}
	return true, nil
}

func (m *MockCampaignRepository) MarkProcessing(ctx context.Context, id uuid.UUID, audienceSize int, tags []string) (bool, error) {
	m.record("MarkProcessing")
	if m.MarkProcessingFunc != nil {
		return m.MarkProcessingFunc(ctx, id, audienceSize, tags)
	}
	return true, nil
}

func (m *MockCampaignRepository) CompleteIfDone(ctx context.Context, id uuid.UUID) (bool, error) {
	m.record("CompleteIfDone")
	if m.CompleteIfDoneFunc != nil {
		return m.CompleteIfDoneFunc(ctx, id)
	}
	return false, nil
}

// MockCustomerRepository mocks CustomerRepository
type MockCustomerRepository struct {
	GetByIDFunc       func(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	CountByFilterFunc func(ctx context.Context, filter rules.Filter) (int, error)
	SummarizeFunc     func(ctx context.Context, filter rules.Filter) (*repository.AudienceSummary, error)
	ListByFilterFunc  func(ctx context.Context, filter rules.Filter, afterID uuid.UUID, limit int) ([]*models.Customer, error)

	calls
}

func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{}
}

func (m *MockCustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	m.record("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	c := NewTestCustomer(uuid.New())
	c.ID = id
	return c, nil
}

func (m *MockCustomerRepository) CountByFilter(ctx context.Context, filter rules.Filter) (int, error) {
	m.record("CountByFilter")
	if m.CountByFilterFunc != nil {
		return m.CountByFilterFunc(ctx, filter)
	}
	return 0, nil
}

func (m *MockCustomerRepository) Summarize(ctx context.Context, filter rules.Filter) (*repository.AudienceSummary, error) {
	m.record("Summarize")
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, filter)
	}
	return &repository.AudienceSummary{}, nil
}

func (m *MockCustomerRepository) ListByFilter(ctx context.Context, filter rules.Filter, afterID uuid.UUID, limit int) ([]*models.Customer, error) {
	m.record("ListByFilter")
	if m.ListByFilterFunc != nil {
		return m.ListByFilterFunc(ctx, filter, afterID, limit)
	}
	return []*models.Customer{}, nil
}

// MockCommunicationLogRepository mocks CommunicationLogRepository
type MockCommunicationLogRepository struct {
	CreatePendingFunc func(ctx context.Context, log *models.CommunicationLog) (*models.CommunicationLog, bool, error)
	MarkSubmittedFunc func(ctx context.Context, id uuid.UUID) error
	GetByIDFunc       func(ctx context.Context, id uuid.UUID) (*models.CommunicationLog, error)
	CountByStatusFunc func(ctx context.Context, campaignID uuid.UUID) (*models.DeliveryBreakdown, error)
	ApplyReceiptsFunc func(ctx context.Context, campaignID uuid.UUID, receipts []models.DeliveryReceipt) (*repository.ReceiptOutcome, error)

	calls
}

func NewMockCommunicationLogRepository() *MockCommunicationLogRepository {
	return &MockCommunicationLogRepository{}
}

func (m *MockCommunicationLogRepository) CreatePending(ctx context.Context, log *models.CommunicationLog) (*models.CommunicationLog, bool, error) {
	m.record("CreatePending")
	if m.CreatePendingFunc != nil {
		return m.CreatePendingFunc(ctx, log)
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.Status = models.DeliveryStatusPending
	return log, true, nil
}

func (m *MockCommunicationLogRepository) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	m.record("MarkSubmitted")
	if m.MarkSubmittedFunc != nil {
		return m.MarkSubmittedFunc(ctx, id)
	}
	return nil
}

func (m *MockCommunicationLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CommunicationLog, error) {
	m.record("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockCommunicationLogRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (*models.DeliveryBreakdown, error) {
	m.record("CountByStatus")
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, campaignID)
	}
	return &models.DeliveryBreakdown{}, nil
}

func (m *MockCommunicationLogRepository) ApplyReceipts(ctx context.Context, campaignID uuid.UUID, receipts []models.DeliveryReceipt) (*repository.ReceiptOutcome, error) {
	m.record("ApplyReceipts")
	if m.ApplyReceiptsFunc != nil {
		return m.ApplyReceiptsFunc(ctx, campaignID, receipts)
	}
	return &repository.ReceiptOutcome{}, nil
}

// Published is one message recorded by MockPublisher
type Published struct {
	Queue string
	Body  []byte
}

// Decode unmarshals the recorded body into v
func (p Published) Decode(v interface{}) error {
	return json.Unmarshal(p.Body, v)
}

// MockPublisher records published messages
type MockPublisher struct {
	PublishFunc func(ctx context.Context, queueName string, v interface{}) error

	mu        sync.Mutex
	published []Published
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, queueName string, v interface{}) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, queueName, v); err != nil {
			return err
		}
	}

	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Published{Queue: queueName, Body: body})
	return nil
}

// On returns the messages published to queueName, in order
func (m *MockPublisher) On(queueName string) []Published {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Published{}
	for _, p := range m.published {
		if p.Queue == queueName {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of messages published to queueName
func (m *MockPublisher) Count(queueName string) int {
	return len(m.On(queueName))
}

// Reset forgets all recorded messages
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// calls tracks method invocations of a mock
type calls struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *calls) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[method]++
}

// Calls returns how often method was invoked
func (c *calls) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[method]
}
