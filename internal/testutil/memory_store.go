package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// MemoryStore is an in-memory stand-in for the Postgres repositories. It
// keeps the conditional-update semantics of the SQL (status guards, one log
// per recipient, only PENDING logs count) so pipeline stages can be driven
// end to end. Audience filters are evaluated with MatchFilter.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
	customers map[uuid.UUID]*models.Customer
	logs      map[uuid.UUID]*models.CommunicationLog
	logIndex  map[[2]uuid.UUID]uuid.UUID
	filters   []rules.Filter

	// ApplyErr, when set, fails ApplyReceipts for a campaign before any change
	ApplyErr func(campaignID uuid.UUID) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[uuid.UUID]*models.Campaign),
		customers: make(map[uuid.UUID]*models.Customer),
		logs:      make(map[uuid.UUID]*models.CommunicationLog),
		logIndex:  make(map[[2]uuid.UUID]uuid.UUID),
	}
}

// AddCampaign stores a copy of c
func (s *MemoryStore) AddCampaign(c *models.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = cloneCampaign(c)
}

// AddCustomers stores copies of customers
func (s *MemoryStore) AddCustomers(customers ...*models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range customers {
		cp := *c
		s.customers[c.ID] = &cp
	}
}

// RemoveCustomer deletes a customer
func (s *MemoryStore) RemoveCustomer(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.customers, id)
}

// Campaign returns a snapshot of a stored campaign, or nil
func (s *MemoryStore) Campaign(id uuid.UUID) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil
	}
	return cloneCampaign(c)
}

// Logs returns snapshots of a campaign's communication logs
func (s *MemoryStore) Logs(campaignID uuid.UUID) []models.CommunicationLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.CommunicationLog{}
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID.String() < out[j].CustomerID.String() })
	return out
}

// Filters returns the audience filters the customer store was queried with
func (s *MemoryStore) Filters() []rules.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rules.Filter(nil), s.filters...)
}

// Campaigns returns the store as a CampaignRepository
func (s *MemoryStore) Campaigns() repository.CampaignRepository { return memCampaigns{s} }

// Customers returns the store as a CustomerRepository
func (s *MemoryStore) Customers() repository.CustomerRepository { return memCustomers{s} }

// CommunicationLogs returns the store as a CommunicationLogRepository
func (s *MemoryStore) CommunicationLogs() repository.CommunicationLogRepository { return memLogs{s} }

func cloneCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.Tags = append([]string{}, c.Tags...)
	return &cp
}

func hasStatus(status models.CampaignStatus, set []models.CampaignStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

type memCampaigns struct{ s *MemoryStore }

func (m memCampaigns) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	m.s.AddCampaign(campaign)
	return nil
}

func (m memCampaigns) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	if c := m.s.Campaign(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
}

func (m memCampaigns) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Campaign, error) {
	c := m.s.Campaign(id)
	if c == nil || c.OwnerID != ownerID {
		return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	return c, nil
}

func (m memCampaigns) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	matched := []*models.Campaign{}
	for _, c := range m.s.campaigns {
		if c.OwnerID != filters.OwnerID || (filters.Status != nil && c.Status != *filters.Status) {
			continue
		}
		matched = append(matched, cloneCampaign(c))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	size := filters.PageSize
	if size <= 0 {
		size = 20
	}
	start := (filters.Page - 1) * size
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (m memCampaigns) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	due := []*models.Campaign{}
	for _, c := range m.s.campaigns {
		if c.IsDue(now) {
			due = append(due, cloneCampaign(c))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m memCampaigns) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.campaigns[id]
	if !ok || !hasStatus(c.Status, from) {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m memCampaigns) MarkProcessing(ctx context.Context, id uuid.UUID, audienceSize int, tags []string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.campaigns[id]
	if !ok || !hasStatus(c.Status, []models.CampaignStatus{models.CampaignStatusScheduled, models.CampaignStatusPending}) {
		return false, nil
	}
	c.Status = models.CampaignStatusProcessing
	c.Stats.AudienceSize = audienceSize
	c.Tags = append([]string{}, tags...)
	return true, nil
}

func (m memCampaigns) CompleteIfDone(ctx context.Context, id uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.campaigns[id]
	if !ok || c.Status != models.CampaignStatusProcessing || !c.Stats.IsDone() {
		return false, nil
	}
	c.Status = models.CampaignStatusCompleted
	return true, nil
}

type memCustomers struct{ s *MemoryStore }

func (m memCustomers) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// audience returns the customers matching filter sorted by id. m.s.mu must
// be held.
func (m memCustomers) audience(filter rules.Filter) ([]*models.Customer, error) {
	m.s.filters = append(m.s.filters, filter)

	out := []*models.Customer{}
	for _, c := range m.s.customers {
		ok, err := MatchFilter(filter, c)
		if err != nil {
			return nil, err
		}
		if ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m memCustomers) CountByFilter(ctx context.Context, filter rules.Filter) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	members, err := m.audience(filter)
	return len(members), err
}

func (m memCustomers) Summarize(ctx context.Context, filter rules.Filter) (*repository.AudienceSummary, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	members, err := m.audience(filter)
	if err != nil {
		return nil, err
	}
	summary := &repository.AudienceSummary{Size: len(members)}
	if len(members) > 0 {
		var total float64
		for _, c := range members {
			total += c.LifetimeSpend
		}
		summary.AvgSpend = total / float64(len(members))
	}
	return summary, nil
}

func (m memCustomers) ListByFilter(ctx context.Context, filter rules.Filter, afterID uuid.UUID, limit int) ([]*models.Customer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	members, err := m.audience(filter)
	if err != nil {
		return nil, err
	}
	page := []*models.Customer{}
	for _, c := range members {
		if c.ID.String() <= afterID.String() {
			continue
		}
		page = append(page, c)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type memLogs struct{ s *MemoryStore }

func (m memLogs) CreatePending(ctx context.Context, log *models.CommunicationLog) (*models.CommunicationLog, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	key := [2]uuid.UUID{log.CampaignID, log.CustomerID}
	if id, ok := m.s.logIndex[key]; ok {
		cp := *m.s.logs[id]
		return &cp, false, nil
	}

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.Status = models.DeliveryStatusPending
	log.CreatedAt = time.Now()
	log.LastUpdatedAt = log.CreatedAt

	stored := *log
	m.s.logs[log.ID] = &stored
	m.s.logIndex[key] = log.ID

	cp := stored
	return &cp, true, nil
}

func (m memLogs) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	l, ok := m.s.logs[id]
	if !ok {
		return fmt.Errorf("communication log %s: %w", id, repository.ErrNotFound)
	}
	l.VendorSubmitted = true
	return nil
}

func (m memLogs) GetByID(ctx context.Context, id uuid.UUID) (*models.CommunicationLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	l, ok := m.s.logs[id]
	if !ok {
		return nil, fmt.Errorf("communication log %s: %w", id, repository.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (m memLogs) CountByStatus(ctx context.Context, campaignID uuid.UUID) (*models.DeliveryBreakdown, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	b := &models.DeliveryBreakdown{}
	for _, l := range m.s.logs {
		if l.CampaignID != campaignID {
			continue
		}
		switch l.Status {
		case models.DeliveryStatusPending:
			b.Pending++
		case models.DeliveryStatusSent:
			b.Sent++
		case models.DeliveryStatusFailed:
			b.Failed++
		}
	}
	return b, nil
}

func (m memLogs) ApplyReceipts(ctx context.Context, campaignID uuid.UUID, receipts []models.DeliveryReceipt) (*repository.ReceiptOutcome, error) {
	if m.s.ApplyErr != nil {
		if err := m.s.ApplyErr(campaignID); err != nil {
			return nil, err
		}
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, repository.ErrNotFound)
	}

	outcome := &repository.ReceiptOutcome{}
	for _, r := range receipts {
		id, ok := r.CorrelationKey()
		l, found := m.s.logs[id]
		if !ok || !found || !r.Status.IsTerminal() || l.CampaignID != campaignID || l.Status != models.DeliveryStatusPending {
			outcome.Skipped++
			continue
		}
		l.Status = r.Status
		l.LastUpdatedAt = time.Now()
		if r.Status == models.DeliveryStatusSent {
			outcome.Sent++
		} else {
			outcome.Failed++
		}
	}

	c.Stats.Sent += outcome.Sent
	c.Stats.Failed += outcome.Failed
	if c.Status == models.CampaignStatusProcessing && c.Stats.IsDone() {
		c.Status = models.CampaignStatusCompleted
		outcome.Completed = true
	}
	outcome.Stats = c.Stats
	outcome.Status = c.Status
	return outcome, nil
}
