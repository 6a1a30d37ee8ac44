package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// DBPinger is satisfied by *sql.DB
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// QueueStatus is satisfied by *queue.Connection
type QueueStatus interface {
	IsConnected() bool
}

// RedisPinger is satisfied by *lock.RedisLocker
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db      DBPinger
	queue   QueueStatus
	redis   RedisPinger
	version string
}

// NewHealthService creates a new HealthChecker instance. queue and redis may
// be nil for processes that do not use them.
func NewHealthService(db DBPinger, queue QueueStatus, redis RedisPinger, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		queue:   queue,
		redis:   redis,
		version: version,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue() string {
	if h.queue == nil {
		return StatusDisabled
	}
	if !h.queue.IsConnected() {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return StatusDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["queue"] == StatusDisconnected || services["redis"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
		"redis":    h.checkRedis(ctx),
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
