package services

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health status of a service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	Message      string        `json:"message,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// StoreHealthChecker reports on the snapshot store
type StoreHealthChecker interface {
	CheckHealth() *HealthCheck
	GetDetailedHealth() map[string]*HealthCheck
}

// requiredIndexes are the index names EnsureIndexes creates
var requiredIndexes = []string{"fetched_at_1", "symbol_1"}

// DatabaseHealthChecker checks the MongoDB snapshot collection
type DatabaseHealthChecker struct {
	store   *MongoSnapshotStore
	keys    []string
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a health checker sharing the store's connection.
// keys are the configured asset keys, each expected to own one snapshot document.
func NewDatabaseHealthChecker(store *MongoSnapshotStore, keys []string) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		store:   store,
		keys:    keys,
		timeout: 5 * time.Second,
	}
}

// CheckHealth pings the MongoDB server
func (dhc *DatabaseHealthChecker) CheckHealth() *HealthCheck {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), dhc.timeout)
	defer cancel()

	healthCheck := &HealthCheck{Service: "mongodb", Status: HealthStatusHealthy, Message: "ping ok"}
	if err := dhc.store.Ping(ctx); err != nil {
		healthCheck.Status = HealthStatusUnhealthy
		healthCheck.Message = fmt.Sprintf("ping failed: %v", err)
	}

	return finishCheck(healthCheck, start)
}

// CheckSnapshots reports how many configured assets have a stored snapshot
func (dhc *DatabaseHealthChecker) CheckSnapshots() *HealthCheck {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), dhc.timeout)
	defer cancel()

	stored, err := dhc.store.CountSnapshots(ctx, dhc.keys)
	if err != nil {
		return finishCheck(&HealthCheck{
			Service: "mongodb_snapshots",
			Status:  HealthStatusUnhealthy,
			Message: err.Error(),
		}, start)
	}

	return finishCheck(snapshotCoverage(stored, len(dhc.keys)), start)
}

// CheckIndexes verifies that the indexes list and purge rely on exist
func (dhc *DatabaseHealthChecker) CheckIndexes() *HealthCheck {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), dhc.timeout)
	defer cancel()

	names, err := dhc.store.IndexNames(ctx)
	if err != nil {
		return finishCheck(&HealthCheck{
			Service: "mongodb_indexes",
			Status:  HealthStatusUnhealthy,
			Message: err.Error(),
		}, start)
	}

	return finishCheck(indexCoverage(names), start)
}

// GetDetailedHealth runs every check
func (dhc *DatabaseHealthChecker) GetDetailedHealth() map[string]*HealthCheck {
	return map[string]*HealthCheck{
		"connectivity": dhc.CheckHealth(),
		"snapshots":    dhc.CheckSnapshots(),
		"indexes":      dhc.CheckIndexes(),
	}
}

// snapshotCoverage is degraded while some assets have never been stored.
// Such assets have no fallback when the indexer is down.
func snapshotCoverage(stored int64, want int) *HealthCheck {
	check := &HealthCheck{Service: "mongodb_snapshots"}

	switch {
	case stored >= int64(want):
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("snapshots stored for all %d assets", want)
	default:
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("snapshots stored for %d of %d assets", stored, want)
	}
	return check
}

func indexCoverage(names []string) *HealthCheck {
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}

	var missing []string
	for _, name := range requiredIndexes {
		if !present[name] {
			missing = append(missing, name)
		}
	}

	check := &HealthCheck{Service: "mongodb_indexes", Status: HealthStatusHealthy, Message: "all required indexes present"}
	if len(missing) > 0 {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("missing indexes: %v", missing)
	}
	return check
}

func finishCheck(check *HealthCheck, start time.Time) *HealthCheck {
	check.Timestamp = start
	check.ResponseTime = time.Since(start)
	return check
}

// MemoryHealthChecker reports the in-process store, which is always reachable
type MemoryHealthChecker struct{}

// CheckHealth reports the in-memory store as healthy
func (MemoryHealthChecker) CheckHealth() *HealthCheck {
	now := time.Now()
	return &HealthCheck{
		Service:   "memory_store",
		Status:    HealthStatusHealthy,
		Message:   "snapshots kept in process memory",
		Timestamp: now,
	}
}

// GetDetailedHealth returns the single in-memory check
func (m MemoryHealthChecker) GetDetailedHealth() map[string]*HealthCheck {
	return map[string]*HealthCheck{"connectivity": m.CheckHealth()}
}
