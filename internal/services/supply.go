package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/pkg/cache"
	"github.com/zacharyr0th/aptos-stables/pkg/keylock"
	"github.com/zacharyr0th/aptos-stables/pkg/logger"
	"github.com/zacharyr0th/aptos-stables/pkg/metrics"
	"github.com/zacharyr0th/aptos-stables/pkg/retry"

	"go.uber.org/zap"
)

const (
	partialMessage = "Some supply data is temporarily unavailable"
	persistTimeout = 2 * time.Second
	lockIdleTTL    = 5 * time.Minute
)

// knownValue is the last value successfully fetched for an asset
type knownValue struct {
	value     *big.Int
	fetchedAt time.Time
}

// SupplyService aggregates supplies for the asset table through the cache.
// It keeps the last good value per asset so fallbacks outlive cache expiry.
type SupplyService struct {
	indexer IndexerClient
	cache   *cache.Cache
	store   SnapshotStore
	assets  []config.Asset
	metrics *metrics.MetricsCollector
	locks   *keylock.KeyLock

	lastKnown map[string]knownValue
	mutex     sync.RWMutex
}

// NewSupplyService creates a new SupplyService instance.
// A nil store keeps last known values in memory only.
func NewSupplyService(indexer IndexerClient, supplyCache *cache.Cache, store SnapshotStore, assets []config.Asset, collector *metrics.MetricsCollector) *SupplyService {
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}

	return &SupplyService{
		indexer:   indexer,
		cache:     supplyCache,
		store:     store,
		assets:    assets,
		metrics:   collector,
		locks:     keylock.New(lockIdleTTL),
		lastKnown: make(map[string]knownValue, len(assets)),
	}
}

// GetSupplies returns the supply of every configured asset.
// It fetches only what is missing or nearing expiry, falling back to last
// known values when the upstream fails.
func (s *SupplyService) GetSupplies(ctx context.Context) (*models.SupplyResponse, error) {
	log := logger.GetLogger().WithContext(ctx)

	mustFetch := s.partition(true)
	if len(mustFetch) == 0 {
		if resp, ok := s.reconcile(true); ok {
			return resp, nil
		}
		// an entry expired between the check and the read
		mustFetch = s.partition(false)
	}

	fetched, err := s.refresh(ctx, mustFetch)
	if err != nil {
		log.Warn("Supply refresh failed, serving last known values",
			zap.Int("requested", len(mustFetch)),
			zap.Error(err),
		)

		if resp, ok := s.fallback(); ok {
			s.metrics.RecordStaleResponse()
			return resp, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	resp, ok := s.reconcile(!fetched)
	if !ok {
		return nil, ErrDataUnavailable
	}
	return resp, nil
}

// GetPartialSupplies returns whatever each asset last had, ignoring TTL.
// The bool is false when no asset has any value.
func (s *SupplyService) GetPartialSupplies() (*models.SupplyResponse, bool) {
	results := make([]models.SupplyResult, 0, len(s.assets))
	total := new(big.Int)
	available := 0

	for _, asset := range s.assets {
		value, ok := s.lastKnownValue(asset.Key)
		if !ok {
			results = append(results, models.NewSupplyResult(asset.Symbol, nil))
			continue
		}
		available++
		total.Add(total, value)
		results = append(results, models.NewSupplyResult(asset.Symbol, value))
	}

	if available == 0 {
		return nil, false
	}

	s.metrics.RecordPartialResponse()
	return &models.SupplyResponse{
		Supplies: results,
		Total:    total.String(),
		Cached:   true,
		Partial:  true,
		Message:  partialMessage,
	}, true
}

// WarmStart loads persisted snapshots for configured assets into memory.
// The cache itself stays cold so the first request still refreshes.
func (s *SupplyService) WarmStart(ctx context.Context) (int, error) {
	snapshots, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshots: %w", err)
	}

	configured := make(map[string]bool, len(s.assets))
	for _, asset := range s.assets {
		configured[asset.Key] = true
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	loaded := 0
	for _, snapshot := range snapshots {
		if !configured[snapshot.Key] {
			continue
		}
		value, ok := snapshot.Value()
		if !ok || value.Sign() < 0 {
			continue
		}
		if current, exists := s.lastKnown[snapshot.Key]; exists && current.fetchedAt.After(snapshot.FetchedAt) {
			continue
		}
		s.lastKnown[snapshot.Key] = knownValue{value: value, fetchedAt: snapshot.FetchedAt}
		loaded++
	}

	return loaded, nil
}

// CacheStatus counts assets that are fresh, only stale, or missing entirely
func (s *SupplyService) CacheStatus() models.CacheStatus {
	status := models.CacheStatus{Size: s.cache.Size()}

	for _, asset := range s.assets {
		switch {
		case s.cache.Has(asset.Key):
			status.Fresh++
		default:
			if _, ok := s.lastKnownValue(asset.Key); ok {
				status.Stale++
			} else {
				status.Missing++
			}
		}
	}
	return status
}

// CleanupLocks drops idle refresh locks
func (s *SupplyService) CleanupLocks() int {
	return s.locks.Cleanup()
}

// partition returns keys that are absent or nearing expiry, in table order
func (s *SupplyService) partition(record bool) []string {
	mustFetch := make([]string, 0, len(s.assets))
	for _, asset := range s.assets {
		if !s.cache.Has(asset.Key) || s.cache.NearingExpiry(asset.Key) {
			mustFetch = append(mustFetch, asset.Key)
			if record {
				s.metrics.RecordCacheMiss()
			}
			continue
		}
		if record {
			s.metrics.RecordCacheHit()
		}
	}
	return mustFetch
}

// refresh fetches keys in one upstream call. Concurrent refreshes of the same
// key set wait for each other and skip keys the winner already stored.
// fetched is false when nothing was left to fetch after waiting.
func (s *SupplyService) refresh(ctx context.Context, keys []string) (fetched bool, err error) {
	log := logger.GetLogger().WithContext(ctx)

	waitStart := time.Now()
	unlock, err := s.locks.Lock(ctx, strings.Join(keys, ","))
	if err != nil {
		return false, fmt.Errorf("%w: %v", retry.ErrCancelled, err)
	}
	defer unlock()

	if time.Since(waitStart) > time.Millisecond {
		s.metrics.RecordLockWait()
	}

	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		if !s.cache.Has(key) || s.cache.NearingExpiry(key) {
			pending = append(pending, key)
		}
	}
	if len(pending) == 0 {
		log.Debug("Supplies refreshed by concurrent request")
		return false, nil
	}

	start := time.Now()
	supplies, err := s.indexer.FetchSupplies(ctx, pending)
	duration := time.Since(start)
	s.metrics.RecordUpstreamCall(duration, err == nil)
	if err != nil {
		return false, err
	}

	fetchedAt := time.Now().UTC()
	snapshots := make([]models.Snapshot, 0, len(pending))
	missing := 0
	for _, key := range pending {
		value, ok := supplies[key]
		if !ok {
			missing++
			continue
		}
		s.cache.Set(key, value)
		snapshots = append(snapshots, models.Snapshot{
			Key:       key,
			Symbol:    s.symbolFor(key),
			Supply:    value.String(),
			FetchedAt: fetchedAt,
		})
	}

	if missing > 0 {
		log.Warn("Upstream response omitted requested assets",
			zap.Int("missing_count", missing),
			zap.Int("requested", len(pending)),
		)
	}

	s.remember(ctx, snapshots)

	log.Debug("Supplies fetched from indexer",
		zap.Int("requested", len(pending)),
		zap.Int("stored", len(snapshots)),
		zap.Duration("upstream_duration", duration),
	)
	return true, nil
}

// reconcile reads every asset through the cache; any absence fails the whole set
func (s *SupplyService) reconcile(cached bool) (*models.SupplyResponse, bool) {
	results := make([]models.SupplyResult, 0, len(s.assets))
	total := new(big.Int)

	for _, asset := range s.assets {
		value, ok := s.cache.Get(asset.Key)
		if !ok {
			return nil, false
		}
		total.Add(total, value)
		results = append(results, models.NewSupplyResult(asset.Symbol, value))
	}

	return &models.SupplyResponse{
		Supplies: results,
		Total:    total.String(),
		Cached:   cached,
	}, true
}

// fallback serves the last known value of every asset, expired or not.
// It fails when some asset has never been fetched.
func (s *SupplyService) fallback() (*models.SupplyResponse, bool) {
	results := make([]models.SupplyResult, 0, len(s.assets))
	total := new(big.Int)

	for _, asset := range s.assets {
		value, ok := s.lastKnownValue(asset.Key)
		if !ok {
			return nil, false
		}
		total.Add(total, value)
		results = append(results, models.NewSupplyResult(asset.Symbol, value))
	}

	return &models.SupplyResponse{
		Supplies: results,
		Total:    total.String(),
		Cached:   true,
	}, true
}

// lastKnownValue prefers the cache entry and then the remembered snapshot
func (s *SupplyService) lastKnownValue(key string) (*big.Int, bool) {
	if value, _, ok := s.cache.Peek(key); ok {
		return value, true
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	known, ok := s.lastKnown[key]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(known.value), true
}

// remember records snapshots in memory and persists them to the store
func (s *SupplyService) remember(ctx context.Context, snapshots []models.Snapshot) {
	if len(snapshots) == 0 {
		return
	}

	s.mutex.Lock()
	for _, snapshot := range snapshots {
		if value, ok := snapshot.Value(); ok {
			s.lastKnown[snapshot.Key] = knownValue{value: value, fetchedAt: snapshot.FetchedAt}
		}
	}
	s.mutex.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.Save(persistCtx, snapshots); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithContext(ctx).Warn("Failed to persist supply snapshots",
			zap.Int("snapshot_count", len(snapshots)),
			zap.Error(err),
		)
	}
}

func (s *SupplyService) symbolFor(key string) string {
	for _, asset := range s.assets {
		if asset.Key == key {
			return asset.Symbol
		}
	}
	return ""
}
