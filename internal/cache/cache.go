package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const (
	tierHot        = "hot"
	tierPersistent = "persistent"
)

// MetricsKey is the cache key of an address's metrics snapshot
func MetricsKey(address string) string { return "metrics:" + address }

// WalletKey is the cache key of an address's current wallet snapshot
func WalletKey(address string) string { return "wallet:" + address }

// Cache is the two-tier cache interface used by the engine
type Cache interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// TieredCache fronts the persistent tier with the hot tier. Reads fall
// through to storage and backfill; writes reach storage before the hot tier,
// so a hot entry is never staler than its persistent copy.
type TieredCache struct {
	hot            *HotTier
	store          storage.Storage
	transactionTTL time.Duration
	now            func() time.Time
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewTieredCache creates a two-tier cache over store
func NewTieredCache(hot *HotTier, store storage.Storage, transactionTTL time.Duration, metricsManager *metrics.Manager) *TieredCache {
	return &TieredCache{
		hot:            hot,
		store:          store,
		transactionTTL: transactionTTL,
		now:            time.Now,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("cache"),
	}
}

// SetClock replaces the time source
func (c *TieredCache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns the unexpired entry under key
func (c *TieredCache) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	now := c.now()

	if entry, ok := c.hot.Get(key, now); ok {
		c.recordRequest(tierHot, true)
		return entry, true, nil
	}
	c.recordRequest(tierHot, false)

	entry, err := c.store.GetEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Expired(now) {
		c.recordRequest(tierPersistent, false)
		return nil, false, nil
	}
	c.recordRequest(tierPersistent, true)

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.hot.Set(entry)
	c.updateHotSize()
	return entry, true, nil
}

// Set writes value under key to both tiers. Re-setting a key replaces its
// value and resets its expiry.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()
	entry := &models.CacheEntry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if err := c.store.PutEntry(ctx, entry); err != nil {
		c.hot.Remove(key)
		return err
	}
	c.hot.Set(entry)
	c.updateHotSize()
	return nil
}

// Invalidate removes key from both tiers
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	c.hot.Remove(key)
	c.updateHotSize()
	return c.store.DeleteEntry(ctx, key)
}

// GetJSON decodes the entry under key into v
func (c *TieredCache) GetJSON(ctx context.Context, key string, v interface{}) (*models.CacheEntry, bool, error) {
	entry, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := json.Unmarshal(entry.Value, v); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Dropping undecodable cache entry")
		_ = c.Invalidate(ctx, key)
		return nil, false, nil
	}
	return entry, true, nil
}

// SetJSON encodes v and stores it under key
func (c *TieredCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode cache value", err.Error())
	}
	return c.Set(ctx, key, data, ttl)
}

// UpsertRecords stores records with the transaction TTL and invalidates the
// derived metrics of address.
func (c *TieredCache) UpsertRecords(ctx context.Context, address string, records []*models.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}

	var expiresAt time.Time
	if c.transactionTTL > 0 {
		expiresAt = c.now().Add(c.transactionTTL)
	}
	if err := c.store.UpsertRecords(ctx, records, expiresAt); err != nil {
		return err
	}
	return c.Invalidate(ctx, MetricsKey(address))
}

// Records returns records matching filter, most recent first
func (c *TieredCache) Records(ctx context.Context, filter models.RecordFilter) ([]*models.TransactionRecord, error) {
	return c.store.ListRecords(ctx, filter)
}

// Store exposes the persistent tier
func (c *TieredCache) Store() storage.Storage {
	return c.store
}

// PurgeExpired drops expired entries from both tiers
func (c *TieredCache) PurgeExpired(ctx context.Context) (int64, error) {
	now := c.now()
	hot := c.hot.PurgeExpired(now)
	c.updateHotSize()

	persistent, err := c.store.PurgeExpired(ctx, now)
	if err != nil {
		return int64(hot), err
	}
	return int64(hot) + persistent, nil
}

// HotLen returns the hot tier size
func (c *TieredCache) HotLen() int {
	return c.hot.Len()
}

func (c *TieredCache) recordRequest(tier string, hit bool) {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordCacheRequest(tier, hit)
	}
}

func (c *TieredCache) updateHotSize() {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().UpdateHotCacheEntries(c.hot.Len())
	}
}
