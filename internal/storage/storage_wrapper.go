package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) observe(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		table,
		status,
		time.Since(start),
	)
}

// PutEntry saves a cache entry and records metrics
func (s *StorageWithMetrics) PutEntry(ctx context.Context, entry *models.CacheEntry) error {
	start := time.Now()
	err := s.Storage.PutEntry(ctx, entry)
	s.observe("upsert", "cache_entries", start, err)
	return err
}

// GetEntry reads a cache entry and records metrics
func (s *StorageWithMetrics) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	start := time.Now()
	entry, err := s.Storage.GetEntry(ctx, key)
	s.observe("select", "cache_entries", start, err)
	return entry, err
}

// UpsertRecords saves records and records metrics
func (s *StorageWithMetrics) UpsertRecords(ctx context.Context, records []*models.TransactionRecord, expiresAt time.Time) error {
	start := time.Now()
	err := s.Storage.UpsertRecords(ctx, records, expiresAt)
	s.observe("upsert", "transaction_records", start, err)
	return err
}

// ListRecords queries records and records metrics
func (s *StorageWithMetrics) ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.TransactionRecord, error) {
	start := time.Now()
	records, err := s.Storage.ListRecords(ctx, filter)
	s.observe("select", "transaction_records", start, err)
	return records, err
}

// MarkProcessed updates the signature ledger and records metrics
func (s *StorageWithMetrics) MarkProcessed(ctx context.Context, processed []*models.ProcessedSignature) error {
	start := time.Now()
	err := s.Storage.MarkProcessed(ctx, processed)
	s.observe("upsert", "processed_signatures", start, err)
	return err
}

// SaveSnapshot saves a snapshot and records metrics
func (s *StorageWithMetrics) SaveSnapshot(ctx context.Context, snapshot *models.WalletSnapshot) error {
	start := time.Now()
	err := s.Storage.SaveSnapshot(ctx, snapshot)
	s.observe("insert", "wallet_snapshots", start, err)
	return err
}

// PurgeExpired removes expired rows and records metrics
func (s *StorageWithMetrics) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	n, err := s.Storage.PurgeExpired(ctx, now)
	s.observe("delete", "cache_entries", start, err)
	return n, err
}
