// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/presale-monitor/internal/models"
)

// Storage defines the persistent tier: TTL-indexed cache entries, the
// transaction record set, the processed-signature ledger, the pending queue
// and wallet snapshot history.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Cache entry operations. GetEntry returns nil on a miss.
	PutEntry(ctx context.Context, entry *models.CacheEntry) error
	GetEntry(ctx context.Context, key string) (*models.CacheEntry, error)
	DeleteEntry(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// Transaction record operations
	UpsertRecords(ctx context.Context, records []*models.TransactionRecord, expiresAt time.Time) error
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.TransactionRecord, error)
	CountRecords(ctx context.Context, address string) (int64, error)
	ContributorTotals(ctx context.Context, address string) ([]*ContributorTotal, error)

	// Signature ledger operations
	MarkProcessed(ctx context.Context, processed []*models.ProcessedSignature) error
	NewestProcessed(ctx context.Context, address string) (*models.ProcessedSignature, error)
	FilterUnprocessed(ctx context.Context, address string, signatures []string) ([]string, error)

	// Pending signature operations. AddPending increments the attempt count
	// of signatures already queued.
	AddPending(ctx context.Context, pending []*models.PendingSignature) error
	ListPending(ctx context.Context, address string) ([]*models.PendingSignature, error)
	RemovePending(ctx context.Context, address string, signatures []string) error

	// Snapshot operations
	SaveSnapshot(ctx context.Context, snapshot *models.WalletSnapshot) error
	LatestSnapshot(ctx context.Context, address string) (*models.WalletSnapshot, error)
	ListSnapshots(ctx context.Context, address string, since time.Time) ([]*models.WalletSnapshot, error)

	// Statistics and monitoring
	GetStorageStats() (*StorageStats, error)
}

// ContributorTotal is a group-by-counterparty sum of successful deposits
type ContributorTotal struct {
	Counterparty    string  `json:"counterparty" db:"counterparty"`
	TotalUSD        float64 `json:"total_usd" db:"total_usd"`
	Count           int64   `json:"count" db:"count"`
	FirstTimestamp  int64   `json:"first_timestamp_ms" db:"first_ts"`
	LatestTimestamp int64   `json:"latest_timestamp_ms" db:"last_ts"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalRecords      int64  `json:"total_records"`
	ProcessedCount    int64  `json:"processed_signatures"`
	PendingCount      int64  `json:"pending_signatures"`
	SnapshotCount     int64  `json:"snapshots"`
	CacheEntries      int64  `json:"cache_entries"`
	DatabaseSize      int64  `json:"database_size_bytes"`
	Backend           string `json:"backend"`
	LatestProcessedMs int64  `json:"latest_processed_ms"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
