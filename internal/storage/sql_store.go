package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlInChunk bounds the number of bound parameters of an IN list
const sqlInChunk = 500

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logrus.Entry
	now     func() time.Time
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) connected() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// PutEntry upserts a cache entry, replacing its value and expiry
func (s *sqlStore) PutEntry(ctx context.Context, entry *models.CacheEntry) error {
	if err := s.connected(); err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO cache_entries (key, value, created_at_ms, expires_at_ms, access_count, last_accessed_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			created_at_ms = EXCLUDED.created_at_ms,
			expires_at_ms = EXCLUDED.expires_at_ms,
			access_count = EXCLUDED.access_count,
			last_accessed_ms = EXCLUDED.last_accessed_ms
	`)
	_, err := s.db.ExecContext(ctx, query,
		entry.Key, entry.Value, toMillis(entry.CreatedAt), toMillis(entry.ExpiresAt),
		entry.AccessCount, toMillis(entry.LastAccessedAt))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save cache entry", err.Error())
	}
	return nil
}

// GetEntry returns the entry stored under key, expired or not, or nil
func (s *sqlStore) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT key, value, created_at_ms, expires_at_ms, access_count, last_accessed_ms
		FROM cache_entries WHERE key = ?
	`)

	var entry models.CacheEntry
	var created, expires, accessed int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&entry.Key, &entry.Value, &created, &expires, &entry.AccessCount, &accessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cache entry", err.Error())
	}

	entry.CreatedAt = fromMillis(created)
	entry.ExpiresAt = fromMillis(expires)
	entry.LastAccessedAt = fromMillis(accessed)
	return &entry, nil
}

// DeleteEntry removes a cache entry
func (s *sqlStore) DeleteEntry(ctx context.Context, key string) error {
	if err := s.connected(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM cache_entries WHERE key = ?`), key); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete cache entry", err.Error())
	}
	return nil
}

// PurgeExpired deletes cache entries and records past their expiry. Ledger
// rows of the purged records go in the same transaction.
func (s *sqlStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := s.connected(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	cutoff := now.UnixMilli()
	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM processed_signatures WHERE EXISTS (
			SELECT 1 FROM transaction_records r
			WHERE r.watched_address = processed_signatures.watched_address
			  AND r.signature = processed_signatures.signature
			  AND r.expires_at_ms > 0 AND r.expires_at_ms <= ?
		)`), cutoff); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to purge processed signatures", err.Error())
	}

	var total int64
	for _, table := range []string{"cache_entries", "transaction_records"} {
		query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, table))
		result, err := tx.ExecContext(ctx, query, cutoff)
		if err != nil {
			return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to purge expired rows", err.Error())
		}
		n, _ := result.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return total, nil
}

// UpsertRecords writes records keyed by id in one transaction. Re-ingesting a
// record replaces it, so concurrent ingestion converges to one row.
func (s *sqlStore) UpsertRecords(ctx context.Context, records []*models.TransactionRecord, expiresAt time.Time) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.connected(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO transaction_records
		(id, signature, watched_address, direction, asset_kind, asset_mint, asset_symbol,
		 counterparty, amount, usd_value, price_usd, timestamp_ms, slot, status, ambiguous, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			usd_value = EXCLUDED.usd_value,
			price_usd = EXCLUDED.price_usd,
			timestamp_ms = EXCLUDED.timestamp_ms,
			slot = EXCLUDED.slot,
			status = EXCLUDED.status,
			ambiguous = EXCLUDED.ambiguous,
			expires_at_ms = EXCLUDED.expires_at_ms
	`))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.Signature, r.WatchedAddress, string(r.Direction), string(r.Asset.Kind), r.Asset.Mint,
			r.Asset.Symbol, r.Counterparty, r.Amount, r.USDValue, r.PriceUSD, r.TimestampMillis,
			int64(r.Slot), string(r.Status), r.Ambiguous, toMillis(expiresAt))
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save record in batch", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.logger.WithField("count", len(records)).Debug("Records upserted")
	return nil
}

// ListRecords returns unexpired records for an address, most recent first
func (s *sqlStore) ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.TransactionRecord, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, signature, watched_address, direction, asset_kind, asset_mint, asset_symbol,
		       counterparty, amount, usd_value, price_usd, timestamp_ms, slot, status, ambiguous
		FROM transaction_records
		WHERE watched_address = ? AND (expires_at_ms = 0 OR expires_at_ms > ?)`
	args := []interface{}{filter.Address, s.now().UnixMilli()}

	if filter.Direction != nil {
		query += " AND direction = ?"
		args = append(args, string(*filter.Direction))
	}
	if filter.Since != nil {
		query += " AND timestamp_ms >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND timestamp_ms < ?"
		args = append(args, *filter.Until)
	}
	query += " ORDER BY timestamp_ms DESC, slot DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query records", err.Error())
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		var r models.TransactionRecord
		var direction, kind, status string
		var slot int64
		if err := rows.Scan(&r.ID, &r.Signature, &r.WatchedAddress, &direction, &kind, &r.Asset.Mint,
			&r.Asset.Symbol, &r.Counterparty, &r.Amount, &r.USDValue, &r.PriceUSD, &r.TimestampMillis,
			&slot, &status, &r.Ambiguous); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan record", err.Error())
		}
		r.Direction = models.Direction(direction)
		r.Asset.Kind = models.AssetKind(kind)
		r.Status = models.TxStatus(status)
		r.Slot = uint64(slot)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate records", err.Error())
	}
	return records, nil
}

// CountRecords counts unexpired records for an address
func (s *sqlStore) CountRecords(ctx context.Context, address string) (int64, error) {
	if err := s.connected(); err != nil {
		return 0, err
	}

	var count int64
	query := s.rebind(`SELECT COUNT(*) FROM transaction_records WHERE watched_address = ? AND (expires_at_ms = 0 OR expires_at_ms > ?)`)
	if err := s.db.QueryRowContext(ctx, query, address, s.now().UnixMilli()).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}
	return count, nil
}

// ContributorTotals groups successful deposits by counterparty
func (s *sqlStore) ContributorTotals(ctx context.Context, address string) ([]*ContributorTotal, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT counterparty, SUM(usd_value), COUNT(*), MIN(timestamp_ms), MAX(timestamp_ms)
		FROM transaction_records
		WHERE watched_address = ? AND direction = ? AND status = ?
		  AND (expires_at_ms = 0 OR expires_at_ms > ?)
		GROUP BY counterparty
		ORDER BY SUM(usd_value) DESC, MIN(timestamp_ms) ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, address,
		string(models.DirectionDeposit), string(models.StatusSuccess), s.now().UnixMilli())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query contributor totals", err.Error())
	}
	defer rows.Close()

	var totals []*ContributorTotal
	for rows.Next() {
		var t ContributorTotal
		if err := rows.Scan(&t.Counterparty, &t.TotalUSD, &t.Count, &t.FirstTimestamp, &t.LatestTimestamp); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan contributor total", err.Error())
		}
		totals = append(totals, &t)
	}
	return totals, rows.Err()
}

// MarkProcessed adds signatures to the processed ledger
func (s *sqlStore) MarkProcessed(ctx context.Context, processed []*models.ProcessedSignature) error {
	if len(processed) == 0 {
		return nil
	}
	if err := s.connected(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO processed_signatures
		(watched_address, signature, slot, block_time_ms, record_count, processed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (watched_address, signature) DO UPDATE SET
			record_count = EXCLUDED.record_count,
			processed_at_ms = EXCLUDED.processed_at_ms
	`))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, p := range processed {
		if _, err := stmt.ExecContext(ctx, p.Address, p.Signature, int64(p.Slot), p.BlockTimeMs,
			p.RecordCount, toMillis(p.ProcessedAt)); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark signature processed", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

// NewestProcessed returns the processed signature with the highest slot, or nil
func (s *sqlStore) NewestProcessed(ctx context.Context, address string) (*models.ProcessedSignature, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT watched_address, signature, slot, block_time_ms, record_count, processed_at_ms
		FROM processed_signatures
		WHERE watched_address = ?
		ORDER BY slot DESC, block_time_ms DESC, signature ASC
		LIMIT 1
	`)

	var p models.ProcessedSignature
	var slot, processedAt int64
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&p.Address, &p.Signature, &slot, &p.BlockTimeMs, &p.RecordCount, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get newest processed signature", err.Error())
	}
	p.Slot = uint64(slot)
	p.ProcessedAt = fromMillis(processedAt)
	return &p, nil
}

// FilterUnprocessed returns the signatures not yet in the ledger, in input order
func (s *sqlStore) FilterUnprocessed(ctx context.Context, address string, signatures []string) ([]string, error) {
	if len(signatures) == 0 {
		return nil, nil
	}
	if err := s.connected(); err != nil {
		return nil, err
	}

	processed := make(map[string]bool, len(signatures))
	for start := 0; start < len(signatures); start += sqlInChunk {
		end := start + sqlInChunk
		if end > len(signatures) {
			end = len(signatures)
		}
		if err := s.collectProcessed(ctx, address, signatures[start:end], processed); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		if !processed[sig] {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *sqlStore) collectProcessed(ctx context.Context, address string, chunk []string, into map[string]bool) error {
	var rows *sql.Rows
	var err error

	if s.dialect == dialectPostgres {
		rows, err = s.db.QueryContext(ctx,
			`SELECT signature FROM processed_signatures WHERE watched_address = $1 AND signature = ANY($2)`,
			address, pq.Array(chunk))
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, address)
		for _, sig := range chunk {
			args = append(args, sig)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT signature FROM processed_signatures WHERE watched_address = ? AND signature IN (`+placeholders+`)`,
			args...)
	}
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to query processed signatures", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan signature", err.Error())
		}
		into[sig] = true
	}
	return rows.Err()
}

// AddPending queues signatures, incrementing attempts of queued ones
func (s *sqlStore) AddPending(ctx context.Context, pending []*models.PendingSignature) error {
	if len(pending) == 0 {
		return nil
	}
	if err := s.connected(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO pending_signatures (watched_address, signature, slot, attempts, first_seen_ms)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (watched_address, signature) DO UPDATE SET
			attempts = pending_signatures.attempts + 1
	`))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, p := range pending {
		firstSeen := p.FirstSeenAt
		if firstSeen.IsZero() {
			firstSeen = s.now()
		}
		if _, err := stmt.ExecContext(ctx, p.Address, p.Signature, int64(p.Slot), toMillis(firstSeen)); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to queue pending signature", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

// ListPending returns queued signatures for an address, newest slot first
func (s *sqlStore) ListPending(ctx context.Context, address string) ([]*models.PendingSignature, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT watched_address, signature, slot, attempts, first_seen_ms
		FROM pending_signatures WHERE watched_address = ?
		ORDER BY slot DESC, signature ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending signatures", err.Error())
	}
	defer rows.Close()

	var pending []*models.PendingSignature
	for rows.Next() {
		var p models.PendingSignature
		var slot, firstSeen int64
		if err := rows.Scan(&p.Address, &p.Signature, &slot, &p.Attempts, &firstSeen); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan pending signature", err.Error())
		}
		p.Slot = uint64(slot)
		p.FirstSeenAt = fromMillis(firstSeen)
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

// RemovePending drops signatures from the pending queue
func (s *sqlStore) RemovePending(ctx context.Context, address string, signatures []string) error {
	if len(signatures) == 0 {
		return nil
	}
	if err := s.connected(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	query := s.rebind(`DELETE FROM pending_signatures WHERE watched_address = ? AND signature = ?`)
	for _, sig := range signatures {
		if _, err := tx.ExecContext(ctx, query, address, sig); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to remove pending signature", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

// SaveSnapshot persists a wallet snapshot
func (s *sqlStore) SaveSnapshot(ctx context.Context, snapshot *models.WalletSnapshot) error {
	if err := s.connected(); err != nil {
		return err
	}

	balances, err := json.Marshal(snapshot.TokenBalances)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal token balances", err.Error())
	}

	query := s.rebind(`
		INSERT INTO wallet_snapshots
		(address, native_balance, token_balances, total_value_usd, price_at_snapshot, captured_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, captured_at_ms) DO UPDATE SET
			native_balance = EXCLUDED.native_balance,
			token_balances = EXCLUDED.token_balances,
			total_value_usd = EXCLUDED.total_value_usd,
			price_at_snapshot = EXCLUDED.price_at_snapshot
	`)
	if _, err := s.db.ExecContext(ctx, query, snapshot.Address, snapshot.NativeBalance, string(balances),
		snapshot.TotalValueUSD, snapshot.PriceAtSnapshot, snapshot.CapturedAtMillis); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save snapshot", err.Error())
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of an address, or nil
func (s *sqlStore) LatestSnapshot(ctx context.Context, address string) (*models.WalletSnapshot, error) {
	snapshots, err := s.querySnapshots(ctx, `
		SELECT address, native_balance, token_balances, total_value_usd, price_at_snapshot, captured_at_ms
		FROM wallet_snapshots WHERE address = ?
		ORDER BY captured_at_ms DESC LIMIT 1
	`, address)
	if err != nil || len(snapshots) == 0 {
		return nil, err
	}
	return snapshots[0], nil
}

// ListSnapshots returns snapshots captured at or after since, oldest first
func (s *sqlStore) ListSnapshots(ctx context.Context, address string, since time.Time) ([]*models.WalletSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT address, native_balance, token_balances, total_value_usd, price_at_snapshot, captured_at_ms
		FROM wallet_snapshots WHERE address = ? AND captured_at_ms >= ?
		ORDER BY captured_at_ms ASC
	`, address, since.UnixMilli())
}

func (s *sqlStore) querySnapshots(ctx context.Context, query string, args ...interface{}) ([]*models.WalletSnapshot, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query snapshots", err.Error())
	}
	defer rows.Close()

	var snapshots []*models.WalletSnapshot
	for rows.Next() {
		var snap models.WalletSnapshot
		var balances string
		if err := rows.Scan(&snap.Address, &snap.NativeBalance, &balances, &snap.TotalValueUSD,
			&snap.PriceAtSnapshot, &snap.CapturedAtMillis); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan snapshot", err.Error())
		}
		if err := json.Unmarshal([]byte(balances), &snap.TokenBalances); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal token balances", err.Error())
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

// counts fills the row counts of StorageStats
func (s *sqlStore) counts(stats *StorageStats) error {
	if err := s.connected(); err != nil {
		return err
	}

	targets := []struct {
		table string
		dest  *int64
	}{
		{"transaction_records", &stats.TotalRecords},
		{"processed_signatures", &stats.ProcessedCount},
		{"pending_signatures", &stats.PendingCount},
		{"wallet_snapshots", &stats.SnapshotCount},
		{"cache_entries", &stats.CacheEntries},
	}
	for _, t := range targets {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t.table).Scan(t.dest); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to count "+t.table, err.Error())
		}
	}

	var latest sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(processed_at_ms) FROM processed_signatures").Scan(&latest); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest processed time", err.Error())
	}
	stats.LatestProcessedMs = latest.Int64
	return nil
}
