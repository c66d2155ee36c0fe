package storage

// Migration represents a database migration
type Migration struct {
	Version     string `db:"version"`
	Description string `db:"description"`
	SQL         string `db:"sql"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create transaction records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transaction_records (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					watched_address TEXT NOT NULL,
					direction TEXT NOT NULL,
					asset_kind TEXT NOT NULL,
					asset_mint TEXT NOT NULL DEFAULT '',
					asset_symbol TEXT NOT NULL,
					counterparty TEXT NOT NULL,
					amount REAL NOT NULL,
					usd_value REAL NOT NULL,
					price_usd REAL NOT NULL,
					timestamp_ms INTEGER NOT NULL,
					slot INTEGER NOT NULL,
					status TEXT NOT NULL,
					ambiguous BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at_ms INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_records_address_ts ON transaction_records(watched_address, timestamp_ms DESC);
				CREATE INDEX IF NOT EXISTS idx_records_counterparty ON transaction_records(watched_address, counterparty);
				CREATE INDEX IF NOT EXISTS idx_records_signature ON transaction_records(signature);
				CREATE INDEX IF NOT EXISTS idx_records_expires ON transaction_records(expires_at_ms);
			`,
		},
		{
			Version:     "002",
			Description: "Create signature ledger tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS processed_signatures (
					watched_address TEXT NOT NULL,
					signature TEXT NOT NULL,
					slot INTEGER NOT NULL,
					block_time_ms INTEGER NOT NULL,
					record_count INTEGER NOT NULL,
					processed_at_ms INTEGER NOT NULL,
					PRIMARY KEY (watched_address, signature)
				);

				CREATE INDEX IF NOT EXISTS idx_processed_slot ON processed_signatures(watched_address, slot DESC);

				CREATE TABLE IF NOT EXISTS pending_signatures (
					watched_address TEXT NOT NULL,
					signature TEXT NOT NULL,
					slot INTEGER NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 1,
					first_seen_ms INTEGER NOT NULL,
					PRIMARY KEY (watched_address, signature)
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create wallet snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS wallet_snapshots (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					address TEXT NOT NULL,
					native_balance REAL NOT NULL,
					token_balances TEXT NOT NULL, -- JSON
					total_value_usd REAL NOT NULL,
					price_at_snapshot REAL NOT NULL,
					captured_at_ms INTEGER NOT NULL,
					UNIQUE (address, captured_at_ms)
				);

				CREATE INDEX IF NOT EXISTS idx_snapshots_address ON wallet_snapshots(address, captured_at_ms DESC);
			`,
		},
		{
			Version:     "004",
			Description: "Create cache entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cache_entries (
					key TEXT PRIMARY KEY,
					value BLOB NOT NULL,
					created_at_ms INTEGER NOT NULL,
					expires_at_ms INTEGER NOT NULL,
					access_count INTEGER NOT NULL DEFAULT 0,
					last_accessed_ms INTEGER NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at_ms);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create transaction records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transaction_records (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					watched_address TEXT NOT NULL,
					direction TEXT NOT NULL,
					asset_kind TEXT NOT NULL,
					asset_mint TEXT NOT NULL DEFAULT '',
					asset_symbol TEXT NOT NULL,
					counterparty TEXT NOT NULL,
					amount DOUBLE PRECISION NOT NULL,
					usd_value DOUBLE PRECISION NOT NULL,
					price_usd DOUBLE PRECISION NOT NULL,
					timestamp_ms BIGINT NOT NULL,
					slot BIGINT NOT NULL,
					status TEXT NOT NULL,
					ambiguous BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at_ms BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_records_address_ts ON transaction_records(watched_address, timestamp_ms DESC);
				CREATE INDEX IF NOT EXISTS idx_records_counterparty ON transaction_records(watched_address, counterparty);
				CREATE INDEX IF NOT EXISTS idx_records_signature ON transaction_records(signature);
				CREATE INDEX IF NOT EXISTS idx_records_expires ON transaction_records(expires_at_ms);
			`,
		},
		{
			Version:     "002",
			Description: "Create signature ledger tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS processed_signatures (
					watched_address TEXT NOT NULL,
					signature TEXT NOT NULL,
					slot BIGINT NOT NULL,
					block_time_ms BIGINT NOT NULL,
					record_count INTEGER NOT NULL,
					processed_at_ms BIGINT NOT NULL,
					PRIMARY KEY (watched_address, signature)
				);

				CREATE INDEX IF NOT EXISTS idx_processed_slot ON processed_signatures(watched_address, slot DESC);

				CREATE TABLE IF NOT EXISTS pending_signatures (
					watched_address TEXT NOT NULL,
					signature TEXT NOT NULL,
					slot BIGINT NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 1,
					first_seen_ms BIGINT NOT NULL,
					PRIMARY KEY (watched_address, signature)
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create wallet snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS wallet_snapshots (
					id BIGSERIAL PRIMARY KEY,
					address TEXT NOT NULL,
					native_balance DOUBLE PRECISION NOT NULL,
					token_balances JSONB NOT NULL,
					total_value_usd DOUBLE PRECISION NOT NULL,
					price_at_snapshot DOUBLE PRECISION NOT NULL,
					captured_at_ms BIGINT NOT NULL,
					UNIQUE (address, captured_at_ms)
				);

				CREATE INDEX IF NOT EXISTS idx_snapshots_address ON wallet_snapshots(address, captured_at_ms DESC);
			`,
		},
		{
			Version:     "004",
			Description: "Create cache entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cache_entries (
					key TEXT PRIMARY KEY,
					value BYTEA NOT NULL,
					created_at_ms BIGINT NOT NULL,
					expires_at_ms BIGINT NOT NULL,
					access_count BIGINT NOT NULL DEFAULT 0,
					last_accessed_ms BIGINT NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at_ms);
			`,
		},
	}
}
