package models

import (
	"fmt"
	"time"
)

// Direction of an asset movement relative to the watched address
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// AssetKind distinguishes the native coin from fungible tokens
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// TxStatus is the on-chain execution status of a transaction
type TxStatus string

const (
	StatusSuccess TxStatus = "success"
	StatusFailed  TxStatus = "failed"
)

// Asset identifies what moved in a transaction record
type Asset struct {
	Kind   AssetKind `json:"kind"`
	Mint   string    `json:"mint,omitempty"`
	Symbol string    `json:"symbol"`
}

// Key returns a stable identifier for the asset
func (a Asset) Key() string {
	if a.Kind == AssetNative {
		return string(AssetNative)
	}
	return a.Mint
}

// TransactionRecord is one classified asset movement for a watched address
type TransactionRecord struct {
	ID              string    `json:"id" db:"id"`
	Signature       string    `json:"signature" db:"signature"`
	WatchedAddress  string    `json:"watched_address" db:"watched_address"`
	Direction       Direction `json:"direction" db:"direction"`
	Asset           Asset     `json:"asset"`
	Counterparty    string    `json:"counterparty" db:"counterparty"`
	Amount          float64   `json:"amount" db:"amount"`
	USDValue        float64   `json:"usd_value" db:"usd_value"`
	PriceUSD        float64   `json:"price_usd" db:"price_usd"`
	TimestampMillis int64     `json:"timestamp_ms" db:"timestamp_ms"`
	Slot            uint64    `json:"slot" db:"slot"`
	Status          TxStatus  `json:"status" db:"status"`
	Ambiguous       bool      `json:"ambiguous,omitempty" db:"ambiguous"`
}

// RecordID builds the upsert key of a record. A transaction yields at most one
// record per asset, direction and counterparty.
func RecordID(signature string, asset Asset, direction Direction, counterparty string) string {
	return fmt.Sprintf("%s:%s:%s:%s", signature, asset.Key(), direction, counterparty)
}

// IsMonetary reports whether the record counts toward monetary aggregates
func (r *TransactionRecord) IsMonetary() bool {
	return r.Status == StatusSuccess
}

// IsDeposit reports whether the record is a successful deposit
func (r *TransactionRecord) IsDeposit() bool {
	return r.Direction == DirectionDeposit && r.IsMonetary()
}

// Time returns the record timestamp
func (r *TransactionRecord) Time() time.Time {
	return time.UnixMilli(r.TimestampMillis).UTC()
}

// RecordFilter selects records for an address
type RecordFilter struct {
	Address   string     `json:"address"`
	Direction *Direction `json:"direction,omitempty"`
	Since     *int64     `json:"since_ms,omitempty"`
	Until     *int64     `json:"until_ms,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ProcessedSignature marks a signature whose transaction has been classified
type ProcessedSignature struct {
	Address     string    `json:"address" db:"watched_address"`
	Signature   string    `json:"signature" db:"signature"`
	Slot        uint64    `json:"slot" db:"slot"`
	BlockTimeMs int64     `json:"block_time_ms" db:"block_time_ms"`
	RecordCount int       `json:"record_count" db:"record_count"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// PendingSignature is a listed signature whose transaction detail was not yet available
type PendingSignature struct {
	Address     string    `json:"address" db:"watched_address"`
	Signature   string    `json:"signature" db:"signature"`
	Slot        uint64    `json:"slot" db:"slot"`
	Attempts    int       `json:"attempts" db:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
}
