package models

import "time"

// WalletSnapshot is a point-in-time read of a watched address's holdings
type WalletSnapshot struct {
	Address          string             `json:"address"`
	NativeBalance    float64            `json:"native_balance"`
	TokenBalances    map[string]float64 `json:"token_balances"`
	TotalValueUSD    float64            `json:"total_value_usd"`
	PriceAtSnapshot  float64            `json:"price_at_snapshot"`
	CapturedAtMillis int64              `json:"captured_at_ms"`
}

// CapturedAt returns the capture time
func (s *WalletSnapshot) CapturedAt() time.Time {
	return time.UnixMilli(s.CapturedAtMillis).UTC()
}

// Freshness describes whether a response reflects a completed refresh
type Freshness struct {
	Stale       bool      `json:"stale"`
	Reason      string    `json:"reason,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

// WalletInfo is the facade view of a wallet
type WalletInfo struct {
	Address       string             `json:"address"`
	NativeBalance float64            `json:"native_balance"`
	TokenBalances map[string]float64 `json:"token_balances"`
	TotalValueUSD float64            `json:"total_value_usd"`
	PriceUSD      float64            `json:"price_usd"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Freshness
}

// WalletInfoFromSnapshot builds the facade view of a snapshot
func WalletInfoFromSnapshot(s *WalletSnapshot) *WalletInfo {
	return &WalletInfo{
		Address:       s.Address,
		NativeBalance: s.NativeBalance,
		TokenBalances: s.TokenBalances,
		TotalValueUSD: s.TotalValueUSD,
		PriceUSD:      s.PriceAtSnapshot,
		UpdatedAt:     s.CapturedAt(),
	}
}

// Summary is a lightweight composite of wallet info and latest transactions
type Summary struct {
	Wallet       *WalletInfo          `json:"wallet"`
	Transactions []*TransactionRecord `json:"transactions"`
	Freshness
}

// TransactionList is a facade page of transaction records
type TransactionList struct {
	Address      string               `json:"address"`
	Transactions []*TransactionRecord `json:"transactions"`
	Freshness
}
