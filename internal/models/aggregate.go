package models

import "time"

// ContributorAggregate is derived by grouping deposit records by counterparty
type ContributorAggregate struct {
	Address                 string  `json:"address"`
	TotalContributedUSD     float64 `json:"total_contributed_usd"`
	TransactionCount        int     `json:"transaction_count"`
	AverageAmountUSD        float64 `json:"average_amount_usd"`
	FirstContributionMillis int64   `json:"first_contribution_ms"`
	LastContributionMillis  int64   `json:"last_contribution_ms"`
}

// DistributionBucket counts contributors whose total falls in [MinUSD, MaxUSD)
type DistributionBucket struct {
	Label  string   `json:"label"`
	MinUSD float64  `json:"min_usd"`
	MaxUSD *float64 `json:"max_usd,omitempty"`
	Count  int      `json:"count"`
}

// TransactionCounts breaks down record counts
type TransactionCounts struct {
	Total       int `json:"total"`
	Deposits    int `json:"deposits"`
	Withdrawals int `json:"withdrawals"`
	Failed      int `json:"failed"`
}

// MetricsSnapshot is the derived analytics view of a record set
type MetricsSnapshot struct {
	Address                string               `json:"address"`
	TotalRaisedUSD         float64              `json:"total_raised_usd"`
	UniqueContributorCount int                  `json:"unique_contributor_count"`
	AverageContributionUSD float64              `json:"average_contribution_usd"`
	MedianContributionUSD  float64              `json:"median_contribution_usd"`
	LargestContributionUSD float64              `json:"largest_contribution_usd"`
	DailyVolumeUSD         float64              `json:"daily_volume_usd"`
	WeeklyVolumeUSD        float64              `json:"weekly_volume_usd"`
	TransactionCounts      TransactionCounts    `json:"transaction_counts"`
	DistributionBuckets    []DistributionBucket `json:"distribution_buckets"`
	ComputedAt             time.Time            `json:"computed_at"`
	Freshness
}

// DailyVolume is one day of the historical series
type DailyVolume struct {
	Date             string  `json:"date"`
	TotalUSD         float64 `json:"total_usd"`
	TransactionCount int     `json:"transaction_count"`
}

// HistoricalAnalysis is a per-day deposit series over a window
type HistoricalAnalysis struct {
	Address string        `json:"address"`
	Days    int           `json:"days"`
	Series  []DailyVolume `json:"series"`
	Freshness
}

// ContributorList is a facade ranking of contributors
type ContributorList struct {
	Address      string                  `json:"address"`
	Contributors []*ContributorAggregate `json:"contributors"`
	Freshness
}

// SnapshotHistory lists persisted wallet snapshots oldest first
type SnapshotHistory struct {
	Address   string            `json:"address"`
	Snapshots []*WalletSnapshot `json:"snapshots"`
}
