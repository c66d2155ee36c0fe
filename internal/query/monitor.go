package query

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/aggregation"
	"github.com/smartdevs17/presale-monitor/internal/cache"
	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const (
	// MaxHistoryDays bounds historical and snapshot windows
	MaxHistoryDays = 365
	// MaxListLimit bounds transaction and contributor pages
	MaxListLimit = 1000

	defaultListLimit = 20
)

// BalanceSource reads current holdings of an address
type BalanceSource interface {
	GetNativeBalance(ctx context.Context, address string) (float64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (float64, error)
}

// Refresher brings the record set of an address up to date
type Refresher interface {
	Run(ctx context.Context, address string) (*ingestion.RunResult, error)
}

// Options tunes facade caching and refresh budgets
type Options struct {
	NativeSymbol        string
	Tokens              map[string]string // symbol -> mint
	MetricsTTL          time.Duration
	SnapshotTTL         time.Duration
	SoftBudget          time.Duration
	SummaryTransactions int
	AdHocMonitors       int // capacity for queried addresses outside the watch list
}

// Dependencies are the collaborators shared by every monitor
type Dependencies struct {
	Balances  BalanceSource
	Prices    oracle.PriceSource
	Refresher Refresher
	Cache     *cache.TieredCache
	Metrics   *metrics.Manager
}

// AddressStats describes the cached state of one address
type AddressStats struct {
	Address         string `json:"address"`
	Records         int64  `json:"records"`
	Contributors    int    `json:"contributors"`
	PendingCount    int    `json:"pending_signatures"`
	CursorSignature string `json:"cursor_signature,omitempty"`
	CursorSlot      uint64 `json:"cursor_slot,omitempty"`
}

// Monitor answers read queries for a single watched address
type Monitor struct {
	address string
	deps    Dependencies
	opts    Options
	now     func() time.Time
	logger  *logrus.Entry
}

type refreshOutcome struct {
	result *ingestion.RunResult
	err    error
}

func newMonitor(address string, deps Dependencies, opts Options, now func() time.Time) *Monitor {
	return &Monitor{
		address: address,
		deps:    deps,
		opts:    opts,
		now:     now,
		logger:  utils.ComponentLogger("query").WithField("address", address),
	}
}

// Address returns the watched address
func (m *Monitor) Address() string {
	return m.address
}

// WalletInfo returns current holdings. A snapshot younger than the snapshot
// TTL is served from cache; when the RPC fails the latest persisted snapshot
// is returned marked stale.
func (m *Monitor) WalletInfo(ctx context.Context) (*models.WalletInfo, error) {
	var cached models.WalletSnapshot
	if entry, ok, err := m.deps.Cache.GetJSON(ctx, cache.WalletKey(m.address), &cached); err == nil && ok {
		info := models.WalletInfoFromSnapshot(&cached)
		info.RefreshedAt = entry.CreatedAt
		return info, nil
	}

	snapshot, priceStale, err := m.readHoldings(ctx)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrCodeInvalidAddress) {
			return nil, err
		}
		return m.lastKnownWallet(ctx, err)
	}

	store := m.deps.Cache.Store()
	if err := store.SaveSnapshot(ctx, snapshot); err != nil {
		m.logger.WithError(err).Warn("Failed to persist wallet snapshot")
	}

	info := models.WalletInfoFromSnapshot(snapshot)
	info.RefreshedAt = snapshot.CapturedAt()
	if priceStale {
		info.Stale = true
		info.Reason = "price oracle unavailable, using last known price"
		m.recordStale("wallet_info")
		return info, nil
	}
	if err := m.deps.Cache.SetJSON(ctx, cache.WalletKey(m.address), snapshot, m.opts.SnapshotTTL); err != nil {
		m.logger.WithError(err).Warn("Failed to cache wallet snapshot")
	}
	return info, nil
}

func (m *Monitor) readHoldings(ctx context.Context) (*models.WalletSnapshot, bool, error) {
	native, err := m.deps.Balances.GetNativeBalance(ctx, m.address)
	if err != nil {
		return nil, false, err
	}

	symbols := make([]string, 0, len(m.opts.Tokens))
	for symbol := range m.opts.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	tokens := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		amount, err := m.deps.Balances.GetTokenBalance(ctx, m.address, m.opts.Tokens[symbol])
		if err != nil {
			return nil, false, err
		}
		tokens[symbol] = amount
	}

	nativeQuote := m.deps.Prices.Quote(ctx, m.opts.NativeSymbol)
	stale := nativeQuote.Stale
	total := decimal.NewFromFloat(native).Mul(decimal.NewFromFloat(nativeQuote.Price))
	for _, symbol := range symbols {
		if tokens[symbol] == 0 {
			continue
		}
		quote := m.deps.Prices.Quote(ctx, symbol)
		stale = stale || quote.Stale
		total = total.Add(decimal.NewFromFloat(tokens[symbol]).Mul(decimal.NewFromFloat(quote.Price)))
	}

	return &models.WalletSnapshot{
		Address:          m.address,
		NativeBalance:    native,
		TokenBalances:    tokens,
		TotalValueUSD:    total.Round(2).InexactFloat64(),
		PriceAtSnapshot:  nativeQuote.Price,
		CapturedAtMillis: m.now().UnixMilli(),
	}, stale, nil
}

func (m *Monitor) lastKnownWallet(ctx context.Context, cause error) (*models.WalletInfo, error) {
	snapshot, err := m.deps.Cache.Store().LatestSnapshot(ctx, m.address)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, utils.WrapError(utils.ErrCodeRPCUnavailable, "Wallet balance unavailable and no snapshot cached", cause)
	}

	m.logger.WithError(cause).Warn("Serving last known wallet snapshot")
	m.recordStale("wallet_info")
	info := models.WalletInfoFromSnapshot(snapshot)
	info.Stale = true
	info.Reason = "rpc unavailable, serving last snapshot"
	info.RefreshedAt = snapshot.CapturedAt()
	return info, nil
}

// Metrics returns the metrics snapshot. A cached snapshot younger than the
// metrics TTL is returned unless force is set; otherwise an ingestion run is
// started and awaited up to the soft budget.
func (m *Monitor) Metrics(ctx context.Context, force bool) (*models.MetricsSnapshot, error) {
	if !force {
		if snapshot, ok := m.cachedMetrics(ctx); ok {
			return snapshot, nil
		}
	}
	freshness, err := m.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return m.compute(ctx, freshness)
}

// Refresh runs ingestion to completion and recomputes the cached metrics
func (m *Monitor) Refresh(ctx context.Context) (*ingestion.RunResult, *models.MetricsSnapshot, error) {
	result, err := m.deps.Refresher.Run(ctx, m.address)
	if err != nil {
		return result, nil, err
	}
	snapshot, err := m.compute(ctx, models.Freshness{RefreshedAt: m.now()})
	return result, snapshot, err
}

// RecentTransactions returns the newest records, most recent first
func (m *Monitor) RecentTransactions(ctx context.Context, limit int) (*models.TransactionList, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	freshness, err := m.freshness(ctx)
	if err != nil {
		return nil, err
	}

	records, err := m.deps.Cache.Records(ctx, models.RecordFilter{Address: m.address, Limit: limit})
	if err != nil {
		return nil, err
	}
	return &models.TransactionList{Address: m.address, Transactions: records, Freshness: freshness}, nil
}

// TopContributors ranks contributors by total contributed, ties broken by
// earliest first contribution
func (m *Monitor) TopContributors(ctx context.Context, limit int) (*models.ContributorList, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	freshness, err := m.freshness(ctx)
	if err != nil {
		return nil, err
	}

	records, err := m.records(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ContributorList{
		Address:      m.address,
		Contributors: aggregation.TopContributors(records, limit),
		Freshness:    freshness,
	}, nil
}

// HistoricalAnalysis returns the per-day deposit series over days
func (m *Monitor) HistoricalAnalysis(ctx context.Context, days int) (*models.HistoricalAnalysis, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	freshness, err := m.freshness(ctx)
	if err != nil {
		return nil, err
	}

	records, err := m.records(ctx)
	if err != nil {
		return nil, err
	}
	return &models.HistoricalAnalysis{
		Address:   m.address,
		Days:      days,
		Series:    aggregation.Historical(records, days, m.now()),
		Freshness: freshness,
	}, nil
}

// SnapshotHistory returns persisted wallet snapshots within days, oldest first
func (m *Monitor) SnapshotHistory(ctx context.Context, days int) (*models.SnapshotHistory, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	since := m.now().Add(-time.Duration(days) * aggregation.Day)
	snapshots, err := m.deps.Cache.Store().ListSnapshots(ctx, m.address, since)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []*models.WalletSnapshot{}
	}
	return &models.SnapshotHistory{Address: m.address, Snapshots: snapshots}, nil
}

// Summary combines wallet info with the latest cached transactions. It never
// starts an ingestion run.
func (m *Monitor) Summary(ctx context.Context) (*models.Summary, error) {
	wallet, err := m.WalletInfo(ctx)
	if err != nil && !utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable) {
		return nil, err
	}

	records, rerr := m.deps.Cache.Records(ctx, models.RecordFilter{Address: m.address, Limit: m.opts.SummaryTransactions})
	if rerr != nil {
		return nil, rerr
	}
	if wallet == nil && len(records) == 0 {
		return nil, err
	}

	summary := &models.Summary{Wallet: wallet, Transactions: records}
	if wallet == nil {
		summary.Stale = true
		summary.Reason = "wallet info unavailable"
	} else {
		summary.Freshness = wallet.Freshness
	}
	return summary, nil
}

// Stats reports the cached state of the address
func (m *Monitor) Stats(ctx context.Context) (*AddressStats, error) {
	store := m.deps.Cache.Store()
	stats := &AddressStats{Address: m.address}

	count, err := store.CountRecords(ctx, m.address)
	if err != nil {
		return nil, err
	}
	stats.Records = count

	totals, err := store.ContributorTotals(ctx, m.address)
	if err != nil {
		return nil, err
	}
	stats.Contributors = len(totals)

	pending, err := store.ListPending(ctx, m.address)
	if err != nil {
		return nil, err
	}
	stats.PendingCount = len(pending)

	cursor, err := store.NewestProcessed(ctx, m.address)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		stats.CursorSignature = cursor.Signature
		stats.CursorSlot = cursor.Slot
	}
	return stats, nil
}

func (m *Monitor) cachedMetrics(ctx context.Context) (*models.MetricsSnapshot, bool) {
	var snapshot models.MetricsSnapshot
	entry, ok, err := m.deps.Cache.GetJSON(ctx, cache.MetricsKey(m.address), &snapshot)
	if err != nil || !ok {
		return nil, false
	}
	snapshot.RefreshedAt = entry.CreatedAt
	return &snapshot, true
}

// freshness reuses a cached metrics snapshot as proof of a recent refresh,
// otherwise recomputes
func (m *Monitor) freshness(ctx context.Context) (models.Freshness, error) {
	if snapshot, ok := m.cachedMetrics(ctx); ok {
		return snapshot.Freshness, nil
	}
	snapshot, err := m.Metrics(ctx, true)
	if err != nil {
		return models.Freshness{}, err
	}
	return snapshot.Freshness, nil
}

// refresh starts an ingestion run and waits for it up to the soft budget. The
// run continues in the background when the budget is exceeded.
func (m *Monitor) refresh(ctx context.Context) (models.Freshness, error) {
	done := make(chan refreshOutcome, 1)
	go func() {
		result, err := m.deps.Refresher.Run(context.WithoutCancel(ctx), m.address)
		done <- refreshOutcome{result: result, err: err}
	}()

	var budget <-chan time.Time
	if m.opts.SoftBudget > 0 {
		timer := time.NewTimer(m.opts.SoftBudget)
		defer timer.Stop()
		budget = timer.C
	}

	select {
	case outcome := <-done:
		if outcome.err == nil {
			freshness := models.Freshness{RefreshedAt: m.now()}
			if outcome.result != nil && outcome.result.PriceStale {
				freshness.Stale = true
				freshness.Reason = "price oracle unavailable, using last known price"
			}
			return freshness, nil
		}
		if utils.IsErrorCode(outcome.err, utils.ErrCodeInvalidAddress) {
			return models.Freshness{}, outcome.err
		}
		m.logger.WithError(outcome.err).Warn("Ingestion failed, serving cached records")
		return models.Freshness{Stale: true, Reason: "rpc unavailable, serving cached data", RefreshedAt: m.lastRefresh(ctx)},
			m.requireFallback(ctx, outcome.err)
	case <-budget:
		m.logger.WithField("budget", m.opts.SoftBudget.String()).Warn("Refresh exceeded soft budget, serving cached records")
		return models.Freshness{Stale: true, Reason: "refresh in progress", RefreshedAt: m.lastRefresh(ctx)}, nil
	case <-ctx.Done():
		return models.Freshness{Stale: true, Reason: "request cancelled", RefreshedAt: m.lastRefresh(ctx)}, nil
	}
}

// requireFallback fails when the address has no cached history to fall back on
func (m *Monitor) requireFallback(ctx context.Context, cause error) error {
	cursor, err := m.deps.Cache.Store().NewestProcessed(ctx, m.address)
	if err != nil {
		return err
	}
	if cursor == nil {
		if utils.IsErrorCode(cause, utils.ErrCodeRPCUnavailable) {
			return cause
		}
		return utils.WrapError(utils.ErrCodeRPCUnavailable, "No cached data available", cause)
	}
	return nil
}

func (m *Monitor) lastRefresh(ctx context.Context) time.Time {
	cursor, err := m.deps.Cache.Store().NewestProcessed(ctx, m.address)
	if err != nil || cursor == nil {
		return time.Time{}
	}
	return cursor.ProcessedAt
}

// compute derives metrics from the cached records and caches them when fresh
func (m *Monitor) compute(ctx context.Context, freshness models.Freshness) (*models.MetricsSnapshot, error) {
	records, err := m.records(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := aggregation.ComputeMetrics(m.address, records, m.now())
	snapshot.Freshness = freshness
	if freshness.Stale {
		m.recordStale("metrics")
		return snapshot, nil
	}
	if err := m.deps.Cache.SetJSON(ctx, cache.MetricsKey(m.address), snapshot, m.opts.MetricsTTL); err != nil {
		m.logger.WithError(err).Warn("Failed to cache metrics snapshot")
	}
	return snapshot, nil
}

func (m *Monitor) records(ctx context.Context) ([]*models.TransactionRecord, error) {
	return m.deps.Cache.Records(ctx, models.RecordFilter{Address: m.address})
}

func (m *Monitor) recordStale(operation string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.GetPrometheusMetrics().RecordStaleResponse(operation)
	}
}

func clampLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Limit must not be negative")
	case limit == 0:
		return defaultListLimit, nil
	case limit > MaxListLimit:
		return MaxListLimit, nil
	}
	return limit, nil
}

func validateDays(days int) error {
	if days < 1 || days > MaxHistoryDays {
		return utils.NewAppError(utils.ErrCodeValidation, "Days out of range", "expected 1 to 365")
	}
	return nil
}
