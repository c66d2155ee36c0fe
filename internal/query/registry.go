package query

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const defaultAdHocMonitors = 64

// Registry owns one Monitor per watched address. It is created once per
// process and passed to its callers. Queries for other valid addresses are
// served by ad-hoc monitors held in a bounded LRU; those are never scheduled.
type Registry struct {
	deps Dependencies
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	monitors map[string]*Monitor
	adHoc    *lru.Cache[string, *Monitor]
	logger   *logrus.Entry
}

// NewRegistry creates a registry watching the given addresses
func NewRegistry(deps Dependencies, opts Options, addresses ...string) (*Registry, error) {
	capacity := opts.AdHocMonitors
	if capacity <= 0 {
		capacity = defaultAdHocMonitors
	}
	adHoc, err := lru.New[string, *Monitor](capacity)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to create ad-hoc monitor cache", err)
	}

	r := &Registry{
		deps:     deps,
		opts:     opts,
		now:      time.Now,
		monitors: make(map[string]*Monitor),
		adHoc:    adHoc,
		logger:   utils.ComponentLogger("registry"),
	}
	for _, address := range addresses {
		if err := r.Watch(address); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetClock replaces the time source of the registry and its monitors
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, m := range r.monitors {
		m.now = now
	}
	for _, m := range r.adHoc.Values() {
		m.now = now
	}
}

// Watch adds address to the scheduled set, promoting its ad-hoc monitor if any
func (r *Registry) Watch(address string) error {
	if err := utils.ValidateAddress(address); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[address]; ok {
		return nil
	}
	m, ok := r.adHoc.Peek(address)
	if ok {
		r.adHoc.Remove(address)
	} else {
		m = newMonitor(address, r.deps, r.opts, r.now)
	}
	r.monitors[address] = m
	r.logger.WithField("address", address).Info("Registered wallet monitor")
	if r.deps.Metrics != nil {
		r.deps.Metrics.GetPrometheusMetrics().UpdateWatchedAddresses(len(r.monitors))
	}
	return nil
}

// Monitor returns the monitor of address. Unwatched addresses get an ad-hoc
// monitor that may be evicted once the LRU is full.
func (r *Registry) Monitor(address string) (*Monitor, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return nil, err
	}

	r.mu.RLock()
	m, ok := r.monitors[address]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[address]; ok {
		return m, nil
	}
	if m, ok := r.adHoc.Get(address); ok {
		return m, nil
	}
	m = newMonitor(address, r.deps, r.opts, r.now)
	if evicted := r.adHoc.Add(address, m); evicted {
		r.logger.Debug("Evicted least recently queried ad-hoc monitor")
	}
	r.logger.WithField("address", address).Debug("Created ad-hoc wallet monitor")
	return m, nil
}

// Watching reports whether address is in the scheduled set
func (r *Registry) Watching(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.monitors[address]
	return ok
}

// Addresses lists watched addresses in sorted order. Ad-hoc addresses are
// not included.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.monitors))
	for address := range r.monitors {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Refresh forces an ingestion run for address and recomputes its metrics
func (r *Registry) Refresh(ctx context.Context, address string) (*ingestion.RunResult, *models.MetricsSnapshot, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, nil, err
	}
	return m.Refresh(ctx)
}

// WalletInfo returns the holdings of address
func (r *Registry) WalletInfo(ctx context.Context, address string) (*models.WalletInfo, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.WalletInfo(ctx)
}

// Metrics returns the metrics snapshot of address
func (r *Registry) Metrics(ctx context.Context, address string, force bool) (*models.MetricsSnapshot, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.Metrics(ctx, force)
}

// RecentTransactions returns the newest records of address
func (r *Registry) RecentTransactions(ctx context.Context, address string, limit int) (*models.TransactionList, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.RecentTransactions(ctx, limit)
}

// TopContributors ranks the contributors of address
func (r *Registry) TopContributors(ctx context.Context, address string, limit int) (*models.ContributorList, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.TopContributors(ctx, limit)
}

// HistoricalAnalysis returns the daily deposit series of address
func (r *Registry) HistoricalAnalysis(ctx context.Context, address string, days int) (*models.HistoricalAnalysis, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.HistoricalAnalysis(ctx, days)
}

// SnapshotHistory returns persisted snapshots of address
func (r *Registry) SnapshotHistory(ctx context.Context, address string, days int) (*models.SnapshotHistory, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.SnapshotHistory(ctx, days)
}

// Summary returns wallet info and the latest transactions of address
func (r *Registry) Summary(ctx context.Context, address string) (*models.Summary, error) {
	m, err := r.Monitor(address)
	if err != nil {
		return nil, err
	}
	return m.Summary(ctx)
}

// Stats reports the cached state of every watched address
func (r *Registry) Stats(ctx context.Context) ([]*AddressStats, error) {
	addresses := r.Addresses()
	out := make([]*AddressStats, 0, len(addresses))
	for _, address := range addresses {
		m, err := r.Monitor(address)
		if err != nil {
			return nil, err
		}
		stats, err := m.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}
