package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Refresher forces an ingestion run for an address
type Refresher interface {
	Addresses() []string
	Refresh(ctx context.Context, address string) (*ingestion.RunResult, *models.MetricsSnapshot, error)
}

// Publisher receives refresh events
type Publisher interface {
	Publish(ctx context.Context, event *models.RefreshEvent)
}

// MonitorConfig holds scheduled refresh configuration. Concurrency bounds
// how many addresses refresh at once.
type MonitorConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
	Concurrency     int           `json:"concurrency"`
	RunTimeout      time.Duration `json:"run_timeout"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`
	IsRunning        bool          `json:"is_running"`
	Cycles           uint64        `json:"cycles"`
	Refreshes        uint64        `json:"refreshes"`
	RecordsIngested  uint64        `json:"records_ingested"`
	ErrorCount       uint64        `json:"error_count"`
	LastCycleAt      *time.Time    `json:"last_cycle_at,omitempty"`
	LastCycleTook    time.Duration `json:"last_cycle_duration"`
	LastError        *string       `json:"last_error,omitempty"`
	LastErrorTime    *time.Time    `json:"last_error_time,omitempty"`
	AddressesWatched int           `json:"addresses_watched"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	Issues      []string  `json:"issues,omitempty"`
}

// WalletMonitor periodically refreshes every registered address and
// publishes a RefreshEvent per run
type WalletMonitor struct {
	refresher Refresher
	publisher Publisher
	config    *MonitorConfig
	logger    *logrus.Entry

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats          *MonitorStats
	metricsManager *metrics.Manager
}

// NewWalletMonitor creates a scheduled refresh task. publisher may be nil.
func NewWalletMonitor(refresher Refresher, publisher Publisher, config *MonitorConfig, metricsManager *metrics.Manager) *WalletMonitor {
	return &WalletMonitor{
		refresher:      refresher,
		publisher:      publisher,
		config:         config,
		logger:         utils.ComponentLogger("wallet_monitor"),
		stopChan:       make(chan struct{}),
		stats:          &MonitorStats{StartTime: time.Now()},
		metricsManager: metricsManager,
	}
}

// Start starts the refresh loop. The first cycle runs immediately.
func (wm *WalletMonitor) Start(ctx context.Context) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running")
	}
	if wm.config.RefreshInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Refresh interval must be positive")
	}

	wm.running = true
	wm.stats.StartTime = time.Now()
	wm.stats.IsRunning = true

	wm.wg.Add(1)
	go wm.monitoringLoop(ctx)

	wm.logger.WithFields(logrus.Fields{
		"addresses":        len(wm.refresher.Addresses()),
		"refresh_interval": wm.config.RefreshInterval.String(),
	}).Info("Wallet monitor started")
	return nil
}

// Stop stops the refresh loop and waits for the current cycle
func (wm *WalletMonitor) Stop() error {
	wm.mu.Lock()
	if !wm.running {
		wm.mu.Unlock()
		return nil
	}
	wm.running = false
	wm.stats.IsRunning = false
	wm.mu.Unlock()

	wm.stopOnce.Do(func() {
		close(wm.stopChan)
	})
	wm.wg.Wait()

	wm.logger.Info("Wallet monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (wm *WalletMonitor) IsRunning() bool {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.running
}

func (wm *WalletMonitor) monitoringLoop(ctx context.Context) {
	defer wm.wg.Done()

	ticker := time.NewTicker(wm.config.RefreshInterval)
	defer ticker.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-wm.stopChan:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	wm.RunCycle(loopCtx)
	for {
		select {
		case <-ctx.Done():
			wm.logger.Info("Monitoring loop stopped by context")
			return
		case <-wm.stopChan:
			wm.logger.Info("Monitoring loop stopped by stop signal")
			return
		case <-ticker.C:
			wm.RunCycle(loopCtx)
		}
	}
}

// RunCycle refreshes every registered address once
func (wm *WalletMonitor) RunCycle(ctx context.Context) {
	start := time.Now()
	addresses := wm.refresher.Addresses()

	concurrency := wm.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, address := range addresses {
		g.Go(func() error {
			wm.refreshOne(gctx, address)
			return nil
		})
	}
	_ = g.Wait()

	took := time.Since(start)
	wm.mu.Lock()
	wm.stats.Cycles++
	wm.stats.LastCycleAt = &start
	wm.stats.LastCycleTook = took
	wm.stats.AddressesWatched = len(addresses)
	wm.mu.Unlock()

	if wm.metricsManager != nil {
		wm.metricsManager.UpdateSystemMetrics()
	}
	wm.logger.WithFields(logrus.Fields{
		"addresses": len(addresses),
		"duration":  took.String(),
	}).Debug("Refresh cycle completed")
}

func (wm *WalletMonitor) refreshOne(ctx context.Context, address string) {
	runCtx := ctx
	if wm.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, wm.config.RunTimeout)
		defer cancel()
	}

	result, snapshot, err := wm.refresher.Refresh(runCtx, address)
	event := &models.RefreshEvent{
		ID:      utils.GenerateID(),
		Address: address,
		At:      time.Now().UTC(),
	}
	if result != nil {
		event.NewRecords = result.Records
		event.Pending = result.Pending
		event.Stale = result.PriceStale
	}
	if snapshot != nil && snapshot.Stale {
		event.Stale = true
	}

	wm.mu.Lock()
	wm.stats.Refreshes++
	if result != nil {
		wm.stats.RecordsIngested += uint64(result.Records)
	}
	wm.mu.Unlock()

	if err != nil {
		event.Stale = true
		event.Error = err.Error()
		wm.recordError(err)
		wm.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Scheduled refresh failed")
	}

	if wm.metricsManager != nil {
		wm.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("ingestion:"+address, err == nil)
	}
	if wm.publisher != nil {
		wm.publisher.Publish(ctx, event)
	}
}

func (wm *WalletMonitor) recordError(err error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.stats.ErrorCount++
	errorStr := err.Error()
	wm.stats.LastError = &errorStr
	now := time.Now()
	wm.stats.LastErrorTime = &now
}

// GetStats returns a copy of the monitor statistics
func (wm *WalletMonitor) GetStats() MonitorStats {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	stats := *wm.stats
	stats.Uptime = time.Since(stats.StartTime)
	return stats
}

// GetHealth reports unhealthy when the loop has stalled for several intervals
func (wm *WalletMonitor) GetHealth() *HealthStatus {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	health := &HealthStatus{Healthy: true}
	if !wm.running {
		health.Healthy = false
		health.Issues = append(health.Issues, "monitor not running")
	}
	if wm.stats.LastCycleAt != nil {
		health.LastCycleAt = *wm.stats.LastCycleAt
		if time.Since(*wm.stats.LastCycleAt) > 3*wm.config.RefreshInterval+wm.config.RunTimeout {
			health.Healthy = false
			health.Issues = append(health.Issues, "refresh loop stalled")
		}
	}
	return health
}
