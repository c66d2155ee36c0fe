package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/ratelimit"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Caller issues JSON-RPC calls against the blockchain endpoint
type Caller interface {
	Call(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Manager defines the connection manager interface
type Manager interface {
	Caller
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionConfig holds connection manager configuration
type ConnectionConfig struct {
	URLs           []string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	Limiter        ratelimit.Limiter
	Credentials    CredentialProvider
	Transport      http.RoundTripper
}

// ConfigFromSolana builds a connection config from application config
func ConfigFromSolana(cfg *config.SolanaConfig, limiter ratelimit.Limiter) *ConnectionConfig {
	urls := append([]string{cfg.RPCURL}, cfg.BackupURLs...)
	return &ConnectionConfig{
		URLs:           urls,
		RequestTimeout: cfg.RequestTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
		Limiter:        limiter,
		Credentials:    CredentialsFromConfig(cfg.APIKeyHeader, cfg.APIKey),
	}
}

// ConnectionManager implements Manager over go-ethereum's JSON-RPC client,
// failing over across the configured endpoints.
type ConnectionManager struct {
	config         *ConnectionConfig
	clients        []*rpc.Client
	currentIndex   int
	mu             sync.RWMutex
	logger         *logrus.Entry
	stats          ConnectionStats
	isHealthy      bool
	metricsManager *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Failovers       uint64    `json:"failovers"`
	CurrentEndpoint string    `json:"current_endpoint"`
	LastSuccessAt   time.Time `json:"last_success_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *ConnectionConfig, metricsManager *metrics.Manager) (*ConnectionManager, error) {
	if len(cfg.URLs) == 0 || cfg.URLs[0] == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "At least one RPC URL is required")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Credentials == nil {
		cfg.Credentials = NoCredentials()
	}

	return &ConnectionManager{
		config:         cfg,
		clients:        make([]*rpc.Client, len(cfg.URLs)),
		logger:         utils.ComponentLogger("connection"),
		metricsManager: metricsManager,
		stats: ConnectionStats{
			CurrentEndpoint: endpointLabel(0),
		},
	}, nil
}

// endpointLabel names an endpoint without exposing its URL, which may carry a key
func endpointLabel(index int) string {
	if index == 0 {
		return "primary"
	}
	return fmt.Sprintf("backup-%d", index)
}

// Connect dials every endpoint and verifies the current one responds
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	for i := range cm.config.URLs {
		if _, err := cm.client(ctx, i); err != nil {
			return err
		}
	}
	return cm.HealthCheck(ctx)
}

// client returns the dialed client for endpoint i
func (cm *ConnectionManager) client(ctx context.Context, i int) (*rpc.Client, error) {
	cm.mu.RLock()
	c := cm.clients[i]
	cm.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.clients[i] != nil {
		return cm.clients[i], nil
	}

	transport := cm.config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{Transport: transport}
	c, err := rpc.DialOptions(ctx, cm.config.URLs[i],
		rpc.WithHTTPClient(httpClient),
		rpc.WithHTTPAuth(cm.config.Credentials.Apply),
	)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to dial RPC endpoint", err)
	}
	cm.clients[i] = c
	return c, nil
}

// acquire waits for a limiter token. The wait is not part of the request
// timeout.
func (cm *ConnectionManager) acquire(ctx context.Context) error {
	if cm.config.Limiter == nil {
		return nil
	}
	start := time.Now()
	if err := cm.config.Limiter.Wait(ctx); err != nil {
		return err
	}
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordRateLimiterWait(time.Since(start))
	}
	return nil
}

// Call issues a JSON-RPC call, retrying transient failures across endpoints.
// JSON-RPC level errors are returned as-is without retrying.
func (cm *ConnectionManager) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var lastErr error

	for attempt := 0; attempt < cm.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := cm.config.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		for _, i := range cm.endpointOrder() {
			err := cm.callEndpoint(ctx, i, result, method, args...)
			if err == nil {
				cm.markSuccess(i)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) {
				return utils.WrapError(utils.ErrCodeBlockchain, fmt.Sprintf("RPC call %s rejected", method), err)
			}
			if !isTransient(err) {
				return utils.WrapError(utils.ErrCodeBlockchain, fmt.Sprintf("RPC call %s failed", method), err)
			}

			lastErr = err
			cm.logger.WithFields(logrus.Fields{
				"endpoint": endpointLabel(i),
				"method":   method,
				"attempt":  attempt + 1,
				"error":    err,
			}).Warn("RPC call failed, trying next endpoint")
		}
	}

	cm.mu.Lock()
	cm.isHealthy = false
	cm.stats.IsHealthy = false
	cm.mu.Unlock()

	return utils.WrapError(utils.ErrCodeRPCUnavailable,
		fmt.Sprintf("RPC call %s failed on all endpoints", method), lastErr)
}

func (cm *ConnectionManager) callEndpoint(ctx context.Context, i int, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	label := endpointLabel(i)

	c, err := cm.client(ctx, i)
	if err != nil {
		cm.recordFailure(label, method, "dial_failed", start)
		return err
	}

	if err := cm.acquire(ctx); err != nil {
		return err
	}
	start = time.Now()

	callCtx := ctx
	if cm.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cm.config.RequestTimeout)
		defer cancel()
	}
	err = c.CallContext(callCtx, result, method, args...)

	cm.mu.Lock()
	cm.stats.TotalRequests++
	if err != nil {
		cm.stats.FailedRequests++
	}
	cm.mu.Unlock()

	if err != nil {
		cm.recordFailure(label, method, errorType(err), start)
		return err
	}
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordRPCRequest(label, method, "success", time.Since(start))
	}
	return nil
}

func (cm *ConnectionManager) recordFailure(label, method, errType string, start time.Time) {
	if cm.metricsManager == nil {
		return
	}
	pm := cm.metricsManager.GetPrometheusMetrics()
	pm.RecordConnectionError(label, errType)
	pm.RecordRPCRequest(label, method, "error", time.Since(start))
}

// endpointOrder returns endpoint indexes starting from the current one
func (cm *ConnectionManager) endpointOrder() []int {
	cm.mu.RLock()
	current := cm.currentIndex
	cm.mu.RUnlock()

	n := len(cm.config.URLs)
	order := make([]int, 0, n)
	for k := 0; k < n; k++ {
		order = append(order, (current+k)%n)
	}
	return order
}

func (cm *ConnectionManager) markSuccess(i int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.currentIndex != i {
		cm.stats.Failovers++
		cm.logger.WithFields(logrus.Fields{
			"from": endpointLabel(cm.currentIndex),
			"to":   endpointLabel(i),
		}).Info("Switched RPC endpoint")
	}
	cm.currentIndex = i
	cm.isHealthy = true
	cm.stats.IsHealthy = true
	cm.stats.CurrentEndpoint = endpointLabel(i)
	cm.stats.LastSuccessAt = time.Now()
}

// isTransient reports whether err is worth retrying on another endpoint
func isTransient(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func errorType(err error) string {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return "rpc_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "network"
}

// HealthCheck calls getHealth on the current endpoint
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	var status string
	err := cm.Call(ctx, &status, "getHealth")

	cm.mu.Lock()
	cm.stats.LastHealthCheck = time.Now()
	cm.isHealthy = err == nil && status == "ok"
	cm.stats.IsHealthy = cm.isHealthy
	cm.mu.Unlock()

	if err != nil {
		return utils.WrapError(utils.ErrCodeConnection, "RPC health check failed", err)
	}
	if status != "ok" {
		return utils.NewAppError(utils.ErrCodeConnection, "RPC node reports unhealthy", status)
	}
	return nil
}

// IsConnected returns whether the last call or health check succeeded
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isHealthy
}

// Close closes all endpoint clients
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for i, c := range cm.clients {
		if c != nil {
			c.Close()
			cm.clients[i] = nil
		}
	}
	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}
