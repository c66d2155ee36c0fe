package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/monitor"
	"github.com/smartdevs17/presale-monitor/internal/notification"
	"github.com/smartdevs17/presale-monitor/internal/query"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Engine is the read API served over HTTP
type Engine interface {
	Addresses() []string
	WalletInfo(ctx context.Context, address string) (*models.WalletInfo, error)
	Metrics(ctx context.Context, address string, force bool) (*models.MetricsSnapshot, error)
	RecentTransactions(ctx context.Context, address string, limit int) (*models.TransactionList, error)
	TopContributors(ctx context.Context, address string, limit int) (*models.ContributorList, error)
	HistoricalAnalysis(ctx context.Context, address string, days int) (*models.HistoricalAnalysis, error)
	SnapshotHistory(ctx context.Context, address string, days int) (*models.SnapshotHistory, error)
	Summary(ctx context.Context, address string) (*models.Summary, error)
	Refresh(ctx context.Context, address string) (*ingestion.RunResult, *models.MetricsSnapshot, error)
	Stats(ctx context.Context) ([]*query.AddressStats, error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	EnableMetrics   bool          `json:"enable_metrics"`
	EnableHealth    bool          `json:"enable_health"`
	EnableWebSocket bool          `json:"enable_websocket"`
	Version         string        `json:"version"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	engine         Engine
	storage        storage.Storage
	monitor        *monitor.WalletMonitor
	notification   *notification.Manager
	hub            *notification.Hub
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	stopUpdater    chan struct{}
}

// Options carries the optional collaborators of the server
type Options struct {
	Storage      storage.Storage
	Monitor      *monitor.WalletMonitor
	Notification *notification.Manager
	Hub          *notification.Hub
	Metrics      *metrics.Manager
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(config *ServerConfig, engine Engine, opts Options) *HTTPServer {
	s := &HTTPServer{
		config:         config,
		engine:         engine,
		storage:        opts.Storage,
		monitor:        opts.Monitor,
		notification:   opts.Notification,
		hub:            opts.Hub,
		metricsManager: opts.Metrics,
		logger:         utils.ComponentLogger("http_server"),
		stopUpdater:    make(chan struct{}),
	}

	s.setupRouter()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	api.HandleFunc("/wallets", s.listWalletsHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}", s.walletInfoHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/metrics", s.metricsHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/transactions", s.transactionsHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/contributors", s.contributorsHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/history", s.historyHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/snapshots", s.snapshotsHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/summary", s.summaryHandler).Methods("GET")
	api.HandleFunc("/wallets/{address}/refresh", s.refreshHandler).Methods("POST")

	if s.config.EnableWebSocket && s.hub != nil {
		api.HandleFunc("/ws", s.hub.Handler())
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":           s.server.Addr,
		"metrics_enabled":   s.config.EnableMetrics,
		"websocket_enabled": s.config.EnableWebSocket,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopUpdater:
			return
		case <-ticker.C:
			s.updateComponentHealth()
		}
	}
}

func (s *HTTPServer) updateComponentHealth() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		pm.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
	if s.monitor != nil {
		pm.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	}
	if s.notification != nil {
		pm.UpdateComponentHealth("notification", s.notification.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	close(s.stopUpdater)
	if s.hub != nil {
		s.hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{}
	healthy := true
	if s.storage != nil {
		components["storage"] = s.storage.Ping() == nil
		healthy = healthy && components["storage"]
	}
	if s.monitor != nil {
		components["monitor"] = s.monitor.GetHealth().Healthy
	}
	if s.notification != nil {
		components["notification"] = s.notification.GetHealth().Healthy
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	addresses, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"addresses": addresses,
	}
	if s.storage != nil {
		storageStats, err := s.storage.GetStorageStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}
	if s.notification != nil {
		stats["notification"] = s.notification.GetStats()
	}
	if s.hub != nil {
		stats["websocket_clients"] = s.hub.Clients()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) listWalletsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"addresses": s.engine.Addresses()})
}

func (s *HTTPServer) walletInfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.WalletInfo(r.Context(), mux.Vars(r)["address"])
	s.respond(w, info, err)
}

func (s *HTTPServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid refresh parameter", err)
			return
		}
		force = parsed
	}

	snapshot, err := s.engine.Metrics(r.Context(), mux.Vars(r)["address"], force)
	s.respond(w, snapshot, err)
}

func (s *HTTPServer) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 20)
	if !ok {
		return
	}
	list, err := s.engine.RecentTransactions(r.Context(), mux.Vars(r)["address"], limit)
	s.respond(w, list, err)
}

func (s *HTTPServer) contributorsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 10)
	if !ok {
		return
	}
	list, err := s.engine.TopContributors(r.Context(), mux.Vars(r)["address"], limit)
	s.respond(w, list, err)
}

func (s *HTTPServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	days, ok := s.intParam(w, r, "days", 30)
	if !ok {
		return
	}
	history, err := s.engine.HistoricalAnalysis(r.Context(), mux.Vars(r)["address"], days)
	s.respond(w, history, err)
}

func (s *HTTPServer) snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	days, ok := s.intParam(w, r, "days", 7)
	if !ok {
		return
	}
	history, err := s.engine.SnapshotHistory(r.Context(), mux.Vars(r)["address"], days)
	s.respond(w, history, err)
}

func (s *HTTPServer) summaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summary(r.Context(), mux.Vars(r)["address"])
	s.respond(w, summary, err)
}

func (s *HTTPServer) refreshHandler(w http.ResponseWriter, r *http.Request) {
	result, snapshot, err := s.engine.Refresh(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     result,
		"metrics": snapshot,
	})
}

// intParam parses an optional integer query parameter, writing a 400 on
// malformed input
func (s *HTTPServer) intParam(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s parameter", name), err)
		return 0, false
	}
	return value, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

// statusFor maps error codes onto HTTP statuses
func statusFor(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeInvalidAddress, utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeRPCUnavailable:
		return http.StatusServiceUnavailable
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	s.writeError(w, status, message, err)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		if code := utils.ErrorCode(err); code != "" {
			errorResponse["code"] = code
		}
		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Debug("HTTP client error")
		}
	}

	s.writeJSON(w, status, errorResponse)
}
