package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Notifier delivers refresh events to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.RefreshEvent) error
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalEventsPublished     uint64        `json:"total_events_published"`
	TotalNotificationsSent   uint64        `json:"total_notifications_sent"`
	TotalNotificationsFailed uint64        `json:"total_notifications_failed"`
	AverageResponseTime      time.Duration `json:"average_response_time"`
	ActiveChannels           int           `json:"active_channels"`
	LastError                *string       `json:"last_error,omitempty"`
	LastErrorTime            *time.Time    `json:"last_error_time,omitempty"`
}

// NotificationHealth summarizes the notification subsystem
type NotificationHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Manager fans refresh events out to every registered notifier
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	stats     NotificationStats

	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewManager creates a notification manager
func NewManager(metricsManager *metrics.Manager, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers:      notifiers,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("notification"),
	}
}

// Add registers a notifier
func (m *Manager) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
	m.logger.WithField("channel", n.Name()).Info("Notification channel added")
}

// Publish delivers event to all notifiers. A failing notifier does not stop
// delivery to the others.
func (m *Manager) Publish(ctx context.Context, event *models.RefreshEvent) {
	if event.ID == "" {
		event.ID = utils.GenerateID()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	m.mu.Lock()
	m.stats.TotalEventsPublished++
	m.mu.Unlock()

	for _, n := range notifiers {
		start := time.Now()
		err := n.Notify(ctx, event)
		m.record(start, err)

		if m.metricsManager != nil {
			m.metricsManager.GetPrometheusMetrics().RecordNotification(n.Name(), err)
		}
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"channel":  n.Name(),
				"event_id": event.ID,
				"address":  event.Address,
				"error":    err,
			}).Warn("Failed to deliver refresh event")
			continue
		}
		m.logger.WithFields(logrus.Fields{
			"channel":  n.Name(),
			"event_id": event.ID,
			"address":  event.Address,
		}).Debug("Refresh event delivered")
	}
}

func (m *Manager) record(start time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalNotificationsSent++
	if err != nil {
		m.stats.TotalNotificationsFailed++
		errorStr := err.Error()
		m.stats.LastError = &errorStr
		now := time.Now()
		m.stats.LastErrorTime = &now
	}

	responseTime := time.Since(start)
	if m.stats.TotalNotificationsSent == 1 {
		m.stats.AverageResponseTime = responseTime
	} else {
		m.stats.AverageResponseTime = (m.stats.AverageResponseTime + responseTime) / 2
	}
}

// GetStats returns a copy of the notification statistics
func (m *Manager) GetStats() NotificationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.ActiveChannels = len(m.notifiers)
	return stats
}

// GetHealth reports the last delivery error, if any
func (m *Manager) GetHealth() *NotificationHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := &NotificationHealth{Healthy: true}
	if m.stats.LastError != nil && m.stats.TotalNotificationsFailed == m.stats.TotalNotificationsSent {
		health.Healthy = false
		health.Error = *m.stats.LastError
	}
	return health
}
