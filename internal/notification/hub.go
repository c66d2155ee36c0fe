package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const writeWait = 5 * time.Second

// Hub broadcasts refresh events to connected websocket clients
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader

	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewHub creates a websocket hub
func NewHub(metricsManager *metrics.Manager) *Hub {
	return &Hub{
		clients:        make(map[*websocket.Conn]struct{}),
		upgrader:       websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("websocket_hub"),
	}
}

// Name implements Notifier
func (h *Hub) Name() string {
	return "websocket"
}

// Notify implements Notifier. Clients that fail a write are dropped.
func (h *Hub) Notify(_ context.Context, event *models.RefreshEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode refresh event", err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.WithError(err).Debug("Dropping websocket client after write error")
			c.Close()
			delete(h.clients, c)
		}
	}
	h.updateClientCount()
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler accepts websocket connections
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WithError(err).Warn("Websocket upgrade failed")
			return
		}

		h.mu.Lock()
		h.clients[conn] = struct{}{}
		h.updateClientCount()
		h.mu.Unlock()

		go func() {
			defer func() {
				h.mu.Lock()
				delete(h.clients, conn)
				h.updateClientCount()
				h.mu.Unlock()
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		c.Close()
		delete(h.clients, c)
	}
	h.updateClientCount()
}

// updateClientCount must be called with h.mu held
func (h *Hub) updateClientCount() {
	if h.metricsManager != nil {
		h.metricsManager.GetPrometheusMetrics().UpdateWebSocketClients(len(h.clients))
	}
}
