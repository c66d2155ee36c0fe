package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const (
	webhookSource  = "presale-monitor"
	webhookType    = "wallet_refresh"
	webhookVersion = "1.0"
	maxRetryDelay  = 30 * time.Second
	maxBodyPreview = 1024
)

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Event     *models.RefreshEvent `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	Source    string               `json:"source"`
	Type      string               `json:"type"`
	Version   string               `json:"version"`
}

// WebhookResponse represents a webhook response
type WebhookResponse struct {
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Error        error         `json:"error,omitempty"`
	Body         string        `json:"body,omitempty"`
}

// WebhookNotifier posts refresh events as JSON to a URL
type WebhookNotifier struct {
	url           string
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	logger        *logrus.Entry
}

// NewWebhookNotifier creates a webhook notifier from configuration
func NewWebhookNotifier(cfg *config.NotificationConfig) (*WebhookNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Webhook URL is required")
	}

	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &WebhookNotifier{
		url:           cfg.WebhookURL,
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: utils.ComponentLogger("webhook_notifier"),
	}, nil
}

// Name implements Notifier
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify implements Notifier
func (w *WebhookNotifier) Notify(ctx context.Context, event *models.RefreshEvent) error {
	payload := &WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Source:    webhookSource,
		Type:      webhookType,
		Version:   webhookVersion,
	}

	response := w.sendWithRetry(ctx, payload)
	if response.Success {
		w.logger.WithFields(logrus.Fields{
			"url":           w.url,
			"status_code":   response.StatusCode,
			"response_time": response.ResponseTime.String(),
		}).Debug("Webhook sent")
	}
	return response.Error
}

func (w *WebhookNotifier) sendWithRetry(ctx context.Context, payload *WebhookPayload) *WebhookResponse {
	var last *WebhookResponse

	for attempt := 1; attempt <= w.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := w.retryDelayFor(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &WebhookResponse{Error: ctx.Err()}
			}
		}

		last = w.send(ctx, payload)
		if last.Success {
			return last
		}
		if attempt < w.retryAttempts {
			w.logger.WithFields(logrus.Fields{
				"url":         w.url,
				"attempt":     attempt,
				"status_code": last.StatusCode,
				"error":       last.Error,
			}).Warn("Webhook attempt failed, retrying")
		}
	}
	return last
}

func (w *WebhookNotifier) send(ctx context.Context, payload *WebhookPayload) *WebhookResponse {
	start := time.Now()
	response := &WebhookResponse{}

	data, err := json.Marshal(payload)
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
		return response
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
		return response
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Presale-Monitor/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", utils.GenerateID())

	resp, err := w.httpClient.Do(req)
	response.ResponseTime = time.Since(start)
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeConnection, "Failed to send webhook", err.Error())
		return response
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))
	response.StatusCode = resp.StatusCode
	response.Body = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		response.Success = true
		return response
	}
	response.Error = utils.NewAppError(utils.ErrCodeConnection, "Webhook returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, response.Body))
	return response
}

// retryDelayFor doubles the base delay per attempt, capped at maxRetryDelay
func (w *WebhookNotifier) retryDelayFor(attempt int) time.Duration {
	delay := time.Duration(int64(w.retryDelay) << uint(attempt-2))
	if delay > maxRetryDelay || delay < 0 {
		delay = maxRetryDelay
	}
	return delay
}
