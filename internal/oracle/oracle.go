package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/connection"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Source tells where a quoted price came from
type Source string

const (
	SourceLive     Source = "live"
	SourceCached   Source = "cached"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Quote is the result of a spot price lookup. Lookups never fail: a failed
// fetch degrades to the last known price, or to no price at all, and the
// cause is carried in Err.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Source    Source    `json:"source"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at"`
	Err       error     `json:"-"`
}

// Available reports whether the quote carries a usable price
func (q Quote) Available() bool {
	return q.Source != SourceNone
}

// PriceSource quotes USD spot prices by asset symbol
type PriceSource interface {
	Quote(ctx context.Context, symbol string) Quote
}

type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

// Client quotes spot prices from a CoinGecko compatible simple price API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials connection.CredentialProvider
	coinIDs     map[string]string
	ttl         time.Duration
	breaker     *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	prices map[string]priceEntry

	now            func() time.Time
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewClient creates a price oracle client
func NewClient(cfg *config.OracleConfig, metricsManager *metrics.Manager) *Client {
	logger := utils.ComponentLogger("oracle")

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	coinIDs := make(map[string]string, len(cfg.CoinIDs))
	for symbol, id := range cfg.CoinIDs {
		coinIDs[strings.ToUpper(symbol)] = id
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		credentials: connection.CredentialsFromConfig(cfg.APIKeyHeader, cfg.APIKey),
		coinIDs:     coinIDs,
		ttl:         cfg.PriceTTL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "price-oracle",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Price oracle circuit breaker changed state")
			},
		}),
		prices:         make(map[string]priceEntry),
		now:            time.Now,
		metricsManager: metricsManager,
		logger:         logger,
	}
}

// Quote returns the USD spot price of symbol
func (c *Client) Quote(ctx context.Context, symbol string) Quote {
	symbol = strings.ToUpper(symbol)
	now := c.now()

	c.mu.RLock()
	entry, known := c.prices[symbol]
	c.mu.RUnlock()

	if known && now.Sub(entry.fetchedAt) < c.ttl {
		return c.record(Quote{Symbol: symbol, Price: entry.price, Source: SourceCached, FetchedAt: entry.fetchedAt})
	}

	price, err := c.fetchThroughBreaker(ctx, symbol)
	if err == nil {
		c.mu.Lock()
		c.prices[symbol] = priceEntry{price: price, fetchedAt: now}
		c.mu.Unlock()
		return c.record(Quote{Symbol: symbol, Price: price, Source: SourceLive, FetchedAt: now})
	}

	appErr := utils.WrapError(utils.ErrCodeOracleUnavailable, fmt.Sprintf("Price lookup for %s failed", symbol), err)
	if known {
		c.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"price":  entry.price,
			"age":    now.Sub(entry.fetchedAt).String(),
			"error":  err,
		}).Warn("Using last known price")
		return c.record(Quote{Symbol: symbol, Price: entry.price, Source: SourceFallback, Stale: true, FetchedAt: entry.fetchedAt, Err: appErr})
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"error":  err,
	}).Warn("No price available")
	return c.record(Quote{Symbol: symbol, Source: SourceNone, Stale: true, Err: appErr})
}

// LastKnown returns the most recent fetched price of symbol
func (c *Client) LastKnown(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.prices[strings.ToUpper(symbol)]
	return entry.price, ok
}

func (c *Client) record(q Quote) Quote {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordOracleLookup(q.Symbol, string(q.Source), q.Price)
	}
	return q
}

func (c *Client) fetchThroughBreaker(ctx context.Context, symbol string) (float64, error) {
	coinID, ok := c.coinIDs[symbol]
	if !ok {
		return 0, fmt.Errorf("no coin id configured for %s", symbol)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, coinID)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

func (c *Client) fetch(ctx context.Context, coinID string) (float64, error) {
	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", "usd")
	endpoint := c.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.credentials.Apply(req.Header); err != nil {
		return 0, fmt.Errorf("apply oracle credentials: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("price status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	price, ok := payload[coinID]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("price response missing usd price for %s", coinID)
	}
	return price, nil
}
