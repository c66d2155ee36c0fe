package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers every call with respond's result or error
func newRPCServer(t *testing.T, respond func(r *http.Request, req rpcRequest) (int, interface{}, map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, result, rpcErr := respond(r, req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		body := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			body["error"] = rpcErr
		} else {
			body["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, urls ...string) *ConnectionManager {
	t.Helper()
	cm, err := NewConnectionManager(&ConnectionConfig{
		URLs:           urls,
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     5 * time.Millisecond,
	}, metrics.NewManager())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })
	return cm
}

func TestCallSuccess(t *testing.T) {
	srv := newRPCServer(t, func(_ *http.Request, req rpcRequest) (int, interface{}, map[string]interface{}) {
		assert.Equal(t, "getBalance", req.Method)
		return http.StatusOK, map[string]interface{}{"value": 1500000000}, nil
	})
	cm := newTestManager(t, srv.URL)

	var result struct {
		Value uint64 `json:"value"`
	}
	require.NoError(t, cm.Call(context.Background(), &result, "getBalance", "addr"))
	assert.Equal(t, uint64(1500000000), result.Value)

	stats := cm.Stats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, "primary", stats.CurrentEndpoint)
	assert.True(t, cm.IsConnected())
}

func TestCallFailsOverToBackup(t *testing.T) {
	primary := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		return http.StatusServiceUnavailable, nil, nil
	})
	backup := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		return http.StatusOK, "ok", nil
	})
	cm := newTestManager(t, primary.URL, backup.URL)

	var status string
	require.NoError(t, cm.Call(context.Background(), &status, "getHealth"))
	assert.Equal(t, "ok", status)

	stats := cm.Stats()
	assert.Equal(t, "backup-1", stats.CurrentEndpoint)
	assert.Equal(t, uint64(1), stats.Failovers)
	assert.Equal(t, uint64(1), stats.FailedRequests)
}

func TestCallDoesNotRetryRPCError(t *testing.T) {
	var calls int32
	srv := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		atomic.AddInt32(&calls, 1)
		return http.StatusOK, nil, map[string]interface{}{"code": -32602, "message": "Invalid param: WrongSize"}
	})
	cm := newTestManager(t, srv.URL)

	var result interface{}
	err := cm.Call(context.Background(), &result, "getBalance", "bad")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
}

func TestCallExhaustionIsUnavailable(t *testing.T) {
	var calls int32
	srv := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		atomic.AddInt32(&calls, 1)
		return http.StatusTooManyRequests, nil, nil
	})
	cm := newTestManager(t, srv.URL)

	var result interface{}
	err := cm.Call(context.Background(), &result, "getSignaturesForAddress")
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, cm.IsConnected())
}

func TestCallAppliesCredentials(t *testing.T) {
	srv := newRPCServer(t, func(r *http.Request, _ rpcRequest) (int, interface{}, map[string]interface{}) {
		if r.Header.Get("x-api-key") != "secret" {
			return http.StatusUnauthorized, nil, nil
		}
		return http.StatusOK, "ok", nil
	})
	cm, err := NewConnectionManager(&ConnectionConfig{
		URLs:           []string{srv.URL},
		RequestTimeout: time.Second,
		RetryAttempts:  1,
		Credentials:    CredentialsFromConfig("", "secret"),
	}, nil)
	require.NoError(t, err)
	defer cm.Close()

	require.NoError(t, cm.HealthCheck(context.Background()))
	assert.True(t, cm.IsConnected())
}

func TestCredentialsFromConfig(t *testing.T) {
	assert.False(t, CredentialsFromConfig("x-api-key", "  ").Configured())

	creds := CredentialsFromConfig("Authorization", "token")
	require.True(t, creds.Configured())
	h := http.Header{}
	require.NoError(t, creds.Apply(h))
	assert.Equal(t, "token", h.Get("Authorization"))
}

func TestNewConnectionManagerRequiresURL(t *testing.T) {
	_, err := NewConnectionManager(&ConnectionConfig{}, nil)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeConfiguration))
}

// slowLimiter admits every request after a fixed delay
type slowLimiter struct {
	delay time.Duration
	waits atomic.Int32
}

func (l *slowLimiter) Wait(ctx context.Context) error {
	l.waits.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.delay):
		return nil
	}
}

func TestCallLimiterWaitExcludedFromRequestTimeout(t *testing.T) {
	var calls int32
	srv := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		atomic.AddInt32(&calls, 1)
		return http.StatusOK, "ok", nil
	})
	limiter := &slowLimiter{delay: 150 * time.Millisecond}
	cm, err := NewConnectionManager(&ConnectionConfig{
		URLs:           []string{srv.URL},
		RequestTimeout: 50 * time.Millisecond,
		RetryAttempts:  1,
		Limiter:        limiter,
	}, metrics.NewManager())
	require.NoError(t, err)
	defer cm.Close()

	var status string
	require.NoError(t, cm.Call(context.Background(), &status, "getHealth"))
	assert.Equal(t, "ok", status)
	assert.Equal(t, int32(1), limiter.waits.Load())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCallRequestTimeoutStillApplies(t *testing.T) {
	srv := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		time.Sleep(200 * time.Millisecond)
		return http.StatusOK, "ok", nil
	})
	cm, err := NewConnectionManager(&ConnectionConfig{
		URLs:           []string{srv.URL},
		RequestTimeout: 50 * time.Millisecond,
		RetryAttempts:  1,
	}, nil)
	require.NoError(t, err)
	defer cm.Close()

	var status string
	err = cm.Call(context.Background(), &status, "getHealth")
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
}

func TestCallLimiterCancellation(t *testing.T) {
	srv := newRPCServer(t, func(*http.Request, rpcRequest) (int, interface{}, map[string]interface{}) {
		return http.StatusOK, "ok", nil
	})
	cm, err := NewConnectionManager(&ConnectionConfig{
		URLs:          []string{srv.URL},
		RetryAttempts: 1,
		Limiter:       &slowLimiter{delay: time.Second},
	}, nil)
	require.NoError(t, err)
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var status string
	err = cm.Call(ctx, &status, "getHealth")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
