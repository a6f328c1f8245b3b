package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

func newTestClient() *Client {
	c := New(&config.Config{Env: "test", HTTPTimeout: 5 * time.Second}, logger.Nop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestNewDefaults(t *testing.T) {
	c := newTestClient()
	require.NotNil(t, c.httpClient)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.Equal(t, 3, c.Policy().MaxAttempts)
	assert.Equal(t, 2*time.Second, c.Policy().MinDelay)
	assert.Equal(t, 10*time.Second, c.Policy().MaxDelay)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDefaultRetryable(t *testing.T) {
	assert.True(t, DefaultRetryable(http.StatusInternalServerError, nil))
	assert.True(t, DefaultRetryable(http.StatusTooManyRequests, nil))
	assert.False(t, DefaultRetryable(http.StatusForbidden, nil))
	assert.False(t, DefaultRetryable(http.StatusPaymentRequired, nil))
	assert.False(t, DefaultRetryable(0, context.Canceled))
	assert.True(t, DefaultRetryable(0, context.DeadlineExceeded))
	assert.False(t, DefaultRetryable(0, errors.New("bad url")))
}

func TestGetJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	var out struct {
		Status string `json:"status"`
	}
	err := newTestClient().GetJSON(context.Background(), Request{
		Provider: "test",
		URL:      server.URL,
		Query:    url.Values{"symbol": {"AAPL"}},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	body, err := newTestClient().GetBytes(context.Background(), Request{Provider: "test", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient().GetBytes(context.Background(), Request{Provider: "test", URL: server.URL})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`premium required`))
	}))
	defer server.Close()

	_, err := newTestClient().GetBytes(context.Background(), Request{
		Provider: "test",
		URL:      server.URL,
		Query:    url.Values{"apikey": {"secret"}},
	})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusPaymentRequired, statusErr.StatusCode)
	assert.NotContains(t, statusErr.URL, "secret")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNoRetryPolicy(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient().WithPolicy(NoRetry()).GetBytes(context.Background(), Request{Provider: "test", URL: server.URL})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient().WithLimiter(time.Millisecond, 1).GetBytes(ctx, Request{Provider: "test", URL: server.URL})
	assert.Error(t, err)
}
