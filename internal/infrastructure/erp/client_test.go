package erp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(cfg, StaticTokenProvider("test-token"), zap.NewNop()), srv
}

func TestClient_FetchSalesStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/modules", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"modules":[
			{"id":"m-1","name":"Compras","kind":"purchasing"},
			{"id":"m-7","name":"Vendas","kind":"sales"}
		]}`))
	})
	mux.HandleFunc("/api/v2/modules/m-7/statuses", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"statuses":[
			{"id":"8","name":"Em aberto"},
			{"id":"15","name":"Em andamento"},
			{"id":"21","name":"Enviado","inherited":true}
		]}`))
	})

	client, _ := newTestClient(t, mux, Config{RateLimitPerSec: 1000, RateBurst: 10})
	statuses, err := client.FetchSalesStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, "15", statuses[1].ID)
	assert.Equal(t, "Em andamento", statuses[1].Name)
	assert.True(t, statuses[2].Inherited)
}

func TestClient_FetchSalesStatuses_NoSalesModule(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/modules", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"modules":[{"id":"m-1","name":"Estoque","kind":"inventory"}]}`))
	})

	client, _ := newTestClient(t, mux, Config{RateLimitPerSec: 1000, RateBurst: 10})
	_, err := client.FetchSalesStatuses(context.Background())
	assert.Error(t, err)
}

func TestClient_ErrorClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/orders/bad", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"VALIDATION","message":"order number already used"}`))
	})
	mux.HandleFunc("/api/v2/orders/down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client, _ := newTestClient(t, mux, Config{RateLimitPerSec: 1000, RateBurst: 10})

	_, err := client.GetOrder(context.Background(), "bad")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsValidation())
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, "order number already used", apiErr.Message)

	_, err = client.GetOrder(context.Background(), "down")
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.False(t, apiErr.IsValidation())
}

func TestClient_RateLimiting(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/orders/E-1", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"E-1","number":"O-1","status_id":"15"}`))
	})

	client, _ := newTestClient(t, mux, Config{RateLimitPerSec: 3, RateBurst: 1})

	const n = 10
	start := time.Now()
	for i := 0; i < n; i++ {
		_, err := client.GetOrder(context.Background(), "E-1")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.EqualValues(t, n, calls.Load())
	// 10 calls at 3 req/s must take at least (10-1)/3 seconds
	assert.GreaterOrEqual(t, elapsed, time.Duration(float64(n-1)/3*float64(time.Second)))
}

func TestClient_RateWaitBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/orders/E-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"E-1"}`))
	})

	// One permit every 10 minutes with a tiny wait budget: the second call
	// must fail fast instead of hanging
	client, _ := newTestClient(t, mux, Config{
		RateLimitPerSec: 1.0 / 600,
		RateBurst:       1,
		RateWaitBudget:  50 * time.Millisecond,
	})

	_, err := client.GetOrder(context.Background(), "E-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = client.GetOrder(context.Background(), "E-1")
	assert.ErrorIs(t, err, ErrRateBudgetExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_RateWaitBudget_CallerCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/orders/E-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"E-1"}`))
	})

	client, _ := newTestClient(t, mux, Config{
		RateLimitPerSec: 1.0 / 600,
		RateBurst:       1,
		RateWaitBudget:  time.Minute,
	})

	_, err := client.GetOrder(context.Background(), "E-1")
	require.NoError(t, err)

	// A caller that gives up is not backpressure; its own context error
	// must come back, not ErrRateBudgetExceeded
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.GetOrder(ctx, "E-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRateBudgetExceeded)
}

func TestClient_UpsertOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"E-9","number":"O-1","status_id":"15"}`))
	})

	client, _ := newTestClient(t, mux, Config{RateLimitPerSec: 1000, RateBurst: 10})
	snap, err := client.UpsertOrder(context.Background(), UpsertOrderRequest{Number: "O-1", PaymentID: "P-123"})
	require.NoError(t, err)
	assert.Equal(t, "E-9", snap.ID)
}
