package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/auth"
	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:              "test",
		HTTPPort:                 0,
		StoreDriver:              config.StoreDriverMemory,
		LockTimeoutMs:            100,
		LockRetryAttempts:        3,
		ReservationTTL:           900,
		ReservationMaxTTL:        3600,
		ReservationSweepInterval: 60,
		ReservationSweepBatch:    100,
		DefaultLowStockThreshold: 10,
		BatchMaxItems:            100,
		EventDedupTTLHours:       1,
		JWTSecret:                "app-test-secret",
	}
}

func TestNewApp_MemoryStoreServesRequests(t *testing.T) {
	cfg := memoryConfig()
	a, err := NewApp(cfg, logger.NewWithWriter(serviceName, "error", io.Discard))
	require.NoError(t, err)
	assert.Nil(t, a.pool)
	assert.Nil(t, a.producer)
	assert.Nil(t, a.consumer)

	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := auth.NewJWTManager(cfg.JWTSecret, time.Minute).
		GenerateToken(domain.Actor{ID: "admin-1", Role: domain.RoleAdmin})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"product_id": "prod-1", "vendor_id": "vendor-1", "sku": "SKU-1", "initial_stock": 3,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/variants", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.NoError(t, a.Shutdown())
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := NewApp(memoryConfig(), logger.NewWithWriter(serviceName, "error", io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
