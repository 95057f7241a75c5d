package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHealth(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	r := gin.New()
	r.GET("/health", h.Health)
	w := serve(r, http.MethodGet, "/health", "")
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealthHandler_NoChecks(t *testing.T) {
	h := NewHealthHandler()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h.startTime = start
	h.now = func() time.Time { return start.Add(90 * time.Second) }

	code, resp := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1m30s", resp.Uptime)
	assert.Equal(t, "2024-03-01T09:01:30Z", resp.Time)
	assert.Empty(t, resp.Checks)
}

func TestHealthHandler_Checks(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			checks:     map[string]HealthCheck{"database": ok, "redis": ok},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name:       "redis down",
			checks:     map[string]HealthCheck{"database": ok, "redis": failing},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler()
			for name, check := range tt.checks {
				h.AddCheck(name, check)
			}

			code, resp := serveHealth(t, h)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestHealthHandler_ChecksHaveDeadline(t *testing.T) {
	var deadline time.Time
	h := NewHealthHandler().AddCheck("database", func(ctx context.Context) error {
		var ok bool
		deadline, ok = ctx.Deadline()
		require.True(t, ok)
		return nil
	})

	before := time.Now()
	code, _ := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.WithinDuration(t, before.Add(healthCheckTimeout), deadline, time.Second)
}
