// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Disabled(t *testing.T) {
	limiter := New(nil)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("client"))
	}
	assert.False(t, limiter.IsEnabled())
}

func TestLimiter_EnforcesBurst(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 60, Burst: 3})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("client"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("client"))
}

func TestLimiter_PerClientBuckets(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	defer limiter.Stop()

	assert.True(t, limiter.Allow("alice"))
	assert.False(t, limiter.Allow("alice"))
	assert.True(t, limiter.Allow("bob"))
}

func TestLimiter_CleanupDropsIdleClients(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		CleanupInterval:   time.Hour,
		MaxIdle:           time.Millisecond,
	})
	defer limiter.Stop()

	limiter.Allow("alice")
	time.Sleep(5 * time.Millisecond)
	limiter.cleanup()

	stats := limiter.Stats()
	assert.Equal(t, 0, stats["active_clients"])
}

func TestLimiter_Stats(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 120, Burst: 10})
	defer limiter.Stop()

	limiter.Allow("alice")
	stats := limiter.Stats()
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, 1, stats["active_clients"])
	assert.Equal(t, float64(120), stats["rate_per_min"])
	assert.Equal(t, 10, stats["burst"])
}

func TestMiddleware_Returns429(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	defer limiter.Stop()

	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "rate_limited")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", clientIP(r))
}
