// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func hitProbe(router *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	router := testRouter(RateLimit(RateLimitConfig{RequestsPerMinute: 60, Burst: 3}))

	for i := 0; i < 3; i++ {
		w := hitProbe(router, "caller-a")
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i+1)
	}

	w := hitProbe(router, "caller-a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Trop de requêtes")
}

func TestRateLimit_CallersAreIndependent(t *testing.T) {
	router := testRouter(RateLimit(RateLimitConfig{RequestsPerMinute: 60, Burst: 1}))

	assert.Equal(t, http.StatusOK, hitProbe(router, "caller-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, hitProbe(router, "caller-a").Code)

	// A different key draws from its own bucket.
	assert.Equal(t, http.StatusOK, hitProbe(router, "caller-b").Code)
}

func TestRateLimit_FallsBackToClientIP(t *testing.T) {
	router := testRouter(RateLimit(RateLimitConfig{RequestsPerMinute: 60, Burst: 1}))

	// No API key: both requests resolve to the same test client IP.
	assert.Equal(t, http.StatusOK, hitProbe(router, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hitProbe(router, "").Code)
}

func TestRateLimit_ZeroConfigUsesDefaults(t *testing.T) {
	set := newRateLimiterSet(RateLimitConfig{})

	assert.Equal(t, 10, set.burst)
	assert.InDelta(t, 1.0, float64(set.limit), 0.001, "60 per minute is one per second")
}

func TestRequestID_MintsAndEchoes(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var seen string
	router.GET("/probe", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/probe", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	// An inbound ID is preserved for cross-system correlation.
	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set(RequestIDHeader, "upstream-trace-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "upstream-trace-42", seen)
	assert.Equal(t, "upstream-trace-42", w.Header().Get(RequestIDHeader))
}
