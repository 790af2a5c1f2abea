// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig controls the per-caller token buckets.
//
// Callers are identified by their API key when one is presented, falling
// back to the client IP in open mode. Each caller gets an independent
// bucket refilling at RequestsPerMinute with Burst capacity.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate. Default: 60.
	RequestsPerMinute int

	// Burst is the bucket capacity. Default: 10.
	Burst int

	// idleEviction is how long an unused bucket survives before the
	// sweep drops it, bounding memory under rotating client IPs.
	idleEviction time.Duration
}

// DefaultRateLimitConfig returns the limits the service has always
// enforced: 60 requests per minute per caller with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		Burst:             10,
		idleEviction:      10 * time.Minute,
	}
}

// callerLimiter pairs a token bucket with its last use, for eviction.
type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterSet holds one bucket per caller behind a mutex. Lookup is a
// map access; the sweep runs inline at most once per eviction interval,
// which keeps the middleware free of background goroutines.
type rateLimiterSet struct {
	mu        sync.Mutex
	limiters  map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

func newRateLimiterSet(cfg RateLimitConfig) *rateLimiterSet {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRateLimitConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimitConfig().Burst
	}
	if cfg.idleEviction <= 0 {
		cfg.idleEviction = DefaultRateLimitConfig().idleEviction
	}
	return &rateLimiterSet{
		limiters:  make(map[string]*callerLimiter),
		limit:     rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:     cfg.Burst,
		idle:      cfg.idleEviction,
		lastSweep: time.Now(),
	}
}

// get returns the caller's bucket, creating it on first sight, and sweeps
// idle buckets opportunistically.
func (s *rateLimiterSet) get(caller string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > s.idle {
		for key, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > s.idle {
				delete(s.limiters, key)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.limiters[caller]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[caller] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit creates a Gin middleware enforcing per-caller request rates.
//
// # Description
//
// Each caller draws from its own token bucket; an empty bucket yields
// 429 with a Retry-After header derived from the refill rate. The caller
// identity is the presented API key when there is one, otherwise the
// client IP, so open-mode deployments still get per-source limiting.
//
// # Inputs
//
//   - cfg: Bucket parameters. Zero values use DefaultRateLimitConfig.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. Buckets live behind a mutex; rate.Limiter is itself safe
// for concurrent use.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	set := newRateLimiterSet(cfg)

	return func(c *gin.Context) {
		caller := c.GetHeader(APIKeyHeader)
		if caller == "" {
			caller = c.ClientIP()
		}

		limiter := set.get(caller)
		if !limiter.Allow() {
			retryAfter := int(math.Ceil(1.0 / float64(limiter.Limit())))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Trop de requêtes. Veuillez réessayer plus tard.",
			})
			return
		}

		c.Next()
	}
}
