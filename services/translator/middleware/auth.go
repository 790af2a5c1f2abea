// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the translator service.
//
// This package contains middleware for API-key authentication, per-caller
// rate limiting, and request identification. All middleware is gin-native
// and composes in the order routes.Register applies it.
//
// # Authentication Flow
//
// The auth middleware reads the X-API-Key header and compares it in
// constant time against the configured key held in a memguard enclave.
//
//	Request
//	   │
//	   ▼
//	APIKeyAuth
//	   │
//	   ├─► Read "X-API-Key: <key>" header
//	   │
//	   ├─► key.Verify(candidate)  (constant-time)
//	   │
//	   └─► 401 on mismatch, otherwise continue
//
// # Open Mode
//
// When no API key is configured (nil key), every request is admitted.
// This keeps local development and the CLI working without credential
// setup; production deployments set NL2SQL_API_KEY.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datasulting/nl2sql/pkg/secrets"
)

// APIKeyHeader is the request header carrying the caller's API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth creates a Gin middleware enforcing X-API-Key authentication.
//
// # Description
//
// Compares the X-API-Key header against the configured key using a
// constant-time comparison, so response timing does not leak how much of
// a guessed key matched. A nil key disables the check entirely (open
// mode).
//
// Rejections carry the product-language message the service has always
// returned for credential failures, plus a WWW-Authenticate header naming
// the expected scheme.
//
// # Inputs
//
//   - key: Sealed API key to verify against. May be nil (open mode).
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin
//
// # Examples
//
//	api := router.Group("/api/v1")
//	api.Use(middleware.APIKeyAuth(apiKey))
//
// # Thread Safety
//
// Thread-safe. Verify seals and unseals the enclave per call.
func APIKeyAuth(key *secrets.APIKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == nil {
			c.Next()
			return
		}

		candidate := c.GetHeader(APIKeyHeader)
		if candidate == "" || !key.Verify(candidate) {
			c.Header("WWW-Authenticate", APIKeyHeader)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Clé API invalide ou manquante",
			})
			return
		}

		c.Next()
	}
}
