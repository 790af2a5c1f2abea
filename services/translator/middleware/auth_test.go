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
	"github.com/stretchr/testify/require"

	"github.com/datasulting/nl2sql/pkg/secrets"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func loadTestKey(t *testing.T, value string) *secrets.APIKey {
	t.Helper()
	t.Setenv("NL2SQL_TEST_GATE_KEY", value)
	key, err := secrets.Load("gate", "NL2SQL_TEST_GATE_KEY")
	require.NoError(t, err)
	return key
}

func TestAPIKeyAuth_OpenMode(t *testing.T) {
	router := testRouter(APIKeyAuth(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	key := loadTestKey(t, "s3cret-value")
	router := testRouter(APIKeyAuth(key))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set(APIKeyHeader, "s3cret-value")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_WrongKey(t *testing.T) {
	key := loadTestKey(t, "s3cret-value")
	router := testRouter(APIKeyAuth(key))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set(APIKeyHeader, "wrong-value")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, APIKeyHeader, w.Header().Get("WWW-Authenticate"))
	assert.Contains(t, w.Body.String(), "Clé API invalide ou manquante")
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	key := loadTestKey(t, "s3cret-value")
	router := testRouter(APIKeyAuth(key))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
