// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// stageEvent is one progress message on the stream. The final envelope is
// the TranslationResponse itself; clients tell them apart by the presence
// of the stage field.
type stageEvent struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// TranslateStream creates the handler for GET /ws/translate.
//
// Each JSON message from the client is a TranslationRequest. The server
// answers with one stageEvent per pipeline stage as it happens, then the
// final response envelope, then waits for the next request on the same
// connection. Rejections arrive as the same JSON body the REST endpoint
// would return, with the HTTP status alongside since the socket has no
// status line of its own.
func TranslateStream(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "client_ip", c.ClientIP())

		for {
			var req datatypes.TranslationRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				break
			}

			if err := req.Validate(); err != nil {
				if sendJSON(ws, gin.H{"error": err.Error(), "status": http.StatusBadRequest}) != nil {
					return
				}
				continue
			}

			resp, err := p.TranslateWithProgress(c.Request.Context(), &req, func(stage string) {
				// Best effort; a failed progress write surfaces on the
				// next ReadJSON as a dead connection.
				_ = sendJSON(ws, stageEvent{Stage: stage})
			})
			if err != nil {
				status, body := translationErrorBody(err)
				body["status"] = status
				if sendJSON(ws, body) != nil {
					return
				}
				continue
			}

			if sendJSON(ws, resp) != nil {
				return
			}
		}
	}
}
