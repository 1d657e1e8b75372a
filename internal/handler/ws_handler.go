/*
Package handler provides the HTTP handlers and routing setup for the roomsync
server.

This file contains the WebSocket upgrade handler: per-IP rate limiting, the
upgrade-time auth policy, and the connection lifecycle bootstrap.
*/
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/room"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/limiter"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/resp"
	"roomsync/protocol"
)

// authCloseWait bounds the write of a policy close frame.
const authCloseWait = 5 * time.Second

// HandleWebSocket upgrades the HTTP connection and runs the connection
// pumps until the client disconnects.
//
// When AUTH_REQUIRED is set, the credential from the "credential" query
// parameter (or Authorization bearer header) must verify before the
// connection is accepted; rejection closes the socket with 4401, a resolver
// that cannot check credentials at all closes with 4500.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.GetLimiter(limiter.ClientIP(r)).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		if deps.Config.AuthRequired {
			if !enforceAuth(conn, r, deps) {
				return
			}
		}

		connection := room.NewConnection(r.Context(), deps.Registry, deps.Resolver, conn, deps.Config.PresenceMinInterval)

		go connection.WritePump()

		logx.Info("WebSocket connection established", "connection_id", connection.ConnectionID())

		connection.ReadPump()
	}
}

// enforceAuth applies the upgrade-time credential policy. Returns false after
// closing the socket when the connection must not proceed.
func enforceAuth(conn *websocket.Conn, r *http.Request, deps *AppDeps) bool {
	credential := upgradeCredential(r)

	_, err := deps.Resolver.Verify(credential)
	if err == nil {
		return true
	}

	closeCode := protocol.CloseAuthRejected
	reason := "credential rejected"
	if errors.Is(err, identity.ErrResolverUnavailable) {
		closeCode = protocol.CloseResolverUnavailable
		reason = "identity resolver unavailable"
	}

	logx.Warn("WebSocket connection rejected by auth policy.", "close_code", closeCode)

	closeMsg := websocket.FormatCloseMessage(closeCode, reason)
	conn.SetWriteDeadline(time.Now().Add(authCloseWait))
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		logx.Warn("Failed to write auth close frame.", "close_code", closeCode)
	}
	conn.Close()
	return false
}

// upgradeCredential extracts the bearer credential presented at upgrade time.
func upgradeCredential(r *http.Request) string {
	if credential := r.URL.Query().Get("credential"); credential != "" {
		return credential
	}

	const bearerPrefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix {
		return auth[len(bearerPrefix):]
	}
	return ""
}
