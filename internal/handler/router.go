/*
Package handler provides the HTTP handlers and routing setup for the roomsync
server.

This file defines the main Router, applying logging, CORS, and per-IP rate
limiting middleware before delegating to the WebSocket upgrade and REST
handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"roomsync/internal/pkg/limiter"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/resp"
)

// Per-IP limits for WebSocket upgrades: sustained rate in upgrades/second
// and burst size.
const (
	UpgradeRate  = 1.0
	UpgradeBurst = 5
)

// Per-IP limits for the REST history endpoint.
const (
	HistoryRate  = 5.0
	HistoryBurst = 10
)

// Router builds the HTTP routing table: health check, chat history REST
// endpoint, and the WebSocket upgrade path.
func Router(deps *AppDeps) http.Handler {
	upgradeLimiter := limiter.NewIPRateLimiter(rate.Limit(UpgradeRate), UpgradeBurst)
	historyLimiter := limiter.NewIPRateLimiter(rate.Limit(HistoryRate), HistoryBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "roomsync",
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.With(historyLimiter.Middleware).Get("/rooms/{roomID}/history", HandleChatHistory(deps))
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, upgradeLimiter, deps))

	return r
}
