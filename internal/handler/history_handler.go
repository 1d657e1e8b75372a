/*
Package handler provides the HTTP handlers and routing setup for the roomsync
server.

This file contains the REST handler serving paginated chat history straight
from the chat store.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/req"
	"roomsync/internal/pkg/resp"
)

const (
	// historyDefaultLimit is the page size when the client sends none.
	historyDefaultLimit = 50

	// historyMaxLimit caps the page size.
	historyMaxLimit = 200

	// historyMaxRoomIDLen matches the WebSocket join validation.
	historyMaxRoomIDLen = 128
)

// HandleChatHistory serves GET /api/rooms/{roomID}/history with limit/offset
// pagination, oldest-first.
func HandleChatHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" || len(roomID) > historyMaxRoomIDLen {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIDInvalid))
			return
		}

		limit, offset := req.ParsePagination(r, historyDefaultLimit, historyMaxLimit)

		messages, err := deps.Store.History(r.Context(), roomID, limit, offset)
		if err != nil {
			logx.Error(err, "Chat history read failed", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrHistoryUnavailable))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"roomId":   roomID,
			"limit":    limit,
			"offset":   offset,
			"messages": messages,
		})
	}
}
