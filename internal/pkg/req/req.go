/*
Package req provides helpers for HTTP request parsing.

It currently covers limit/offset pagination parameters for the chat history
endpoint, clamping values into a safe range instead of rejecting requests.
*/
package req

import (
	"net/http"
	"strconv"
)

// ParsePagination reads "limit" and "offset" query parameters. Missing or
// malformed values fall back to defLimit and 0; limit is clamped to
// [1, maxLimit] and offset to >= 0.
func ParsePagination(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit = defLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	return limit, offset
}
