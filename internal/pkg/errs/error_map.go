/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
// Entries without an explicit Status default to HTTP 200 with a non-zero
// business code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and History Errors
	ErrRoomIDInvalid:      {Code: ErrRoomIDInvalid, Message: "Invalid room id.", Status: http.StatusBadRequest},
	ErrHistoryUnavailable: {Code: ErrHistoryUnavailable, Message: "Chat history is temporarily unavailable.", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
