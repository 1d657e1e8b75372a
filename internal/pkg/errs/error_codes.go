/*
Package errs provides custom error types and application-level error code constants.

These codes identify specific business or system errors on the REST surface
(history API, upgrade endpoint) both internally and toward clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrRateLimitExceeded indicates that the request rate exceeded the per-IP limit.
	ErrRateLimitExceeded = 1003
)

// 2xxx: Room and History Errors
const (
	// ErrRoomIDInvalid indicates that a room id was missing or malformed.
	ErrRoomIDInvalid = 2001

	// ErrHistoryUnavailable indicates that the chat store failed to serve a history read.
	ErrHistoryUnavailable = 2002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal server error.
	ErrUnknown = 5000
)
