/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error
interface and carries a business code, a user-facing message, and the HTTP status
used when the error is reported over the REST surface.
*/
package errs

import (
	"fmt"
	"net/http"
	"strings"

	"roomsync/internal/pkg/logx"
)

// CustomError is the error structure used across the HTTP surface of the
// server. WebSocket protocol errors use the string codes from the protocol
// package instead; the two taxonomies do not overlap.
type CustomError struct {
	// Code is the business error code (see error_codes.go).
	Code int

	// Message is the user-facing error description.
	Message string

	// Status is the HTTP status code reported with this error.
	Status int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError builds a *CustomError from a predefined code. Optional details are
// applied printf-style when the message template has placeholders. Unknown
// codes degrade to ErrUnknown rather than panicking.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("unknown error code %d requested", code),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknown := errorMap[ErrUnknown]
		return &unknown
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else if code == ErrUnknown {
			if cause, ok := details[0].(error); ok {
				logx.Error(cause, "Handling ErrUnknown with underlying error")
			}
		} else {
			logx.Warn("Details provided for error without formatting placeholders. Details ignored.")
		}
	}

	return &customErr
}
