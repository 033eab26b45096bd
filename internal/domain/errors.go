package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error condition.
type ErrorCode string

const (
	ErrCodeAuthInvalid        ErrorCode = "AuthInvalid"        // profile/API rejected the session token (401/403)
	ErrCodeNetworkUnavailable ErrorCode = "NetworkUnavailable" // transport failure, no response received
	ErrCodeNotFound           ErrorCode = "NotFound"           // HTTP 404
	ErrCodeUpstream           ErrorCode = "UpstreamError"      // any other non-2xx response
	ErrCodeStorageWrite       ErrorCode = "StorageWriteFailed" // durable storage rejected or corrupted a write
	ErrCodeKeyNotFound        ErrorCode = "KeyNotFound"        // durable storage has no value for a key
	ErrCodeCacheMiss          ErrorCode = "CacheMiss"          // response cache has no live entry
	ErrCodeBadRequest         ErrorCode = "BadRequest"         // HTTP 400 on the local façade
	ErrCodeInternal           ErrorCode = "InternalServerError"
)

// Error is the error type shared by every layer. Two *Error values match under
// errors.Is when their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int   // HTTP status when the error came from the remote API
	Err     error // underlying cause, if any
}

var (
	ErrAuthInvalid        = &Error{Code: ErrCodeAuthInvalid, Message: "session token is invalid or expired"}
	ErrNetworkUnavailable = &Error{Code: ErrCodeNetworkUnavailable, Message: "network unavailable"}
	ErrNotFound           = &Error{Code: ErrCodeNotFound, Message: "resource not found"}
	ErrUpstream           = &Error{Code: ErrCodeUpstream, Message: "unexpected API response"}
	ErrStorageWrite       = &Error{Code: ErrCodeStorageWrite, Message: "storage write failed"}
	ErrKeyNotFound        = &Error{Code: ErrCodeKeyNotFound, Message: "key not found in storage"}
	ErrCacheMiss          = &Error{Code: ErrCodeCacheMiss, Message: "item not found in cache"}
)

// NewError creates an error of the given code wrapping cause.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorResponse is the standard error format exchanged as JSON, both decoded from
// the remote API and written by the local HTTP façade.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}
