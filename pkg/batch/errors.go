package batch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the dispatcher.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidAttempts is returned when DispatchWithRetry is called with maxAttempts < 1.
	ErrInvalidAttempts = errors.New("max attempts must be >= 1")

	// ErrInvalidMethod is returned for methods other than GET, POST, PUT and DELETE.
	ErrInvalidMethod = errors.New("unsupported method")

	// ErrBlocked is returned when the upstream error budget gate rejects a request.
	ErrBlocked = errors.New("request blocked: upstream error budget critical")
)

// StatusFailed is the status reported for failures that carry no HTTP status
// of their own (transport errors, undecodable bodies, invalid requests).
const StatusFailed = http.StatusInternalServerError

// ErrorClass represents a classification of dispatch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents response bodies that are not valid JSON.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassInvalid represents requests rejected before any I/O.
	ErrorClassInvalid ErrorClass = "invalid"

	// ErrorClassBlocked represents requests rejected by the error budget gate.
	ErrorClassBlocked ErrorClass = "blocked"
)

// Error is a failed dispatch with its status and classification.
type Error struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// httpError builds the failure for a response with a non-2xx status.
func httpError(status int) *Error {
	class := classifyStatus(status)
	if class == "" {
		// 1xx/3xx that survived redirect handling
		class = ErrorClassServer
	}
	return &Error{
		StatusCode: status,
		ErrorClass: class,
		Message:    fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)),
	}
}

// shouldRetry determines if a failure should be retried.
// Client errors only retry when retryClient is set; 408 is treated as transient.
func shouldRetry(e *Error, retryClient bool) bool {
	switch e.ErrorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassDecode:
		return true
	case ErrorClassClient:
		return retryClient || e.StatusCode == http.StatusRequestTimeout
	case ErrorClassInvalid, ErrorClassBlocked:
		return retryClient
	default:
		return false
	}
}

// asError converts any error into an *Error, keeping the status of typed errors.
func asError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{
		StatusCode: StatusFailed,
		ErrorClass: ErrorClassNetwork,
		Message:    err.Error(),
		Err:        err,
	}
}
