package batch

import (
	"encoding/json"
	"fmt"
)

// Method is an HTTP method accepted by the dispatcher.
type Method string

// Supported methods.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// Request describes one call in a batch. The dispatcher never mutates it.
type Request struct {
	// ID is assigned by the caller and echoed back on the Response.
	ID string `json:"id"`

	Method Method `json:"method"`

	// Endpoint is a path appended to the configured base URL.
	Endpoint string `json:"endpoint"`

	// Body is JSON encoded when non-nil.
	Body any `json:"body,omitempty"`

	// Headers override the dispatcher's default headers.
	Headers map[string]string `json:"headers,omitempty"`
}

// Response is the outcome of one Request. Exactly one of Data and Error is set.
type Response struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK reports whether the request succeeded.
func (r Response) OK() bool {
	return r.Error == ""
}

// Decode unmarshals the success payload into v.
func (r Response) Decode(v any) error {
	if !r.OK() {
		return fmt.Errorf("response %q failed: %s", r.ID, r.Error)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response %q: %w", r.ID, err)
	}
	return nil
}

// successResponse builds the Response for a decoded payload.
func successResponse(id string, status int, data json.RawMessage) Response {
	return Response{ID: id, Status: status, Data: data}
}

// failureResponse builds the Response for a failed call.
func failureResponse(id string, err error) Response {
	de := asError(err)
	msg := de.Message
	if msg == "" {
		msg = de.Error()
	}
	return Response{ID: id, Status: de.StatusCode, Error: msg}
}
