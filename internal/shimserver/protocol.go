// Package shimserver implements the shim's Unix-domain-socket server: a
// single-active-client request/response and event-push protocol built on
// top of internal/wire's frame codec (component E).
package shimserver

import "encoding/json"

// Error codes forming the shim's error taxonomy (spec §7). Every failed
// request response carries exactly one of these.
const (
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrAmbiguous      = "ambiguous"
	ErrInternal       = "internal"
)

// Event names pushed to the attached client.
const (
	EventPtyUpdate       = "ptyUpdate"
	EventPtyExit         = "ptyExit"
	EventPtyLifecycle    = "ptyLifecycle"
	EventPtyTitle        = "ptyTitle"
	EventPtyKitty        = "ptyKitty"
	EventPtyNotification = "ptyNotification"
	EventDetached        = "detached"
)

// RequestHeader is the JSON header of a client->server request frame. The
// request's parameters, if any, travel as the frame's single payload
// segment, JSON-encoded by the caller into whatever shape the named method
// expects.
type RequestHeader struct {
	RequestID uint64 `json:"requestId"`
	Method    string `json:"method"`
}

// ResponseHeader is the JSON header of a server->client response frame,
// correlated to its request by RequestID. On success Ok is true and the
// payload carries the method's JSON (or binary, for state/update methods)
// result. On failure Ok is false and ErrorCode/ErrorMessage are set.
type ResponseHeader struct {
	RequestID    uint64 `json:"requestId"`
	Ok           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// EventHeader is the JSON header of a server-pushed event frame.
type EventHeader struct {
	Event string `json:"event"`
	PtyID string `json:"ptyId,omitempty"`
}

// RequestError is returned by a Handler to produce a tagged error response.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Code + ": " + e.Message }

// NewRequestError builds a RequestError with one of the taxonomy codes.
func NewRequestError(code, message string) *RequestError {
	return &RequestError{Code: code, Message: message}
}

// MarshalParams is a small helper for handlers that need to decode a
// request's JSON payload into a method-specific struct.
func MarshalParams(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalParams decodes a request payload into a method-specific struct.
func UnmarshalParams(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
