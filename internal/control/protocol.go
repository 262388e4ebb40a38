// Package control implements openmux's control-plane server (component I):
// a second Unix-domain socket, built on the same frame codec as the shim
// server, that answers one-shot CLI requests (session/pane management)
// rather than streaming terminal state.
package control

import "encoding/json"

// Error codes forming the control server's error taxonomy (spec §4.I),
// distinct from the shim's in one respect: ErrNoUI, returned when no
// attached UI process is available to fulfil a request.
const (
	ErrInvalidRequest = "invalid_request"
	ErrNoUI           = "no_ui"
	ErrNotFound       = "not_found"
	ErrAmbiguous      = "ambiguous"
	ErrInternal       = "internal"
)

// ExitCode maps a response (or a pre-request usage failure) to the CLI's
// process exit status, per spec §4.I.
type ExitCode int

const (
	ExitOK        ExitCode = 0
	ExitUsage     ExitCode = 2
	ExitNoUI      ExitCode = 3
	ExitNotFound  ExitCode = 4
	ExitAmbiguous ExitCode = 5
	ExitInternal  ExitCode = 6
)

// ExitCodeForError maps a response's errorCode to its CLI exit status.
// Unrecognized codes (and the empty string) fall back to ExitInternal.
func ExitCodeForError(code string) ExitCode {
	switch code {
	case ErrInvalidRequest:
		return ExitUsage
	case ErrNoUI:
		return ExitNoUI
	case ErrNotFound:
		return ExitNotFound
	case ErrAmbiguous:
		return ExitAmbiguous
	default:
		return ExitInternal
	}
}

// Request methods.
const (
	MethodHello         = "hello"
	MethodSessionCreate = "session.create"
	MethodPaneSplit     = "pane.split"
	MethodPaneSend      = "pane.send"
	MethodPaneCapture   = "pane.capture"
)

// RequestHeader is the JSON header of a client->server request frame, one
// per CLI invocation. Modeled on shimserver.RequestHeader; kept as a
// separate type so the control protocol can evolve independently of the
// shim's.
type RequestHeader struct {
	RequestID uint64 `json:"requestId"`
	Method    string `json:"method"`
}

// ResponseHeader is the JSON header of a server->client response frame.
type ResponseHeader struct {
	RequestID    uint64 `json:"requestId"`
	Ok           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
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

// CaptureFormat selects pane.capture's output encoding.
type CaptureFormat string

const (
	CaptureFormatText CaptureFormat = "text"
	CaptureFormatANSI CaptureFormat = "ansi"
)

// SessionCreateParams is session.create's JSON payload.
type SessionCreateParams struct {
	Name string `json:"name,omitempty"`
}

// PaneSplitParams is pane.split's JSON payload.
type PaneSplitParams struct {
	Direction   string `json:"direction"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Pane        string `json:"pane,omitempty"`
}

// PaneSendParams is pane.send's JSON payload.
type PaneSendParams struct {
	Text        string `json:"text"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Pane        string `json:"pane,omitempty"`
}

// PaneCaptureParams is pane.capture's JSON payload.
type PaneCaptureParams struct {
	Lines       int           `json:"lines"`
	Format      CaptureFormat `json:"format"`
	Raw         bool          `json:"raw,omitempty"`
	WorkspaceID string        `json:"workspaceId,omitempty"`
	Pane        string        `json:"pane,omitempty"`
}

// PaneCaptureResult is pane.capture's JSON result.
type PaneCaptureResult struct {
	Text string `json:"text"`
}

// MarshalParams is a small helper mirroring shimserver.MarshalParams for
// handlers/clients that need to encode a method-specific params struct.
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
