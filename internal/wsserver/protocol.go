// Package wsserver provides a loopback-only WebSocket debug/introspection
// server (spec §4.A): every frame the shim writes to its attached client is
// also re-emitted here as a JSON envelope, for external tooling (browser
// devtools, wscat) to observe without participating in the attach/steal
// protocol itself.
//
// # Envelope format
//
// Each outgoing WebSocket message is a JSON object:
//
//	{"frameType": "event"|"response", "ptyId": "...", "header": {...}, "payload": "<base64>"}
//
// ptyId is omitted for frames with no associated PTY (e.g. a plain
// request/response exchange). payload is the frame's raw (pre-JSON) body,
// base64-encoded since it may itself be packed binary wire.FullState data.
package wsserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope is one re-emitted frame, JSON-encoded and sent as a WebSocket
// text message.
type Envelope struct {
	FrameType string          `json:"frameType"`
	PtyID     string          `json:"ptyId,omitempty"`
	Header    json.RawMessage `json:"header"`
	Payload   string          `json:"payload,omitempty"`
}

// EncodeFrame builds the JSON envelope for one outgoing shim frame.
func EncodeFrame(frameType, ptyID string, header any, payload []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode frame header: %w", err)
	}
	env := Envelope{FrameType: frameType, PtyID: ptyID, Header: headerJSON}
	if len(payload) > 0 {
		env.Payload = base64.StdEncoding.EncodeToString(payload)
	}
	return json.Marshal(env)
}
