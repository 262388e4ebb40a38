package wsserver

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestEncodeFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		frameType string
		ptyID     string
		header    any
		payload   []byte
	}{
		{
			name:      "EventWithPayload",
			frameType: "event",
			ptyID:     "pty-1",
			header:    map[string]string{"event": "data"},
			payload:   []byte("hello"),
		},
		{
			name:      "ResponseNoPtyID",
			frameType: "response",
			ptyID:     "",
			header:    map[string]bool{"ok": true},
			payload:   nil,
		},
		{
			name:      "EmptyPayload",
			frameType: "event",
			ptyID:     "pty-2",
			header:    map[string]string{"event": "exit"},
			payload:   []byte{},
		},
		{
			name:      "BinaryPayload",
			frameType: "event",
			ptyID:     "pty-3",
			header:    map[string]string{"event": "data"},
			payload:   []byte{0x00, 0x01, 0x7f, 0x80, 0xfe, 0xff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := EncodeFrame(tt.frameType, tt.ptyID, tt.header, tt.payload)
			if err != nil {
				t.Fatalf("EncodeFrame returned unexpected error: %v", err)
			}

			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("failed to unmarshal envelope: %v", err)
			}

			if env.FrameType != tt.frameType {
				t.Fatalf("FrameType = %q, want %q", env.FrameType, tt.frameType)
			}
			if env.PtyID != tt.ptyID {
				t.Fatalf("PtyID = %q, want %q", env.PtyID, tt.ptyID)
			}

			wantHeader, err := json.Marshal(tt.header)
			if err != nil {
				t.Fatalf("failed to marshal expected header: %v", err)
			}
			if string(env.Header) != string(wantHeader) {
				t.Fatalf("Header = %s, want %s", env.Header, wantHeader)
			}

			if len(tt.payload) == 0 {
				if env.Payload != "" {
					t.Fatalf("Payload = %q, want empty", env.Payload)
				}
				return
			}

			gotPayload, err := base64.StdEncoding.DecodeString(env.Payload)
			if err != nil {
				t.Fatalf("failed to decode payload: %v", err)
			}
			if string(gotPayload) != string(tt.payload) {
				t.Fatalf("Payload = %v, want %v", gotPayload, tt.payload)
			}
		})
	}
}

func TestEncodeFrame_OmitsPtyIDWhenEmpty(t *testing.T) {
	t.Parallel()

	raw, err := EncodeFrame("response", "", map[string]bool{"ok": true}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame returned unexpected error: %v", err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if _, present := asMap["ptyId"]; present {
		t.Fatalf("expected ptyId to be omitted when empty, got %s", asMap["ptyId"])
	}
}

func TestEncodeFrame_BadHeaderErrors(t *testing.T) {
	t.Parallel()

	_, err := EncodeFrame("event", "pty-1", make(chan int), nil)
	if err == nil {
		t.Fatal("expected an error encoding an unmarshalable header, got nil")
	}
}
