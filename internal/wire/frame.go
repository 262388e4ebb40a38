// Package wire implements the length-framed binary protocol shared by the
// shim and control sockets, plus the bit-exact cell/row packing used on top
// of it. The wire format is the ABI between the shim and its attached
// client: encoders and decoders must stay byte-for-byte stable.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxHeaderBytes bounds the JSON header size to guard against a corrupt or
// hostile peer claiming an enormous header and stalling the reader on a
// buffer grow.
const maxHeaderBytes = 4 << 20

// maxFrameBytes bounds the total frame size for the same reason.
const maxFrameBytes = 256 << 20

// Header is the JSON object that precedes the frame's payload segments.
// Type is the event/method discriminator; PayloadLengths enumerates the
// byte length of each payload segment. A nil/empty PayloadLengths means the
// frame carries its entire payload as a single unnamed segment (possibly
// zero-length). Unknown JSON keys are ignored by Decode; callers that embed
// method-specific fields should marshal their own struct and re-decode it
// from the frame's header bytes.
type Header struct {
	Type           string `json:"type"`
	PayloadLengths []uint32 `json:"payloadLengths,omitempty"`
}

// Frame is a fully decoded wire frame: the raw header bytes (so callers can
// unmarshal into a richer, method-specific struct) plus its payload
// segments split according to PayloadLengths.
type Frame struct {
	HeaderRaw []byte
	Payloads  [][]byte
}

// Encode builds a complete frame: u32 total_len, u32 header_len,
// header_json, then the concatenated payload bytes. header is marshaled to
// JSON; payloads are concatenated in order and their lengths recorded in
// the header's payloadLengths field when there is more than one segment.
func Encode(headerType string, header any, payloads ...[]byte) ([]byte, error) {
	merged, err := mergeHeader(headerType, header, payloads)
	if err != nil {
		return nil, err
	}

	headerJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal header: %w", err)
	}

	totalPayload := 0
	for _, p := range payloads {
		totalPayload += len(p)
	}

	totalLen := 4 + len(headerJSON) + totalPayload
	buf := make([]byte, 4+totalLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(headerJSON)))
	copy(buf[8:], headerJSON)
	offset := 8 + len(headerJSON)
	for _, p := range payloads {
		offset += copy(buf[offset:], p)
	}
	return buf, nil
}

// mergeHeader combines the caller's header value with an automatically
// computed payloadLengths array when there's more than one payload segment.
// A single payload is left as an unnamed segment (no payloadLengths field)
// per the wire format description: absence means "treat remaining bytes as
// one payload".
func mergeHeader(headerType string, header any, payloads [][]byte) (map[string]any, error) {
	raw, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal header fields: %w", err)
	}
	var merged map[string]any
	if len(raw) == 0 || string(raw) == "null" {
		merged = map[string]any{}
	} else if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("wire: header must encode to a JSON object: %w", err)
	}
	merged["type"] = headerType
	if len(payloads) > 1 {
		lengths := make([]uint32, len(payloads))
		for i, p := range payloads {
			lengths[i] = uint32(len(p))
		}
		merged["payloadLengths"] = lengths
	}
	return merged, nil
}

// Reader incrementally decodes frames from a byte stream, tolerating
// arbitrary chunk boundaries: callers feed it bytes as they arrive (via the
// underlying io.Reader) and Next blocks until a full frame is available.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for frame-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads and returns the next complete frame, blocking on short reads.
// It never returns a partial frame: either a full Frame and nil error, or a
// zero Frame and a non-nil error (io.EOF on clean stream end).
func (r *Reader) Next() (Frame, error) {
	lenBuf := make([]byte, 8)
	if _, err := io.ReadFull(r.br, lenBuf); err != nil {
		return Frame{}, err
	}
	totalLen := binary.BigEndian.Uint32(lenBuf[0:4])
	headerLen := binary.BigEndian.Uint32(lenBuf[4:8])

	if totalLen > maxFrameBytes {
		return Frame{}, fmt.Errorf("wire: frame exceeds %d bytes (got %d)", maxFrameBytes, totalLen)
	}
	if headerLen > maxHeaderBytes || uint64(headerLen) > uint64(totalLen) {
		return Frame{}, fmt.Errorf("wire: invalid header length %d (total %d)", headerLen, totalLen)
	}
	if totalLen < 4 {
		return Frame{}, errors.New("wire: total_len must cover header_len field")
	}

	rest := make([]byte, totalLen-4)
	if _, err := io.ReadFull(r.br, rest); err != nil {
		return Frame{}, fmt.Errorf("wire: short frame body: %w", err)
	}

	headerRaw := rest[:headerLen]
	payloadBytes := rest[headerLen:]

	var peek struct {
		PayloadLengths []uint32 `json:"payloadLengths"`
	}
	if err := json.Unmarshal(headerRaw, &peek); err != nil {
		return Frame{}, fmt.Errorf("wire: invalid JSON header: %w", err)
	}

	payloads, err := splitPayloads(payloadBytes, peek.PayloadLengths)
	if err != nil {
		return Frame{}, err
	}

	return Frame{HeaderRaw: headerRaw, Payloads: payloads}, nil
}

func splitPayloads(data []byte, lengths []uint32) ([][]byte, error) {
	if len(lengths) == 0 {
		return [][]byte{data}, nil
	}
	out := make([][]byte, len(lengths))
	offset := 0
	for i, l := range lengths {
		end := offset + int(l)
		if end > len(data) {
			return nil, fmt.Errorf("wire: payloadLengths exceed frame body (segment %d)", i)
		}
		out[i] = data[offset:end]
		offset = end
	}
	if offset != len(data) {
		return nil, fmt.Errorf("wire: %d trailing bytes not accounted for in payloadLengths", len(data)-offset)
	}
	return out, nil
}

// Type returns the frame's "type" discriminator without fully decoding the
// header into a richer struct.
func (f Frame) Type() (string, error) {
	var t struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(f.HeaderRaw, &t); err != nil {
		return "", err
	}
	return t.Type, nil
}

// DecodeHeader unmarshals the frame's header JSON into out. Unknown keys in
// the header (e.g. payloadLengths, which Next already consumed) are
// ignored, per the header's case-sensitive, forward-compatible contract.
func (f Frame) DecodeHeader(out any) error {
	return json.Unmarshal(f.HeaderRaw, out)
}

// Payload returns the single payload segment for frames with exactly one
// segment (the common case for request/response methods without extra
// binary blobs).
func (f Frame) Payload() []byte {
	if len(f.Payloads) == 0 {
		return nil
	}
	return f.Payloads[0]
}
