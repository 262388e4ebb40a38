package control

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/openmux/openmux/internal/wire"
)

// ErrNoUIConnection is returned by Dial when the control socket cannot be
// reached at all (no attached openmux UI process listening), mapping to the CLI's
// ExitNoUI per spec §4.I — distinct from ErrNoUI, which is a response-level
// error code returned by a reachable server.
var ErrNoUIConnection = errors.New("control: no openmux instance is listening on the control socket")

// Client is a one-shot request/response client for the control socket: a
// single CLI invocation dials, sends exactly one request, reads its
// response, and disconnects.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUIConnection, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Request sends method with the given JSON-encodable params and decodes
// the response payload into result (if non-nil and the call succeeded).
func (c *Client) Request(method string, params any, result any) error {
	payload, err := MarshalParams(params)
	if err != nil {
		return fmt.Errorf("control: marshal params: %w", err)
	}
	if params == nil {
		payload = nil
	}

	buf, err := wire.Encode("request", RequestHeader{RequestID: 1, Method: method}, payload)
	if err != nil {
		return fmt.Errorf("control: encode request: %w", err)
	}
	if err := c.conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("control: set deadline: %w", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("control: write request: %w", err)
	}

	reader := wire.NewReader(c.conn)
	frame, err := reader.Next()
	if err != nil {
		return fmt.Errorf("control: read response: %w", err)
	}
	var resp ResponseHeader
	if err := frame.DecodeHeader(&resp); err != nil {
		return fmt.Errorf("control: decode response header: %w", err)
	}
	if !resp.Ok {
		return NewRequestError(resp.ErrorCode, resp.ErrorMessage)
	}
	if result != nil {
		if err := UnmarshalParams(frame.Payload(), result); err != nil {
			return fmt.Errorf("control: decode response payload: %w", err)
		}
	}
	return nil
}
