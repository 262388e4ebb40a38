// Package shimclient implements the attached-client side of the shim
// protocol (component F): connecting to (or spawning) the shim process,
// issuing correlated requests, and reconstructing per-PTY terminal state
// from the server's pushed dirty/full-state updates.
package shimclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmux/openmux/internal/shimserver"
	"github.com/openmux/openmux/internal/wire"
)

// defaultRequestTimeout is how long a request waits for its correlated
// response before failing, per spec §4.F.
const defaultRequestTimeout = 2000 * time.Millisecond

// Config configures a Client's connection/spawn behavior.
type Config struct {
	SocketPath     string
	ShimBinary     string        // path to the shim executable, used if no socket is reachable
	SpawnArgs      []string
	RequestTimeout time.Duration // 0 uses defaultRequestTimeout
	MaxSpawnRetries int          // 0 uses a default of 3
}

// Client is a connected (or spawning) shim client.
type Client struct {
	cfg  Config
	conn net.Conn

	writeMu sync.Mutex

	nextID uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan shimserver.ResponseHeader
	pendingPayload map[uint64][]byte

	statesMu sync.Mutex
	states   map[string]*PtyState
	kitty    map[string]*kittyCache

	onEvent func(event, ptyID string, payload []byte)
	onDetached func()

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect dials cfg.SocketPath, spawning cfg.ShimBinary with exponential
// backoff if nothing answers yet (the shim process may not have started
// or may still be initializing).
func Connect(cfg Config, onEvent func(event, ptyID string, payload []byte), onDetached func()) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxSpawnRetries <= 0 {
		cfg.MaxSpawnRetries = 3
	}

	conn, err := dialWithSpawnBackoff(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:            cfg,
		conn:           conn,
		pending:        make(map[uint64]chan shimserver.ResponseHeader),
		pendingPayload: make(map[uint64][]byte),
		states:         make(map[string]*PtyState),
		onEvent:        onEvent,
		onDetached:     onDetached,
		closed:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// dialWithSpawnBackoff tries to connect to cfg.SocketPath; on failure it
// spawns cfg.ShimBinary as a detached background process and retries the
// dial with exponential backoff, up to cfg.MaxSpawnRetries attempts.
func dialWithSpawnBackoff(cfg Config) (net.Conn, error) {
	if conn, err := net.DialTimeout("unix", cfg.SocketPath, time.Second); err == nil {
		return conn, nil
	}

	if cfg.ShimBinary == "" {
		return nil, errors.New("shimclient: no shim running and no ShimBinary configured to spawn one")
	}

	cmd := exec.Command(cfg.ShimBinary, cfg.SpawnArgs...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("shimclient: spawn shim: %w", err)
	}
	// Detach: the shim outlives this process and is not reaped here.
	go func() { _ = cmd.Wait() }()

	delay := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < cfg.MaxSpawnRetries; attempt++ {
		time.Sleep(delay)
		conn, err := net.DialTimeout("unix", cfg.SocketPath, time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		delay *= 2
	}
	return nil, fmt.Errorf("shimclient: shim did not come up after %d attempts: %w", cfg.MaxSpawnRetries, lastErr)
}

// Request sends method with params marshaled to JSON and decodes the
// correlated response's payload as JSON into result (nil to discard it).
func (c *Client) Request(ctx context.Context, method string, params any, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("shimclient: marshal params: %w", err)
	}
	raw, err := c.requestRaw(ctx, method, payload)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("shimclient: decode result: %w", err)
		}
	}
	return nil
}

// RequestRaw sends method with a pre-encoded payload and returns the
// correlated response's payload bytes undecoded, for methods whose result
// is binary (e.g. a packed wire.FullState) rather than JSON.
func (c *Client) RequestRaw(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return c.requestRaw(ctx, method, payload)
}

// requestRaw sends method with a pre-encoded payload and blocks for the
// correlated response, honoring cfg.RequestTimeout.
func (c *Client) requestRaw(ctx context.Context, method string, payload []byte) ([]byte, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	respCh := make(chan shimserver.ResponseHeader, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		delete(c.pendingPayload, id)
		c.pendingMu.Unlock()
	}()

	buf, err := wire.Encode("request", shimserver.RequestHeader{RequestID: id, Method: method}, payload)
	if err != nil {
		return nil, fmt.Errorf("shimclient: encode request: %w", err)
	}

	c.writeMu.Lock()
	_, writeErr := c.conn.Write(buf)
	c.writeMu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("shimclient: write request: %w", writeErr)
	}

	timeout := c.cfg.RequestTimeout
	select {
	case resp := <-respCh:
		if !resp.Ok {
			return nil, shimserver.NewRequestError(resp.ErrorCode, resp.ErrorMessage)
		}
		c.pendingMu.Lock()
		raw := c.pendingPayload[id]
		c.pendingMu.Unlock()
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("shimclient: request %q timed out after %s", method, timeout)
	case <-c.closed:
		return nil, errors.New("shimclient: connection closed")
	}
}

func (c *Client) readLoop() {
	r := wire.NewReader(c.conn)
	for {
		frame, err := r.Next()
		if err != nil {
			c.handleDisconnect()
			return
		}
		typ, err := frame.Type()
		if err != nil {
			continue
		}
		switch typ {
		case "response":
			c.handleResponse(frame)
		case "event":
			c.handleEvent(frame)
		default:
			slog.Debug("[shimclient] unknown frame type", "type", typ)
		}
	}
}

func (c *Client) handleResponse(frame wire.Frame) {
	var resp shimserver.ResponseHeader
	if err := frame.DecodeHeader(&resp); err != nil {
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		c.pendingPayload[resp.RequestID] = frame.Payload()
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) handleEvent(frame wire.Frame) {
	var ev shimserver.EventHeader
	if err := frame.DecodeHeader(&ev); err != nil {
		return
	}

	switch ev.Event {
	case shimserver.EventDetached:
		c.handleDisconnect()
		return
	case shimserver.EventPtyUpdate:
		c.applyUpdateFrame(ev.PtyID, frame.Payload())
	case shimserver.EventPtyKitty:
		c.applyKittyFrame(ev.PtyID, frame)
	}

	if c.onEvent != nil {
		c.onEvent(ev.Event, ev.PtyID, frame.Payload())
	}
}

// handleDisconnect calls onDetached exactly once (idempotent) and unblocks
// any pending requests with an error.
func (c *Client) handleDisconnect() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onDetached != nil {
			c.onDetached()
		}
	})
}

// Close disconnects from the shim without spawning or affecting the
// underlying PTY processes.
func (c *Client) Close() error {
	c.handleDisconnect()
	return c.conn.Close()
}
