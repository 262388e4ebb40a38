package shimserver

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmux/openmux/internal/wire"
)

type echoHandler struct{}

func (echoHandler) Handle(method string, payload []byte) ([]byte, error) {
	if method == "boom" {
		return nil, NewRequestError(ErrNotFound, "no such thing")
	}
	out := append([]byte(nil), payload...)
	return out, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shim.sock")
	s := NewServer(path, echoHandler{})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, path
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, id uint64, method string, payload []byte) {
	t.Helper()
	buf, err := wire.Encode("request", RequestHeader{RequestID: id, Method: method}, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	_, path := newTestServer(t)
	conn := dial(t, path)
	defer conn.Close()

	sendRequest(t, conn, 1, "echo", []byte("hello"))

	r := wire.NewReader(conn)
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp ResponseHeader
	if err := frame.DecodeHeader(&resp); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if !resp.Ok || resp.RequestID != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if string(frame.Payload()) != "hello" {
		t.Fatalf("payload = %q", frame.Payload())
	}
}

func TestRequestErrorTaxonomy(t *testing.T) {
	_, path := newTestServer(t)
	conn := dial(t, path)
	defer conn.Close()

	sendRequest(t, conn, 2, "boom", nil)

	r := wire.NewReader(conn)
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp ResponseHeader
	if err := frame.DecodeHeader(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ok || resp.ErrorCode != ErrNotFound {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStealAttachDetachesPreviousClient(t *testing.T) {
	srv, path := newTestServer(t)

	connA := dial(t, path)
	defer connA.Close()
	// Give the server a moment to register connA as attached.
	time.Sleep(20 * time.Millisecond)
	if !srv.HasAttachedClient() {
		t.Fatal("expected connA to be attached")
	}

	connB := dial(t, path)
	defer connB.Close()
	time.Sleep(20 * time.Millisecond)

	rA := wire.NewReader(connA)
	frame, err := rA.Next()
	if err != nil {
		t.Fatalf("connA should receive detached event: %v", err)
	}
	var ev EventHeader
	if err := frame.DecodeHeader(&ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Event != EventDetached {
		t.Fatalf("event = %+v, want detached", ev)
	}

	// After the grace period, connA should be forcibly closed.
	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := connA.Read(buf); err == nil {
		t.Fatal("expected connA to be closed after grace period")
	}
}

func TestPushEventGoesToAttachedClientOnly(t *testing.T) {
	srv, path := newTestServer(t)
	conn := dial(t, path)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	srv.PushEvent(EventPtyTitle, "pty-1", []byte("new title"))

	r := wire.NewReader(conn)
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev EventHeader
	if err := frame.DecodeHeader(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != EventPtyTitle || ev.PtyID != "pty-1" {
		t.Fatalf("event = %+v", ev)
	}
	if string(frame.Payload()) != "new title" {
		t.Fatalf("payload = %q", frame.Payload())
	}
}

func TestOrphanedSocketIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.sock")
	// Simulate a leftover socket file from a crashed process: Go's
	// net.UnixListener unlinks its own socket file on Close, so a plain
	// regular file stands in for "a path that exists but nothing is
	// listening on it" just as well for exercising removeOrphanedSocket.
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	s := NewServer(path, echoHandler{})
	if err := s.Start(); err != nil {
		t.Fatalf("start over orphaned socket: %v", err)
	}
	defer s.Stop()
}

func TestLiveSocketIsNotReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.sock")
	holder, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer holder.Close()

	s := NewServer(path, echoHandler{})
	if err := s.Start(); err == nil {
		t.Fatal("expected Start to refuse to replace a live socket")
	}
}
