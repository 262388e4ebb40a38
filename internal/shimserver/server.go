package shimserver

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openmux/openmux/internal/wire"
	"github.com/openmux/openmux/internal/wsserver"
)

// stealGracePeriod is how long an existing attached client is given to
// notice its "detached" event and close cleanly before the server
// forcibly half-closes and drops the connection to make room for the new
// one (spec §4.E steal-and-attach).
const stealGracePeriod = 250 * time.Millisecond

// Handler dispatches one request method call to its result payload, or
// returns a *RequestError carrying one of the taxonomy codes.
type Handler interface {
	Handle(method string, payload []byte) ([]byte, error)
}

// Server is the shim's single-active-client Unix-domain-socket server.
// Modeled on the teacher's wsserver.Hub: exactly one client is "attached"
// at a time; a new connection steals attachment from whatever was there
// before, after a grace period for the old client to detach cleanly.
type Server struct {
	socketPath string
	handler    Handler

	mu   sync.RWMutex
	conn net.Conn

	writeMu sync.Mutex

	listener net.Listener
	wg       sync.WaitGroup

	debug *wsserver.Hub // optional; re-emits every frame as a JSON envelope

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewServer constructs a Server bound to socketPath, not yet listening.
func NewServer(socketPath string, handler Handler) *Server {
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopped:    make(chan struct{}),
	}
}

// SetDebugHub attaches a loopback-only debug/introspection WebSocket hub
// (spec §4.A); every frame this server writes from then on is also
// re-emitted there as a JSON envelope. A nil hub (the default) disables
// this entirely, with no cost on the request/event hot path.
func (s *Server) SetDebugHub(hub *wsserver.Hub) {
	s.debug = hub
}

// Start removes any orphaned socket file (one left behind by a shim
// process that died without cleaning up) and begins accepting
// connections.
func (s *Server) Start() error {
	if err := removeOrphanedSocket(s.socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// removeOrphanedSocket deletes an existing socket file at path if nothing
// is actually listening on it (a stale file left by a crashed process),
// leaving a live socket untouched so Start fails loudly instead of
// silently replacing a running shim.
func removeOrphanedSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return errors.New("shimserver: socket already in use by a live process: " + path)
	}
	return os.Remove(path)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
				slog.Warn("[shimserver] accept error", "error", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[shimserver] connection handler recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.stealAttach(conn)
	defer s.releaseIfCurrent(conn)

	reader := wire.NewReader(conn)
	for {
		frame, err := reader.Next()
		if err != nil {
			return
		}
		s.dispatch(conn, frame)
	}
}

// stealAttach makes conn the active client, giving any previous client a
// grace period to see its "detached" event and disconnect on its own
// before being forcibly closed.
func (s *Server) stealAttach(conn net.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old == nil {
		return
	}

	s.writeFrame(old, "event", EventHeader{Event: EventDetached})
	time.AfterFunc(stealGracePeriod, func() {
		// old is no longer (and can never again become) the active
		// connection once stealAttach has replaced it above, so force-closing
		// it here unconditionally is always correct. If the old client
		// already disconnected on its own, Close is a harmless no-op error.
		halfCloseWrite(old)
		old.Close()
	})
}

func halfCloseWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			slog.Debug("[shimserver] half-close failed", "error", err)
		}
	}
}

// releaseIfCurrent clears the active client slot if conn is still it
// (a later steal may have already replaced it).
func (s *Server) releaseIfCurrent(conn net.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) dispatch(conn net.Conn, frame wire.Frame) {
	var req RequestHeader
	if err := frame.DecodeHeader(&req); err != nil {
		s.writeFrame(conn, "response", ResponseHeader{Ok: false, ErrorCode: ErrInvalidRequest, ErrorMessage: "malformed request header"})
		return
	}

	result, err := s.handler.Handle(req.Method, frame.Payload())
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			s.writeFrame(conn, "response", ResponseHeader{RequestID: req.RequestID, Ok: false, ErrorCode: reqErr.Code, ErrorMessage: reqErr.Message})
			return
		}
		s.writeFrame(conn, "response", ResponseHeader{RequestID: req.RequestID, Ok: false, ErrorCode: ErrInternal, ErrorMessage: err.Error()})
		return
	}

	s.writeFrameWithPayload(conn, "response", ResponseHeader{RequestID: req.RequestID, Ok: true}, result)
}

func (s *Server) writeFrame(conn net.Conn, headerType string, header any) {
	s.writeFrameWithPayload(conn, headerType, header, nil)
}

func (s *Server) writeFrameWithPayload(conn net.Conn, headerType string, header any, payload []byte) {
	s.writeFrameForPty(conn, headerType, "", header, payload)
}

// writeFrameForPty is writeFrameWithPayload plus a ptyID used only to scope
// the frame's debug re-emission; the wire frame itself carries no such
// parameter, since that lives inside header for event frames already.
func (s *Server) writeFrameForPty(conn net.Conn, headerType, ptyID string, header any, payload []byte) {
	buf, err := wire.Encode(headerType, header, payload)
	if err != nil {
		slog.Warn("[shimserver] encode frame failed", "error", err)
		return
	}
	s.writeMu.Lock()
	_, writeErr := conn.Write(buf)
	s.writeMu.Unlock()
	if writeErr != nil {
		slog.Debug("[shimserver] write failed, dropping connection", "error", writeErr)
		s.releaseIfCurrent(conn)
		return
	}
	if s.debug != nil {
		s.debug.BroadcastFrame(headerType, ptyID, header, payload)
	}
}

// PushEvent sends an event frame to the currently attached client, if any.
// A no-op when no client is attached.
func (s *Server) PushEvent(event, ptyID string, payload []byte) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	s.writeFrameForPty(conn, "event", ptyID, EventHeader{Event: event, PtyID: ptyID}, payload)
}

// HasAttachedClient reports whether a client is currently attached.
func (s *Server) HasAttachedClient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Stop closes the listener and the active connection, then waits for all
// connection handlers to exit. Idempotent.
func (s *Server) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopped)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
	return err
}
