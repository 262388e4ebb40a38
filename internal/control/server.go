package control

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openmux/openmux/internal/wire"
)

// Handler dispatches one request method call to its result payload, or
// returns a *RequestError carrying one of the taxonomy codes. Implemented
// by the UI process, which owns the layout/session/PTY state this server
// has no state of its own for.
type Handler interface {
	Handle(method string, payload []byte) ([]byte, error)
}

// Server is the control plane's Unix-domain-socket server. Unlike
// shimserver.Server it has no single-attached-client/steal semantics: each
// CLI invocation is its own short-lived connection that issues one request
// and disconnects, so the server simply accepts connections concurrently
// and dispatches each frame it receives.
type Server struct {
	socketPath string
	handler    Handler

	listener net.Listener
	wg       sync.WaitGroup

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewServer constructs a Server bound to socketPath, not yet listening.
func NewServer(socketPath string, handler Handler) *Server {
	return &Server{socketPath: socketPath, handler: handler, stopped: make(chan struct{})}
}

// Start removes any orphaned socket file and begins accepting connections.
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
		return errors.New("control: socket already in use by a live process: " + path)
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
				slog.Warn("[control] accept error", "error", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[control] connection handler recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	reader := wire.NewReader(conn)
	var writeMu sync.Mutex
	for {
		frame, err := reader.Next()
		if err != nil {
			return
		}
		s.dispatch(conn, &writeMu, frame)
	}
}

func (s *Server) dispatch(conn net.Conn, writeMu *sync.Mutex, frame wire.Frame) {
	var req RequestHeader
	if err := frame.DecodeHeader(&req); err != nil {
		s.writeFrame(conn, writeMu, ResponseHeader{Ok: false, ErrorCode: ErrInvalidRequest, ErrorMessage: "malformed request header"})
		return
	}

	result, err := s.handler.Handle(req.Method, frame.Payload())
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			s.writeFrame(conn, writeMu, ResponseHeader{RequestID: req.RequestID, Ok: false, ErrorCode: reqErr.Code, ErrorMessage: reqErr.Message})
			return
		}
		s.writeFrame(conn, writeMu, ResponseHeader{RequestID: req.RequestID, Ok: false, ErrorCode: ErrInternal, ErrorMessage: err.Error()})
		return
	}

	s.writeFrameWithPayload(conn, writeMu, ResponseHeader{RequestID: req.RequestID, Ok: true}, result)
}

func (s *Server) writeFrame(conn net.Conn, writeMu *sync.Mutex, header any) {
	s.writeFrameWithPayload(conn, writeMu, header, nil)
}

func (s *Server) writeFrameWithPayload(conn net.Conn, writeMu *sync.Mutex, header any, payload []byte) {
	buf, err := wire.Encode("response", header, payload)
	if err != nil {
		slog.Warn("[control] encode frame failed", "error", err)
		return
	}
	writeMu.Lock()
	_, writeErr := conn.Write(buf)
	writeMu.Unlock()
	if writeErr != nil {
		slog.Debug("[control] write failed", "error", writeErr)
	}
}

// Stop closes the listener, waits for in-flight connections to finish, and
// removes the socket file. Idempotent.
func (s *Server) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopped)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
	return err
}
