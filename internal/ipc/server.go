package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kbshade/kbshade/internal/logging"
)

var log = logging.L("ipc")

// requestTimeout bounds a single request/reply exchange.
const requestTimeout = 5 * time.Second

// Handler serves control requests. Implementations must be safe for
// concurrent use; the server handles each connection on its own goroutine.
type Handler interface {
	// Status returns a snapshot of the daemon's state.
	Status(ctx context.Context) (*StatusReply, error)
	// Wake reports user-equivalent activity, restoring the backlight.
	Wake(ctx context.Context) error
	// Dim forces the backlight off without waiting for the idle timer.
	Dim(ctx context.Context) error
}

// Server owns the control socket and its accept loop.
type Server struct {
	path    string
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a control server bound to the given socket path.
func NewServer(path string, handler Handler) *Server {
	return &Server{path: path, handler: handler}
}

// Listen binds the socket and serves until ctx is cancelled. A stale socket
// file from a previous run is removed first.
func (s *Server) Listen(ctx context.Context) error {
	os.Remove(s.path)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ipc: mkdir %s: %w", dir, err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("ipc: chmod %s: %w", s.path, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		os.Remove(s.path)
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.Info("control socket listening", "path", s.path)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			log.Warn("accept failed", logging.KeyError, err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops the listener and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.path)
}

// handle serves one request/reply exchange and closes the connection.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	creds, err := GetPeerCredentials(raw)
	if err != nil {
		log.Warn("peer credential check failed", logging.KeyError, err)
		return
	}
	if !creds.Authorized() {
		log.Warn("rejected unauthorized peer", "uid", creds.UID, "pid", creds.PID)
		return
	}

	conn := NewConn(raw)
	conn.SetDeadline(time.Now().Add(requestTimeout))

	req, err := conn.Recv()
	if err != nil {
		log.Warn("bad control request", logging.KeyError, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	s.serve(ctx, conn, req)
}

// serve dispatches one authenticated request.
func (s *Server) serve(ctx context.Context, conn *Conn, req *Envelope) {
	if req.Version != ProtocolVersion {
		conn.SendError(req.ID, fmt.Sprintf("unsupported protocol version %d", req.Version))
		return
	}

	switch req.Type {
	case TypeStatus:
		reply, err := s.handler.Status(ctx)
		if err != nil {
			conn.SendError(req.ID, err.Error())
			return
		}
		conn.SendTyped(req.ID, TypeStatusReply, reply)
	case TypeWake:
		if err := s.handler.Wake(ctx); err != nil {
			conn.SendError(req.ID, err.Error())
			return
		}
		conn.Send(&Envelope{ID: req.ID, Type: TypeAck})
	case TypeDim:
		if err := s.handler.Dim(ctx); err != nil {
			conn.SendError(req.ID, err.Error())
			return
		}
		conn.Send(&Envelope{ID: req.ID, Type: TypeAck})
	default:
		conn.SendError(req.ID, fmt.Sprintf("unknown request type %q", req.Type))
	}
}
