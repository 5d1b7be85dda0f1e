package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"go.uber.org/zap"
)

// serverConn pairs a net.Conn with the mutex guarding writes to it: requests
// on one connection are handled concurrently (one goroutine per request), so
// their responses must not be allowed to interleave mid-frame.
type serverConn struct {
	conn   net.Conn
	writeMu sync.Mutex
}

// Server accepts inbound connections from remote peers' RemoteNode clients
// and dispatches each request frame to a local Node (typically a LocalNode
// fronting the storage engine). One Server per process serves every cluster
// this node participates in.
type Server struct {
	listener net.Listener
	target   Node
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*serverConn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server that dispatches to target.
func NewServer(target Node, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{target: target, logger: logger, conns: make(map[*serverConn]struct{})}
}

// ListenAndServe binds addr and serves until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = l

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(sc)
	}
}

// Close stops accepting new connections and closes all open ones.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	for sc := range s.conns {
		sc.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serveConn(sc *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		sc.conn.Close()
	}()

	var handlers sync.WaitGroup
	for {
		req, err := readRequest(sc.conn)
		if err != nil {
			handlers.Wait()
			return // EOF or connection error: client will reconnect
		}
		handlers.Add(1)
		go func(req requestFrame) {
			defer handlers.Done()
			s.handle(sc, req)
		}(req)
	}
}

func (s *Server) handle(sc *serverConn, req requestFrame) {
	if req.Version != command.Version {
		s.respond(sc, req.RequestID, StatusProtocolError, []byte(fmt.Sprintf("unsupported version %d", req.Version)))
		sc.conn.Close()
		return
	}

	var cmd command.Command
	if err := command.Unmarshal(req.Body, &cmd); err != nil {
		s.respond(sc, req.RequestID, StatusProtocolError, []byte("malformed body: "+err.Error()))
		return
	}
	cmd.Kind = req.Kind

	res, err := s.target.Send(context.Background(), cmd)
	if err != nil {
		status, msg := classify(err)
		s.respond(sc, req.RequestID, status, []byte(msg))
		return
	}

	body, err := command.Marshal(res)
	if err != nil {
		s.respond(sc, req.RequestID, StatusProtocolError, []byte("encode result: "+err.Error()))
		return
	}
	s.respond(sc, req.RequestID, StatusOK, body)
}

func classify(err error) (Status, string) {
	switch {
	case errors.Is(err, errors.CodeValidation):
		return StatusValidationError, err.Error()
	case errors.Is(err, errors.CodeProtocol):
		return StatusProtocolError, err.Error()
	default:
		return StatusProcessingError, err.Error()
	}
}

func (s *Server) respond(sc *serverConn, requestID uint64, status Status, body []byte) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := writeResponse(sc.conn, responseFrame{RequestID: requestID, Status: status, Body: body}); err != nil {
		s.logger.Warn("failed writing response", zap.Uint64("request_id", requestID), zap.Error(err))
	}
}
