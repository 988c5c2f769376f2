package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"pedometerd/internal/engine"
)

// Server serves engine operations over a unix socket.
type Server struct {
	eng *engine.Engine
	log *slog.Logger

	path     string
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates an unstarted server for the given socket path.
func NewServer(eng *engine.Engine, path string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, log: log, path: path}
}

// Listen binds the socket, replacing a stale file from a previous
// run.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// A leftover socket from an unclean shutdown would block binding.
	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.Dial("unix", s.path); err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running on %s", s.path)
		}
		os.Remove(s.path)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.listener = listener
	return nil
}

// Serve accepts connections until Close. Each connection gets its own
// goroutine; requests within a connection are answered in order.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, closes the socket, and waits for in-flight
// handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("malformed request", "error", err)
			enc.Encode(Response{OK: false, Error: &ErrorInfo{
				Code:    string(engine.CodeInvalidParameter),
				Message: "malformed request: " + err.Error(),
			}})
			continue
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			s.log.Warn("write response failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("connection read ended", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, OK: true}

	switch req.Op {
	case OpPing:

	case OpStatus:
		total, err := s.eng.TotalSteps(ctx)
		if err != nil {
			return s.fail(req, err)
		}
		resp.Status = &Status{
			SensorAvailable: s.eng.IsSensorAvailable(),
			Tracking:        s.eng.IsTracking(),
			SessionID:       s.eng.CurrentSession(),
			TotalSteps:      total,
		}

	case OpStart:
		session, err := s.eng.StartTracking(ctx)
		if err != nil {
			return s.fail(req, err)
		}
		resp.Session = session

	case OpStop:
		if err := s.eng.StopTracking(ctx); err != nil {
			return s.fail(req, err)
		}

	case OpTotal:
		total, err := s.eng.QueryTotal(ctx, req.From, req.To)
		if err != nil {
			return s.fail(req, err)
		}
		resp.Total = &total

	case OpDetailed:
		recs, err := s.eng.QueryDetailed(ctx, req.From, req.To)
		if err != nil {
			return s.fail(req, err)
		}
		resp.Records = recs

	case OpSessions:
		sums, err := s.eng.QuerySessions(ctx, req.From, req.To)
		if err != nil {
			return s.fail(req, err)
		}
		resp.Sessions = sums

	default:
		return Response{ID: req.ID, OK: false, Error: &ErrorInfo{
			Code:    string(engine.CodeInvalidParameter),
			Message: fmt.Sprintf("unknown op %q", req.Op),
		}}
	}

	return resp
}

func (s *Server) fail(req Request, err error) Response {
	return Response{ID: req.ID, OK: false, Error: &ErrorInfo{
		Code:    string(engine.CodeOf(err)),
		Message: err.Error(),
	}}
}
