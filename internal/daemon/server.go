package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/kdbg/internal/application"
	"github.com/bnema/kdbg/internal/domain"
)

// sessionOps is the service surface the server drives.
type sessionOps interface {
	Create(ctx context.Context, target, mode string) (domain.Session, error)
	Execute(ctx context.Context, id domain.SessionID, command string, opts application.ExecOptions) (domain.CommandResult, error)
	Reattach(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error)
	List(ctx context.Context, prune bool) ([]domain.SessionStatus, error)
	Destroy(ctx context.Context, id domain.SessionID, force bool) (domain.StopStats, error)
	Shutdown(ctx context.Context)
}

// Server accepts connections on a unix socket and serves requests against
// the session service. One goroutine per connection; the service serializes
// per-session work itself.
type Server struct {
	ops    sessionOps
	socket string
	logger *slog.Logger

	listener net.Listener
	shutdown chan struct{}
	stopOnce sync.Once
	conns    sync.WaitGroup
}

func NewServer(ops sessionOps, socket string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ops:      ops,
		socket:   socket,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Listen binds the socket. A stale socket file from a crashed daemon is
// removed; a socket something answers on means another daemon is running.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if _, err := os.Stat(s.socket); err == nil {
		if conn, err := net.DialTimeout("unix", s.socket, time.Second); err == nil {
			_ = conn.Close()
			return fmt.Errorf("daemon already listening on %s", s.socket)
		}
		_ = os.Remove(s.socket)
	}

	listener, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socket, err)
	}
	s.listener = listener

	s.logger.Info("daemon listening", slog.String("socket", s.socket))
	return nil
}

// Serve accepts connections until Stop is called or ctx ends, then drains
// in-flight connections, tears down every live session transport and removes
// the socket.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("serve before listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	var serveErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				serveErr = fmt.Errorf("accept: %w", err)
				s.Stop()
			}
			break
		}

		s.conns.Add(1)
		go s.handle(ctx, conn)
	}

	s.conns.Wait()
	s.ops.Shutdown(context.WithoutCancel(ctx))
	_ = os.Remove(s.socket)

	s.logger.Info("daemon stopped")
	return serveErr
}

// Stop ends the accept loop. Safe to call repeatedly.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer func() { _ = conn.Close() }()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := s.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Warn("write response", slog.Any("error", err))
			return
		}

		if req.Op == OpShutdown {
			s.Stop()
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, OK: true}

	fail := func(err error) Response {
		s.logger.Warn("request failed",
			slog.String("op", string(req.Op)),
			slog.Any("error", err))
		return Response{ID: req.ID, Error: err.Error()}
	}

	switch req.Op {
	case OpPing, OpShutdown:

	case OpCreate:
		session, err := s.ops.Create(ctx, req.Target, req.Mode)
		if err != nil {
			return fail(err)
		}
		resp.Session = &session

	case OpExec:
		result, err := s.ops.Execute(ctx, domain.SessionID(req.SessionID), req.Command, application.ExecOptions{
			Timeout:        time.Duration(req.TimeoutMS) * time.Millisecond,
			InterruptAfter: time.Duration(req.InterruptAfterMS) * time.Millisecond,
		})
		if err != nil {
			return fail(err)
		}
		resp.Result = &result

	case OpReattach:
		status, err := s.ops.Reattach(ctx, domain.SessionID(req.SessionID))
		if err != nil {
			return fail(err)
		}
		resp.Status = &status

	case OpList:
		sessions, err := s.ops.List(ctx, req.Prune)
		if err != nil {
			return fail(err)
		}
		resp.Sessions = sessions

	case OpStop:
		stats, err := s.ops.Destroy(ctx, domain.SessionID(req.SessionID), req.Force)
		if err != nil {
			return fail(err)
		}
		resp.Stats = &stats

	default:
		return fail(fmt.Errorf("unknown op %q", req.Op))
	}

	return resp
}
