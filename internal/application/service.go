// Package application coordinates session lifecycle and command execution
// across the transport, scanner, parser and registry ports.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/gdb"
	"github.com/bnema/kdbg/internal/ports"
)

const (
	// defaultKernelBase is where the position-independent kernel image is
	// loaded at runtime (1 TiB). Section addresses from the binary are
	// offset by this base when symbols are loaded.
	defaultKernelBase = 0x10000000000

	handshakeTimeout = 30 * time.Second
	gracefulStopWait = 5 * time.Second
)

// Config carries controller-level session settings.
type Config struct {
	// GDBPort is the local TCP port the emulator's remote-debug endpoint
	// listens on.
	GDBPort int
	// KernelBase overrides the runtime load address of the target image.
	KernelBase uint64
}

func (c *Config) applyDefaults() {
	if c.GDBPort == 0 {
		c.GDBPort = 1234
	}
	if c.KernelBase == 0 {
		c.KernelBase = defaultKernelBase
	}
}

// liveSession is a session whose transport this process owns. Its mutex
// serializes command execution per session.
type liveSession struct {
	mu        sync.Mutex
	session   domain.Session
	transport ports.Transport
	cursor    ports.ConsoleCursor
}

// Service owns session lifecycle: creation with the protocol handshake,
// liveness-checked reattachment, command execution and teardown.
type Service struct {
	sessions   ports.SessionRepository
	modes      ports.ModeRepository
	transports ports.TransportFactory
	cursors    ports.ConsoleCursorFactory
	symbols    ports.SymbolTable
	prober     ports.ProcessProber
	clock      ports.Clock
	scanner    *gdb.Scanner
	dispatch   *Dispatcher
	logger     *slog.Logger
	cfg        Config

	mu   sync.Mutex
	live map[domain.SessionID]*liveSession
}

func NewService(
	sessions ports.SessionRepository,
	modes ports.ModeRepository,
	transports ports.TransportFactory,
	cursors ports.ConsoleCursorFactory,
	symbols ports.SymbolTable,
	prober ports.ProcessProber,
	clock ports.Clock,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	scanner := gdb.NewScanner(logger)

	return &Service{
		sessions:   sessions,
		modes:      modes,
		transports: transports,
		cursors:    cursors,
		symbols:    symbols,
		prober:     prober,
		clock:      clock,
		scanner:    scanner,
		dispatch:   NewDispatcher(scanner, clock, logger),
		logger:     logger,
		cfg:        cfg,
		live:       map[domain.SessionID]*liveSession{},
	}
}

// Create spawns the process pair for a new session, runs the protocol
// handshake and persists the metadata record. On any handshake failure both
// children are torn down before the error returns.
func (s *Service) Create(ctx context.Context, target, mode string) (domain.Session, error) {
	profile, err := s.modes.GetByName(ctx, mode)
	if err != nil {
		return domain.Session{}, fmt.Errorf("resolve mode: %w", err)
	}

	id := s.newSessionID()
	serialLog := s.sessions.SerialLogPath(id)
	debugLog := s.sessions.DebugLogPath(id)

	transport, err := s.transports.Open(ctx, profile, target, serialLog, debugLog)
	if err != nil {
		return domain.Session{}, fmt.Errorf("open transport: %w", err)
	}

	session, err := s.handshake(ctx, transport, id, target, domain.Mode(mode))
	if err != nil {
		_ = transport.Terminate(context.WithoutCancel(ctx))
		return domain.Session{}, err
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		_ = transport.Terminate(context.WithoutCancel(ctx))
		return domain.Session{}, fmt.Errorf("save session record: %w", err)
	}

	s.mu.Lock()
	s.live[session.ID] = &liveSession{
		session:   session,
		transport: transport,
		cursor:    s.cursors.OpenCursor(serialLog),
	}
	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("session_id", string(session.ID)),
		slog.String("mode", mode),
		slog.Int("gdb_pid", session.DebuggerPID),
		slog.Int("qemu_pid", session.EmulatorPID))

	return session, nil
}

// handshake brings a fresh transport to a usable state: initial prompt,
// non-interactive setup, remote-target connect, symbol load.
func (s *Service) handshake(ctx context.Context, transport ports.Transport, id domain.SessionID, target string, mode domain.Mode) (domain.Session, error) {
	// The debugger prints its banner and first prompt unprompted.
	if _, err := s.scanner.WaitOutput(ctx, transport, gdb.WaitOptions{Timeout: handshakeTimeout}); err != nil {
		return domain.Session{}, fmt.Errorf("await initial prompt: %w", err)
	}

	send := func(command string) (string, error) {
		if err := transport.Write(command); err != nil {
			return "", err
		}
		return s.scanner.WaitOutput(ctx, transport, gdb.WaitOptions{Timeout: handshakeTimeout})
	}

	for _, setup := range []string{"set pagination off", "set confirm off"} {
		if _, err := send(setup); err != nil {
			return domain.Session{}, fmt.Errorf("%s: %w", setup, err)
		}
	}

	connect := fmt.Sprintf("target remote localhost:%d", s.cfg.GDBPort)
	out, err := send(connect)
	if err != nil {
		return domain.Session{}, fmt.Errorf("connect to remote target: %w", err)
	}
	if strings.Contains(out, "Connection refused") {
		return domain.Session{}, &domain.ProtocolError{Phrase: "Connection refused", Output: out}
	}

	// Symbols load best-effort: an unreadable image still gets a session,
	// just without names.
	sections, err := s.symbols.Sections(target)
	if err != nil {
		s.logger.Warn("symbol sections unavailable",
			slog.String("target", target),
			slog.Any("error", err))
		sections = nil
	} else if _, err := send(s.symbols.LoadCommand(target, s.cfg.KernelBase, sections)); err != nil {
		return domain.Session{}, fmt.Errorf("load symbols: %w", err)
	}

	session := domain.Session{
		ID:           id,
		TargetBinary: target,
		Mode:         mode,
		DebuggerPID:  transport.DebuggerPID(),
		EmulatorPID:  transport.EmulatorPID(),
		StartedAt:    s.clock.Now(),
		Sections:     sections,
	}
	if started, err := s.prober.StartTime(session.DebuggerPID); err == nil {
		session.DebuggerStarted = started
	}
	if started, err := s.prober.StartTime(session.EmulatorPID); err == nil {
		session.EmulatorStarted = started
	}

	return session, nil
}

// Execute runs one debugger command against a live session and persists the
// updated command count.
func (s *Service) Execute(ctx context.Context, id domain.SessionID, command string, opts ExecOptions) (domain.CommandResult, error) {
	ls, err := s.attached(ctx, id)
	if err != nil {
		return domain.CommandResult{}, err
	}

	result := s.dispatch.Execute(ctx, ls, command, opts)

	if result.Success {
		ls.mu.Lock()
		ls.session.CommandCount++
		session := ls.session
		ls.mu.Unlock()

		if err := s.sessions.Save(ctx, session); err != nil {
			s.logger.Warn("persist command count",
				slog.String("session_id", string(id)),
				slog.Any("error", err))
		}
	}

	return result, nil
}

// attached resolves a session to its live transport. Sessions whose record
// exists but whose transport lives in another process cannot be driven from
// here: stdio pipes do not survive across processes.
func (s *Service) attached(ctx context.Context, id domain.SessionID) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		return ls, nil
	}

	record, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.prober.SameProcess(record.DebuggerPID, record.DebuggerStarted) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionDead)
	}

	return nil, fmt.Errorf("session %s is owned by another controller process", id)
}

// Reattach validates that a recorded session's processes are still the ones
// recorded at creation. A dead or recycled pid surfaces as ErrSessionDead.
func (s *Service) Reattach(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error) {
	record, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.SessionStatus{}, err
	}

	status := s.probe(record)
	if !status.Alive() {
		return status, fmt.Errorf("session %s: %w", id, domain.ErrSessionDead)
	}

	return status, nil
}

// List returns every recorded session annotated with probed liveness. With
// prune set, records whose processes are both gone are removed instead of
// returned.
func (s *Service) List(ctx context.Context, prune bool) ([]domain.SessionStatus, error) {
	records, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.SessionStatus, 0, len(records))
	for _, record := range records {
		status := s.probe(record)
		if prune && !status.DebuggerAlive && !status.EmulatorAlive {
			if err := s.sessions.Delete(ctx, record.ID); err != nil {
				s.logger.Warn("prune dead session",
					slog.String("session_id", string(record.ID)),
					slog.Any("error", err))
			}
			s.dropLive(record.ID)
			continue
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Destroy tears a session down and removes its record. The record goes away
// even when the processes were already gone; teardown must always converge.
func (s *Service) Destroy(ctx context.Context, id domain.SessionID, force bool) (domain.StopStats, error) {
	record, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.StopStats{}, err
	}

	s.mu.Lock()
	ls := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()

	switch {
	case force:
		s.stopProcess(record.DebuggerPID, record.DebuggerStarted, true)
		s.stopProcess(record.EmulatorPID, record.EmulatorStarted, true)
	case ls != nil:
		if err := ls.transport.Terminate(ctx); err != nil {
			s.logger.Warn("terminate transport",
				slog.String("session_id", string(id)),
				slog.Any("error", err))
		}
	default:
		s.stopProcess(record.DebuggerPID, record.DebuggerStarted, false)
		s.stopProcess(record.EmulatorPID, record.EmulatorStarted, false)
	}

	if err := s.sessions.Delete(ctx, id); err != nil {
		return domain.StopStats{}, fmt.Errorf("delete session record: %w", err)
	}

	stats := domain.StopStats{SessionID: id, TotalCommands: record.CommandCount}
	if ls != nil {
		stats.TotalCommands = ls.session.CommandCount
	}
	if !record.StartedAt.IsZero() {
		stats.Duration = int64(s.clock.Now().Sub(record.StartedAt) / time.Second)
	}

	s.logger.Info("session stopped",
		slog.String("session_id", string(id)),
		slog.Bool("force", force),
		slog.Int("total_commands", stats.TotalCommands))

	return stats, nil
}

// Shutdown tears down every live transport. Records stay on disk; they show
// up as dead on the next list and are prunable there.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.live))
	for _, ls := range s.live {
		live = append(live, ls)
	}
	s.live = map[domain.SessionID]*liveSession{}
	s.mu.Unlock()

	for _, ls := range live {
		_ = ls.transport.Terminate(ctx)
	}
}

func (s *Service) probe(record domain.Session) domain.SessionStatus {
	return domain.SessionStatus{
		Session:       record,
		DebuggerAlive: s.prober.SameProcess(record.DebuggerPID, record.DebuggerStarted),
		EmulatorAlive: s.prober.SameProcess(record.EmulatorPID, record.EmulatorStarted),
	}
}

// stopProcess ends one recorded child, skipping pids that no longer belong
// to the recorded process. Graceful termination escalates after a bounded
// wait.
func (s *Service) stopProcess(pid int, recorded time.Time, force bool) {
	if pid <= 0 || !s.prober.SameProcess(pid, recorded) {
		return
	}

	if force {
		_ = s.prober.Kill(pid)
		return
	}

	if err := s.prober.Terminate(pid); err != nil {
		s.logger.Warn("terminate process", slog.Int("pid", pid), slog.Any("error", err))
	}

	deadline := time.Now().Add(gracefulStopWait)
	for s.prober.Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if s.prober.Alive(pid) {
		_ = s.prober.Kill(pid)
	}
}

func (s *Service) dropLive(id domain.SessionID) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Service) newSessionID() domain.SessionID {
	stamp := s.clock.Now().Format("20060102-150405")
	return domain.SessionID(fmt.Sprintf("gdb-%s-%s", stamp, uuid.NewString()[:4]))
}
