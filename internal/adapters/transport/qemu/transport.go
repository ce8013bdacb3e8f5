// Package qemu owns the emulator/debugger process pair behind a session:
// spawning, stream plumbing, non-blocking reads and idempotent teardown.
package qemu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/ports"
)

const (
	defaultBootWait     = 3 * time.Second
	immediateExitWindow = 250 * time.Millisecond
	gracefulExitWait    = 5 * time.Second
)

// Config carries controller-level transport settings.
type Config struct {
	// GDBPath is the debugger binary.
	GDBPath string
	// GDBPort is the local TCP port the emulator exposes its remote-debug
	// endpoint on.
	GDBPort int
	Logger  *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.GDBPath == "" {
		c.GDBPath = "gdb"
	}
	if c.GDBPort == 0 {
		c.GDBPort = 1234
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Factory builds started transports for new sessions.
type Factory struct {
	cfg Config
}

var _ ports.TransportFactory = (*Factory)(nil)

func NewFactory(cfg Config) *Factory {
	cfg.applyDefaults()
	return &Factory{cfg: cfg}
}

// Open spawns the emulator with its console routed to the serial log file,
// waits a bounded interval for it to come up, then spawns the debugger with
// bidirectional pipes. Either child exiting immediately is a StartupError.
func (f *Factory) Open(ctx context.Context, profile domain.ModeProfile, target, serialLog, debugLog string) (ports.Transport, error) {
	t := &Transport{
		cfg:       f.cfg,
		dbgExited: make(chan struct{}),
		emuExited: make(chan struct{}),
	}

	if err := t.startEmulator(ctx, profile, target, serialLog); err != nil {
		return nil, err
	}
	if err := t.startDebugger(target, debugLog); err != nil {
		t.killEmulator()
		return nil, err
	}

	return t, nil
}

// Transport is the live process pair. All writes to the debugger go through
// writeMu; the interrupt timer is the only other writer and shares it.
type Transport struct {
	cfg Config

	emulator *exec.Cmd
	debugger *exec.Cmd
	stdin    io.WriteCloser

	serialSink *os.File
	debugSink  *os.File

	writeMu sync.Mutex
	termMu  sync.Mutex

	out outputBuffer

	dbgExited chan struct{}
	emuExited chan struct{}
}

var _ ports.Transport = (*Transport)(nil)

func (t *Transport) startEmulator(ctx context.Context, profile domain.ModeProfile, target, serialLog string) error {
	if err := os.MkdirAll(filepath.Dir(serialLog), 0o700); err != nil {
		return fmt.Errorf("create console sink directory: %w", err)
	}
	sink, err := os.Create(serialLog)
	if err != nil {
		return fmt.Errorf("create console sink: %w", err)
	}
	t.serialSink = sink

	args := expandArgs(profile.Args, target, t.cfg.GDBPort, serialLog)
	cmd := exec.Command(profile.Emulator, args...)
	cmd.Stdin = nil
	cmd.Stdout = sink
	cmd.Stderr = sink

	t.cfg.Logger.Debug("starting emulator",
		slog.String("binary", profile.Emulator),
		slog.Int("gdb_port", t.cfg.GDBPort))

	if err := cmd.Start(); err != nil {
		return &domain.StartupError{Child: "emulator", Err: err}
	}
	t.emulator = cmd

	go func() {
		_ = cmd.Wait()
		close(t.emuExited)
	}()

	// Bounded wait, not a handshake: give the emulator time to open its
	// remote-debug endpoint before the debugger connects.
	bootWait := profile.BootWait
	if bootWait <= 0 {
		bootWait = defaultBootWait
	}

	select {
	case <-t.emuExited:
		return &domain.StartupError{Child: "emulator", Err: exitError(cmd)}
	case <-ctx.Done():
		t.killEmulator()
		return fmt.Errorf("emulator boot wait: %w", ctx.Err())
	case <-time.After(bootWait):
		return nil
	}
}

func (t *Transport) startDebugger(target, debugLog string) error {
	sink, err := os.Create(debugLog)
	if err != nil {
		return fmt.Errorf("create debugger log: %w", err)
	}
	t.debugSink = sink

	cmd := exec.Command(t.cfg.GDBPath, "-q", target)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &domain.StartupError{Child: "debugger", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &domain.StartupError{Child: "debugger", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &domain.StartupError{Child: "debugger", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &domain.StartupError{Child: "debugger", Err: err}
	}
	t.debugger = cmd
	t.stdin = stdin

	// The readers outlive every command: they only ever append to the
	// shared buffer and mirror to the log, never blocking on completion.
	var readers sync.WaitGroup
	readers.Add(2)
	go t.drain(stdout, &readers)
	go t.drain(stderr, &readers)

	go func() {
		readers.Wait()
		_ = cmd.Wait()
		close(t.dbgExited)
	}()

	select {
	case <-t.dbgExited:
		return &domain.StartupError{Child: "debugger", Err: exitError(cmd)}
	case <-time.After(immediateExitWindow):
		return nil
	}
}

func (t *Transport) drain(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.out.append(buf[:n])
			if t.debugSink != nil {
				_, _ = t.debugSink.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// ReadAvailable drains queued debugger output without blocking. It reports
// ErrNotRunning only once the buffer is empty, so output written just before
// an exit is never lost.
func (t *Transport) ReadAvailable(max int) (string, error) {
	chunk := t.out.take(max)
	if chunk != "" {
		return chunk, nil
	}
	if !t.Running() {
		return "", domain.ErrNotRunning
	}
	return "", nil
}

// Write sends one command line as a single atomic write with no buffering
// across calls.
func (t *Transport) Write(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.Running() {
		return domain.ErrNotRunning
	}
	if _, err := io.WriteString(t.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write to debugger: %w", err)
	}
	return nil
}

// Interrupt delivers SIGINT to the debugger, which forwards it to the
// target as a break. It shares writeMu with Write so the interrupt timer
// can never interleave with a command write.
func (t *Transport) Interrupt() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.Running() {
		return domain.ErrNotRunning
	}
	if err := unix.Kill(t.debugger.Process.Pid, unix.SIGINT); err != nil {
		return fmt.Errorf("interrupt debugger: %w", err)
	}
	return nil
}

// Terminate tears the pair down: quit to the debugger, bounded wait,
// escalate to SIGKILL; then SIGTERM to the emulator, bounded wait, SIGKILL.
// Safe to call repeatedly and on every exit path.
func (t *Transport) Terminate(ctx context.Context) error {
	t.termMu.Lock()
	defer t.termMu.Unlock()

	if t.Running() {
		t.writeMu.Lock()
		_, _ = io.WriteString(t.stdin, "quit\n")
		t.writeMu.Unlock()

		if !t.awaitExit(ctx, t.dbgExited) {
			t.cfg.Logger.Warn("debugger ignored quit, killing",
				slog.Int("pid", t.debugger.Process.Pid))
			_ = unix.Kill(t.debugger.Process.Pid, unix.SIGKILL)
			t.awaitExit(ctx, t.dbgExited)
		}
	}

	if t.emulatorRunning() {
		_ = unix.Kill(t.emulator.Process.Pid, unix.SIGTERM)
		if !t.awaitExit(ctx, t.emuExited) {
			t.cfg.Logger.Warn("emulator ignored terminate, killing",
				slog.Int("pid", t.emulator.Process.Pid))
			_ = unix.Kill(t.emulator.Process.Pid, unix.SIGKILL)
			t.awaitExit(ctx, t.emuExited)
		}
	}

	// Writers take writeMu before touching stdin; clearing under the same
	// lock keeps a concurrent Write or Interrupt off a half-closed pipe.
	t.writeMu.Lock()
	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}
	if t.serialSink != nil {
		_ = t.serialSink.Close()
		t.serialSink = nil
	}
	if t.debugSink != nil {
		_ = t.debugSink.Close()
		t.debugSink = nil
	}
	t.writeMu.Unlock()

	return nil
}

func (t *Transport) awaitExit(ctx context.Context, exited <-chan struct{}) bool {
	select {
	case <-exited:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(gracefulExitWait):
		return false
	}
}

func (t *Transport) Running() bool {
	if t.debugger == nil {
		return false
	}
	select {
	case <-t.dbgExited:
		return false
	default:
		return true
	}
}

func (t *Transport) emulatorRunning() bool {
	if t.emulator == nil {
		return false
	}
	select {
	case <-t.emuExited:
		return false
	default:
		return true
	}
}

func (t *Transport) DebuggerPID() int {
	if t.debugger == nil || t.debugger.Process == nil {
		return 0
	}
	return t.debugger.Process.Pid
}

func (t *Transport) EmulatorPID() int {
	if t.emulator == nil || t.emulator.Process == nil {
		return 0
	}
	return t.emulator.Process.Pid
}

func (t *Transport) killEmulator() {
	if t.emulator != nil && t.emulator.Process != nil {
		_ = t.emulator.Process.Kill()
	}
}

func exitError(cmd *exec.Cmd) error {
	if cmd.ProcessState != nil {
		return fmt.Errorf("exited: %s", cmd.ProcessState)
	}
	return nil
}

// expandArgs substitutes the launch placeholders a mode profile may carry.
func expandArgs(args []string, target string, port int, serialLog string) []string {
	replacer := strings.NewReplacer(
		"{target}", target,
		"{port}", strconv.Itoa(port),
		"{serial_log}", serialLog,
	)

	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = replacer.Replace(arg)
	}
	return expanded
}

// outputBuffer is the shared accumulation point between the reader
// goroutines and ReadAvailable.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *outputBuffer) take(max int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf.Len() == 0 {
		return ""
	}
	if max <= 0 || max > b.buf.Len() {
		max = b.buf.Len()
	}
	return string(b.buf.Next(max))
}
