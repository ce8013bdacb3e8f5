package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/ports"
)

// fakeTransport scripts debugger responses per command line. Unscripted
// commands get a bare prompt back.
type fakeTransport struct {
	mu          sync.Mutex
	pending     string
	script      map[string]string
	defaultResp string
	onWrite     func(line string)
	writes      []string
	running     bool
	interrupted bool
	terminated  bool
	dbgPID      int
	emuPID      int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pending:     "GNU gdb (GDB) 14.2\n(gdb) ",
		script:      map[string]string{},
		defaultResp: "(gdb) ",
		running:     true,
		dbgPID:      1111,
		emuPID:      2222,
	}
}

func (f *fakeTransport) ReadAvailable(max int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending == "" {
		if !f.running {
			return "", domain.ErrNotRunning
		}
		return "", nil
	}

	chunk := f.pending
	if max > 0 && len(chunk) > max {
		chunk = chunk[:max]
	}
	f.pending = f.pending[len(chunk):]
	return chunk, nil
}

func (f *fakeTransport) Write(line string) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return domain.ErrNotRunning
	}
	f.writes = append(f.writes, line)
	resp, ok := f.script[line]
	if !ok {
		resp = f.defaultResp
	}
	f.pending += resp
	onWrite := f.onWrite
	f.mu.Unlock()

	if onWrite != nil {
		onWrite(line)
	}
	return nil
}

func (f *fakeTransport) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.interrupted = true
	f.pending += "\nProgram received signal SIGINT, Interrupt.\n0x000000010000abcd in idle_loop ()\n(gdb) "
	return nil
}

func (f *fakeTransport) Terminate(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.terminated = true
	f.running = false
	return nil
}

func (f *fakeTransport) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTransport) DebuggerPID() int { return f.dbgPID }
func (f *fakeTransport) EmulatorPID() int { return f.emuPID }

func (f *fakeTransport) recordedWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) wasInterrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

func (f *fakeTransport) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

type fakeTransportFactory struct {
	transport *fakeTransport
	err       error
}

func (f *fakeTransportFactory) Open(_ context.Context, _ domain.ModeProfile, _, _, _ string) (ports.Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transport, nil
}

// fakeCursor is an in-memory console sink.
type fakeCursor struct {
	mu      sync.Mutex
	content string
	offset  int
}

func (c *fakeCursor) append(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content += s
}

func (c *fakeCursor) ReadNew(max int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := len(c.content)
	if max > 0 && end-c.offset > max {
		end = c.offset + max
	}
	delta := c.content[c.offset:end]
	c.offset = end
	return delta, nil
}

func (c *fakeCursor) ReadAll(max int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := c.content
	if max > 0 && len(text) > max {
		text = text[:max]
	}
	return text, nil
}

func (c *fakeCursor) AwaitChange(_ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset < len(c.content)
}

type fakeCursorFactory struct {
	cursor *fakeCursor
}

func (f fakeCursorFactory) OpenCursor(_ string) ports.ConsoleCursor {
	return f.cursor
}

// fakeSymbols returns a fixed section layout.
type fakeSymbols struct {
	sections map[string]uint64
	err      error
}

func (f fakeSymbols) Sections(_ string) (map[string]uint64, error) {
	return f.sections, f.err
}

func (f fakeSymbols) LoadCommand(binary string, base uint64, sections map[string]uint64) string {
	return fmt.Sprintf("add-symbol-file %s 0x%x", binary, base+sections[".text"])
}

// fakeProber tracks liveness per pid and records teardown signals.
type fakeProber struct {
	mu         sync.Mutex
	alive      map[int]bool
	starts     map[int]time.Time
	terminated []int
	killed     []int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		alive:  map[int]bool{},
		starts: map[int]time.Time{},
	}
}

func (f *fakeProber) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProber) StartTime(pid int) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if started, ok := f.starts[pid]; ok {
		return started, nil
	}
	return time.Time{}, fmt.Errorf("no such process %d", pid)
}

func (f *fakeProber) SameProcess(pid int, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProber) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.terminated = append(f.terminated, pid)
	f.alive[pid] = false
	return nil
}

func (f *fakeProber) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.killed = append(f.killed, pid)
	f.alive[pid] = false
	return nil
}

func (f *fakeProber) markAlive(pids ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pid := range pids {
		f.alive[pid] = true
		f.starts[pid] = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	}
}

func (f *fakeProber) killedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}

// memRepo is an in-memory session registry with temp-dir log paths.
type memRepo struct {
	mu      sync.Mutex
	records map[domain.SessionID]domain.Session
	dir     string
}

func newMemRepo(t *testing.T) *memRepo {
	t.Helper()
	return &memRepo{
		records: map[domain.SessionID]domain.Session{},
		dir:     t.TempDir(),
	}
}

func (r *memRepo) Save(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[session.ID] = session
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id domain.SessionID) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.records[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return session, nil
}

func (r *memRepo) List(_ context.Context) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]domain.Session, 0, len(r.records))
	for _, session := range r.records {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (r *memRepo) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memRepo) SerialLogPath(id domain.SessionID) string {
	return filepath.Join(r.dir, string(id)+".qemu.log")
}

func (r *memRepo) DebugLogPath(id domain.SessionID) string {
	return filepath.Join(r.dir, string(id)+".gdb.log")
}

func (r *memRepo) get(id domain.SessionID) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.records[id]
	return session, ok
}

// fakeModes serves the two builtin profiles.
type fakeModes struct{}

func (fakeModes) GetByName(_ context.Context, name string) (domain.ModeProfile, error) {
	for _, profile := range fakeModesList() {
		if profile.Name == name {
			return profile, nil
		}
	}
	return domain.ModeProfile{}, fmt.Errorf("mode %q is not defined", name)
}

func (fakeModes) List(_ context.Context) ([]domain.ModeProfile, error) {
	return fakeModesList(), nil
}

func fakeModesList() []domain.ModeProfile {
	return []domain.ModeProfile{
		{Name: "uefi", Emulator: "qemu-system-x86_64", BootWait: time.Millisecond},
		{Name: "bios", Emulator: "qemu-system-x86_64", BootWait: time.Millisecond},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
