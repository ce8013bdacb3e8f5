package domain

import "time"

type SessionID string

// Mode selects the emulator boot profile a session runs under.
type Mode string

const (
	ModeUEFI Mode = "uefi"
	ModeBIOS Mode = "bios"
)

// Session is the unit of cross-invocation state: one debugger process paired
// with one emulator process, plus the handshake results recorded at creation.
type Session struct {
	ID               SessionID         `json:"session_id"`
	TargetBinary     string            `json:"target_binary"`
	Mode             Mode              `json:"mode"`
	DebuggerPID      int               `json:"gdb_pid"`
	EmulatorPID      int               `json:"qemu_pid"`
	DebuggerStarted  time.Time         `json:"gdb_start_time"`
	EmulatorStarted  time.Time         `json:"qemu_start_time"`
	CommandCount     int               `json:"command_count"`
	StartedAt        time.Time         `json:"start_time"`
	Sections         map[string]uint64 `json:"sections,omitempty"`
}

// ModeProfile describes how to launch the emulator for a given mode. Args
// entries may contain the placeholders {target}, {port} and {serial_log},
// expanded by the transport at spawn time.
type ModeProfile struct {
	Name        string
	Emulator    string
	Args        []string
	BootWait    time.Duration
	Description string
}

// SessionStatus annotates a persisted session record with the probed
// liveness of both child processes.
type SessionStatus struct {
	Session       Session `json:"session"`
	DebuggerAlive bool    `json:"gdb_alive"`
	EmulatorAlive bool    `json:"qemu_alive"`
}

// Alive reports whether both processes still exist.
func (s SessionStatus) Alive() bool {
	return s.DebuggerAlive && s.EmulatorAlive
}

// StopStats summarizes a torn-down session.
type StopStats struct {
	SessionID     SessionID `json:"session_id"`
	TotalCommands int       `json:"total_commands"`
	Duration      int64     `json:"session_duration_s"`
}
