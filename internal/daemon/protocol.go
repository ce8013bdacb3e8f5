// Package daemon hosts the long-lived process that owns session transports
// and serves CLI invocations over a unix socket. Transports hold stdio pipes
// into the debugger, so whichever process creates a session must stay alive
// to drive it; the daemon is that process.
package daemon

import "github.com/bnema/kdbg/internal/domain"

// Op identifies one request kind.
type Op string

const (
	OpPing     Op = "ping"
	OpCreate   Op = "create"
	OpExec     Op = "exec"
	OpReattach Op = "reattach"
	OpList     Op = "list"
	OpStop     Op = "stop"
	OpShutdown Op = "shutdown"
)

// Request is one newline-delimited JSON request. Fields beyond ID and Op are
// populated per operation.
type Request struct {
	ID               string `json:"id"`
	Op               Op     `json:"op"`
	Target           string `json:"target,omitempty"`
	Mode             string `json:"mode,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Command          string `json:"command,omitempty"`
	TimeoutMS        int64  `json:"timeout_ms,omitempty"`
	InterruptAfterMS int64  `json:"interrupt_after_ms,omitempty"`
	Force            bool   `json:"force,omitempty"`
	Prune            bool   `json:"prune,omitempty"`
}

// Response mirrors the request id. OK false means the operation itself
// failed; a command that executed but reported a debugger-side failure still
// comes back OK with Result carrying the classification.
type Response struct {
	ID       string                 `json:"id"`
	OK       bool                   `json:"ok"`
	Error    string                 `json:"error,omitempty"`
	Session  *domain.Session        `json:"session,omitempty"`
	Status   *domain.SessionStatus  `json:"status,omitempty"`
	Sessions []domain.SessionStatus `json:"sessions,omitempty"`
	Result   *domain.CommandResult  `json:"result,omitempty"`
	Stats    *domain.StopStats      `json:"stats,omitempty"`
}
