package ports

import (
	"context"

	"github.com/bnema/kdbg/internal/domain"
)

// SessionRepository is the durable registry of session metadata records,
// the on-disk contract between the creating process and any reattaching
// process.
type SessionRepository interface {
	Save(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
	// Delete removes the metadata record and associated log files. It
	// succeeds even when some files are already gone.
	Delete(ctx context.Context, id domain.SessionID) error
	// SerialLogPath is where the session's emulator console sink lives.
	SerialLogPath(id domain.SessionID) string
	// DebugLogPath is where the session's debugger output is mirrored.
	DebugLogPath(id domain.SessionID) string
}

// ModeRepository resolves emulator launch profiles by mode name.
type ModeRepository interface {
	GetByName(ctx context.Context, name string) (domain.ModeProfile, error)
	List(ctx context.Context) ([]domain.ModeProfile, error)
}
