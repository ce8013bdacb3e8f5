// Package sessionfile is the durable session registry: one JSON metadata
// record per session under the sessions directory, alongside the session's
// transport log files. The record format is the on-disk contract between
// the creating process and any reattaching process and must stay
// backward-readable.
package sessionfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/ports"
)

const (
	sessionsDirKey  = "sessions.dir"
	sessionsDirMode = 0o700
	recordFileMode  = 0o600
	tempFilePattern = ".session-*.json.tmp"
)

type Repository struct {
	dir string
	mu  *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	dirLockMap     = map[string]*sync.RWMutex{}
)

var _ ports.SessionRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg.SetDefault(sessionsDirKey, filepath.Join(homeDir, ".kdbg", "sessions"))

	dir := cfg.GetString(sessionsDirKey)
	if dir == "" {
		return nil, errors.New("sessions directory is empty")
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sessions directory: %w", err)
	}
	dir = filepath.Clean(dir)

	return &Repository{dir: dir, mu: lockForDir(dir)}, nil
}

func (r *Repository) Save(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, sessionsDirMode); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	tempFile, err := os.CreateTemp(r.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp session record: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp session record: %w", err)
	}
	if err := tempFile.Chmod(recordFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp session record: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp session record: %w", err)
	}

	if err := os.Rename(tempName, r.recordPath(session.ID)); err != nil {
		return fmt.Errorf("replace session record: %w", err)
	}
	cleanup = false

	return nil
}

func (r *Repository) GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("read session record: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session record: %w", err)
	}

	return session, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	sessions := make([]domain.Session, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var session domain.Session
		if err := json.Unmarshal(data, &session); err != nil {
			// A record we cannot read must not hide the others.
			continue
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	return sessions, nil
}

// Delete removes the metadata record and the session's log files, even when
// some of them are already gone.
func (r *Repository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, path := range []string{
		r.recordPath(id),
		r.SerialLogPath(id),
		r.DebugLogPath(id),
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}

	return nil
}

func (r *Repository) SerialLogPath(id domain.SessionID) string {
	return filepath.Join(r.dir, string(id)+".qemu.log")
}

func (r *Repository) DebugLogPath(id domain.SessionID) string {
	return filepath.Join(r.dir, string(id)+".gdb.log")
}

// Dir ensures the sessions directory exists and returns it.
func (r *Repository) Dir() (string, error) {
	if err := os.MkdirAll(r.dir, sessionsDirMode); err != nil {
		return "", fmt.Errorf("create sessions directory: %w", err)
	}
	return r.dir, nil
}

func (r *Repository) recordPath(id domain.SessionID) string {
	return filepath.Join(r.dir, string(id)+".json")
}

func lockForDir(dir string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := dirLockMap[dir]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	dirLockMap[dir] = mu
	return mu
}
