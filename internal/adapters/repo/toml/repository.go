// Package toml stores emulator mode profiles in ~/.kdbg/modes.toml. The
// built-in uefi and bios profiles apply when the file is absent, so a fresh
// install works without configuration.
package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/ports"
)

const (
	modesPathKey    = "modes.path"
	modesFileMode   = 0o600
	modesDirMode    = 0o700
	configDirName   = ".kdbg"
	modesFileName   = "modes.toml"
	tempFilePattern = ".modes-*.toml.tmp"
)

type Repository struct {
	modesPath string
	mu        *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.ModeRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg.SetDefault(modesPathKey, filepath.Join(homeDir, configDirName, modesFileName))

	modesPath := cfg.GetString(modesPathKey)
	if modesPath == "" {
		return nil, errors.New("modes path is empty")
	}
	modesPath, err = filepath.Abs(modesPath)
	if err != nil {
		return nil, fmt.Errorf("resolve modes path: %w", err)
	}

	return &Repository{modesPath: filepath.Clean(modesPath), mu: lockForPath(modesPath)}, nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (domain.ModeProfile, error) {
	profiles, err := r.List(ctx)
	if err != nil {
		return domain.ModeProfile{}, err
	}

	for _, profile := range profiles {
		if profile.Name == name {
			return profile, nil
		}
	}

	return domain.ModeProfile{}, fmt.Errorf("mode %q is not defined", name)
}

func (r *Repository) List(ctx context.Context) ([]domain.ModeProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	profiles := make([]domain.ModeProfile, 0, len(file.Modes)+2)
	seen := map[string]struct{}{}
	for _, entry := range file.Modes {
		profiles = append(profiles, fromSchema(entry))
		seen[entry.Name] = struct{}{}
	}

	// Built-ins fill in whatever the file does not define.
	for _, builtin := range builtinProfiles() {
		if _, ok := seen[builtin.Name]; !ok {
			profiles = append(profiles, builtin)
		}
	}

	return profiles, nil
}

// Save persists one profile, replacing a same-named entry.
func (r *Repository) Save(ctx context.Context, profile domain.ModeProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(profile)
	updated := false
	for i := range file.Modes {
		if file.Modes[i].Name == encoded.Name {
			file.Modes[i] = encoded
			updated = true
			break
		}
	}
	if !updated {
		file.Modes = append(file.Modes, encoded)
	}

	return r.writeSchema(file)
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.modesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read modes file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode modes file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}

	return file, nil
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.modesPath), modesDirMode); err != nil {
		return fmt.Errorf("create modes directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode modes file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.modesPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp modes file: %w", err)
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
		return fmt.Errorf("write temp modes file: %w", err)
	}
	if err := tempFile.Chmod(modesFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp modes file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp modes file: %w", err)
	}

	if err := os.Rename(tempName, r.modesPath); err != nil {
		return fmt.Errorf("replace modes file: %w", err)
	}
	cleanup = false

	return nil
}

// builtinProfiles launches a position-independent kernel image under QEMU
// with the remote-debug endpoint open and the console routed to the serial
// sink the transport provides.
func builtinProfiles() []domain.ModeProfile {
	baseArgs := []string{
		"-drive", "format=raw,file={target}",
		"-serial", "stdio",
		"-display", "none",
		"-no-reboot",
		"-gdb", "tcp::{port}",
		"-S",
	}

	return []domain.ModeProfile{
		{
			Name:        string(domain.ModeUEFI),
			Emulator:    "qemu-system-x86_64",
			Args:        append([]string{"-bios", "/usr/share/ovmf/OVMF.fd"}, baseArgs...),
			BootWait:    8 * time.Second,
			Description: "UEFI boot with OVMF firmware",
		},
		{
			Name:        string(domain.ModeBIOS),
			Emulator:    "qemu-system-x86_64",
			Args:        baseArgs,
			BootWait:    3 * time.Second,
			Description: "Legacy BIOS boot",
		},
	}
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
