package toml

import (
	"fmt"
	"time"

	"github.com/bnema/kdbg/internal/domain"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version int          `toml:"version"`
	Modes   []modeSchema `toml:"modes"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported modes schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type modeSchema struct {
	Name            string   `toml:"name"`
	Emulator        string   `toml:"emulator"`
	Args            []string `toml:"args"`
	BootWaitSeconds int      `toml:"boot_wait_seconds,omitempty"`
	Description     string   `toml:"description,omitempty"`
}

func toSchema(profile domain.ModeProfile) modeSchema {
	return modeSchema{
		Name:            profile.Name,
		Emulator:        profile.Emulator,
		Args:            profile.Args,
		BootWaitSeconds: int(profile.BootWait / time.Second),
		Description:     profile.Description,
	}
}

func fromSchema(entry modeSchema) domain.ModeProfile {
	return domain.ModeProfile{
		Name:        entry.Name,
		Emulator:    entry.Emulator,
		Args:        entry.Args,
		BootWait:    time.Duration(entry.BootWaitSeconds) * time.Second,
		Description: entry.Description,
	}
}
