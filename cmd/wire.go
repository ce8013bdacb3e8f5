package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/kdbg/internal/adapters/elf"
	"github.com/bnema/kdbg/internal/adapters/proc"
	sessionsadapter "github.com/bnema/kdbg/internal/adapters/render/sessions"
	"github.com/bnema/kdbg/internal/adapters/repo/sessionfile"
	tomlrepo "github.com/bnema/kdbg/internal/adapters/repo/toml"
	"github.com/bnema/kdbg/internal/adapters/transport/qemu"
	"github.com/bnema/kdbg/internal/application"
	"github.com/bnema/kdbg/internal/daemon"
	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/ports"
)

type app struct {
	cfg             *viper.Viper
	logger          *slog.Logger
	socket          string
	service         *application.Service
	modes           ports.ModeRepository
	sessionRenderer func([]domain.SessionStatus, sessionsadapter.RenderOptions) (string, error)
	execRunner      func() (commandRunner, error)
	now             func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.GetString("log.level"))

	sessionsRepo, err := sessionfile.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire session registry: %w", err)
	}

	modesRepo, err := tomlrepo.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire mode repository: %w", err)
	}

	gdbPort := cfg.GetInt("gdb.port")
	factory := qemu.NewFactory(qemu.Config{
		GDBPath: cfg.GetString("gdb.path"),
		GDBPort: gdbPort,
		Logger:  logger,
	})

	service := application.NewService(
		sessionsRepo,
		modesRepo,
		factory,
		qemu.CursorFactory{},
		elf.Reader{},
		proc.Prober{},
		ports.SystemClock{},
		logger,
		application.Config{
			GDBPort:    gdbPort,
			KernelBase: cfg.GetUint64("kernel.base"),
		},
	)

	a := &app{
		cfg:             cfg,
		logger:          logger,
		socket:          cfg.GetString("daemon.socket"),
		service:         service,
		modes:           modesRepo,
		sessionRenderer: sessionsadapter.Render,
		now:             time.Now,
	}
	a.execRunner = func() (commandRunner, error) {
		return daemon.EnsureDaemon(a.socket, a.logger)
	}

	return a, nil
}

func loadConfig() (*viper.Viper, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg := viper.New()
	cfg.SetEnvPrefix("KDBG")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault("daemon.socket", filepath.Join(homeDir, ".kdbg", "daemon.sock"))
	cfg.SetDefault("gdb.path", "gdb")
	cfg.SetDefault("gdb.port", 1234)
	cfg.SetDefault("kernel.base", uint64(0x10000000000))
	cfg.SetDefault("log.level", "warn")

	cfg.AddConfigPath(filepath.Join(homeDir, ".kdbg"))
	cfg.SetConfigName("config")
	cfg.SetConfigType("toml")
	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
