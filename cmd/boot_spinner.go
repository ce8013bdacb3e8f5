package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type bootDoneMsg struct {
	err error
}

// bootSpinnerModel animates the create wait: emulator boot plus the debugger
// handshake can take several seconds, so the view names what is booting and
// how long it has been at it.
type bootSpinnerModel struct {
	spinner   spinner.Model
	image     string
	mode      string
	startedAt time.Time
	boot      tea.Cmd
	err       error
	done      bool
}

func newBootSpinnerModel(target, mode string, boot tea.Cmd) bootSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return bootSpinnerModel{
		spinner:   s,
		image:     filepath.Base(target),
		mode:      mode,
		startedAt: time.Now(),
		boot:      boot,
	}
}

func (m bootSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.boot)
}

func (m bootSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case bootDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m bootSpinnerModel) View() string {
	if m.done {
		return ""
	}

	// Spinner ticks drive the re-render, so the elapsed time advances with
	// the animation.
	elapsed := time.Since(m.startedAt).Round(time.Second)
	return fmt.Sprintf("%s Booting %s (%s mode), attaching debugger... %s",
		m.spinner.View(), m.image, m.mode, elapsed)
}

func runBootSpinner(ctx context.Context, output io.Writer, target, mode string, boot func(context.Context) error) error {
	bootCmd := func() tea.Msg {
		return bootDoneMsg{err: boot(ctx)}
	}

	p := tea.NewProgram(
		newBootSpinnerModel(target, mode, bootCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(bootSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}
