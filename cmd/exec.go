package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/kdbg/internal/domain"
)

// commandRunner executes debugger commands against a session. The daemon
// client satisfies it; tests substitute a scripted one.
type commandRunner interface {
	Execute(id domain.SessionID, command string, timeout, interruptAfter time.Duration) (domain.CommandResult, error)
}

func newExecCmd(app *app) *cobra.Command {
	var timeout time.Duration
	var interruptAfter time.Duration

	cmd := &cobra.Command{
		Use:   "exec <session-id> <command>...",
		Short: "Execute debugger commands in a session",
		Long: "exec sends each argument to a live session as one gdb command, in order, and prints one structured JSON result per command. " +
			"Quote multi-word commands (e.g. \"break kernel_main\"). The pseudo commands \"serial\" and \"serial-new\" read the emulator console instead of the debugger.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.SessionID(args[0])
			commands := args[1:]

			runner, err := app.execRunner()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			failed := 0
			for _, command := range commands {
				result, err := runner.Execute(id, command, timeout, interruptAfter)
				if err != nil {
					// Session-level failure: the remaining commands have no
					// session to run against.
					return err
				}
				if err := enc.Encode(result); err != nil {
					return err
				}
				if !result.Success {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d commands failed", failed, len(commands))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the per-command deadline (e.g. 2m)")
	cmd.Flags().DurationVar(&interruptAfter, "interrupt-after", 0, "break into a resumed target after this duration")

	return cmd
}
