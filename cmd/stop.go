package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/kdbg/internal/daemon"
	"github.com/bnema/kdbg/internal/domain"
)

func newStopCmd(app *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Tear down a session and remove its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.SessionID(args[0])

			stats, err := app.stopSession(cmd.Context(), id, force)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Session %s stopped: %d commands over %ds\n",
				stats.SessionID, stats.TotalCommands, stats.Duration)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "kill the processes immediately instead of quitting gracefully")

	return cmd
}

// stopSession goes through the daemon when one is running; otherwise the
// registry-direct path signals the recorded pids itself, so orphaned
// sessions are still stoppable.
func (a *app) stopSession(ctx context.Context, id domain.SessionID, force bool) (domain.StopStats, error) {
	client := daemon.NewClient(a.socket)
	if err := client.Ping(); err == nil {
		return client.Stop(id, force)
	}

	return a.service.Destroy(ctx, id, force)
}
