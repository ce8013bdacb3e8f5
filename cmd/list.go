package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	sessionsadapter "github.com/bnema/kdbg/internal/adapters/render/sessions"
	"github.com/bnema/kdbg/internal/daemon"
	"github.com/bnema/kdbg/internal/domain"
)

func newListCmd(app *app) *cobra.Command {
	var asJSON bool
	var prune bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions with process liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := app.listSessions(cmd.Context(), prune)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}

			rendered, err := app.sessionRenderer(statuses, sessionsadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render sessions: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit session statuses as JSON")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove records whose processes are both gone")

	return cmd
}

// listSessions asks the daemon when one is running, so live sessions report
// accurate command counts, and falls back to the registry when none is.
func (a *app) listSessions(ctx context.Context, prune bool) ([]domain.SessionStatus, error) {
	client := daemon.NewClient(a.socket)
	if err := client.Ping(); err == nil {
		return client.List(prune)
	}

	return a.service.List(ctx, prune)
}
