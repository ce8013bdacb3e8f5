package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/kdbg/internal/daemon"
)

func newDaemonCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the session daemon",
		Long:  "The daemon owns the emulator/debugger process pairs. create and exec start it on demand; it runs until stopped.",
	}

	cmd.AddCommand(
		newDaemonRunCmd(app),
		newDaemonStopCmd(app),
	)

	return cmd
}

func newDaemonRunCmd(app *app) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if socket == "" {
				socket = app.socket
			}

			server := daemon.NewServer(app.service, socket, app.logger)
			if err := server.Listen(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "unix socket path (defaults to the daemon.socket config key)")

	return cmd
}

func newDaemonStopCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon, tearing down its live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := daemon.NewClient(app.socket).Shutdown(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return err
		},
	}
}
