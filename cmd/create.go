package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bnema/kdbg/internal/daemon"
	"github.com/bnema/kdbg/internal/domain"
)

func newCreateCmd(app *app) *cobra.Command {
	var mode string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create <kernel-image>",
		Short: "Boot a kernel image under the emulator and attach the debugger",
		Long:  "create spawns QEMU with the image, attaches gdb over the remote protocol, loads symbols at the kernel's runtime base and records the session for later exec/stop invocations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve target path: %w", err)
			}
			if _, err := os.Stat(target); err != nil {
				return fmt.Errorf("target image: %w", err)
			}

			client, err := daemon.EnsureDaemon(app.socket, app.logger)
			if err != nil {
				return err
			}

			var session domain.Session
			boot := func(_ context.Context) error {
				var createErr error
				session, createErr = client.Create(target, mode)
				return createErr
			}
			if err := runBootSpinner(cmd.Context(), cmd.ErrOrStderr(), target, mode, boot); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(session)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Session %s created (%s, gdb pid %d, qemu pid %d)\n",
				session.ID, session.Mode, session.DebuggerPID, session.EmulatorPID)
			return err
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "uefi", "boot mode profile (uefi, bios, or a custom mode)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the session record as JSON")

	return cmd
}
