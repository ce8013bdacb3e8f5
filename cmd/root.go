package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kdbg",
		Short:         "Kernel debugger session controller: drive gdb attached to QEMU",
		Long:          "kdbg boots a kernel image under QEMU with a gdb attached over the remote protocol, keeps the pair alive across invocations, and executes debugger commands with structured output.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newCreateCmd(app),
		newExecCmd(app),
		newListCmd(app),
		newStopCmd(app),
		newModesCmd(app),
		newDaemonCmd(app),
	)

	return rootCmd
}
