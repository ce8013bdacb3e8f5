package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModesCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "modes",
		Short: "List emulator boot mode profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, err := app.modes.List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(profiles)
			}

			out := cmd.OutOrStdout()
			for _, profile := range profiles {
				description := profile.Description
				if description == "" {
					description = strings.Join(profile.Args, " ")
				}
				if _, err := fmt.Fprintf(out, "%-12s %-24s boot wait %-4s %s\n",
					profile.Name, profile.Emulator, profile.BootWait, description); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit mode profiles as JSON")

	return cmd
}
