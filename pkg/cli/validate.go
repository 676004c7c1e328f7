package cli

import (
	"fmt"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *Options, reg *action.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the machine definitions for consistency",
		Long:  `Parses the definition file and resolves every machine, reporting the first configuration error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(opts, reg)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			for _, m := range g.Machines() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d states, initial '%s'\n", m.Name, len(m.States()), m.Initial().Name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Machines are valid!")
			return nil
		},
	}
}
