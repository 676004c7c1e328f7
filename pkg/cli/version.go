package cli

import (
	"fmt"
	"strings"

	"github.com/aretw0/fantasm"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fantasm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fantasm version %s\n", strings.TrimSpace(fantasm.Version))
		},
	}
}
