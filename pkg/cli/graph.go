package cli

import (
	"fmt"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/spf13/cobra"
)

func newGraphCmd(opts *Options, reg *action.Registry) *cobra.Command {
	var machine string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export machine diagrams",
		Long:  `Outputs a Mermaid diagram (graph TD) for one machine, or for every machine in the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(opts, reg)
			if err != nil {
				return err
			}
			machines := g.Machines()
			if machine != "" {
				m, err := g.Machine(machine)
				if err != nil {
					return err
				}
				machines = []*graph.Machine{m}
			}
			for i, m := range machines {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprint(cmd.OutOrStdout(), graph.Mermaid(m))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&machine, "machine", "m", "", "Only draw this machine")
	return cmd
}
