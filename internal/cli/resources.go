// ABOUTME: locations and status subcommands backed by telemetry and the registry
// ABOUTME: Read-only views; nothing here touches the pairing protocol

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wardlink/internal/coordinator"
	"github.com/2389/wardlink/internal/ward"
)

func newLocationsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List locations and the resources placed in them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}

			sup := ward.NewSupervisor(coordinator.New(coordinatorOptions(e.cfg), e.logger, nil), nil, e.tel, ward.SupervisorConfig{}, e.logger)
			locs, err := sup.Locations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			for _, loc := range locs {
				bold.Fprintf(out, "%s", loc.Name)
				fmt.Fprintf(out, " (%s)\n", loc.ID)
				for _, r := range loc.Resources {
					fmt.Fprintf(out, "  %-6s %s\n", r.ID, r.Name)
				}
			}
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status RESOURCE",
		Short: "Show a resource's state and who is assigned to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}
			reg, err := e.openRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			sup := ward.NewSupervisor(coordinator.New(coordinatorOptions(e.cfg), e.logger, nil), reg, e.tel, ward.SupervisorConfig{}, e.logger)
			st, err := sup.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Resource:\t%s (%s)\n", st.Name, st.ID)
			fmt.Fprintf(tw, "State:\t%s\n", st.State)
			fmt.Fprintf(tw, "Coordinator:\t%s\n", st.Coordinator)
			if len(st.Requesters) == 0 {
				fmt.Fprintf(tw, "Requesters:\t%s\n", "<none>")
			}
			for i, r := range st.Requesters {
				label := ""
				if i == 0 {
					label = "Requesters:"
				}
				fmt.Fprintf(tw, "%s\t%s\n", label, r)
			}
			return tw.Flush()
		},
	}
}
