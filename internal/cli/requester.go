// ABOUTME: requester run: advertise until attached and take commands from stdin
// ABOUTME: help asks the coordinator for help, leave unsubscribes, status shows the resource

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/requester"
	"github.com/2389/wardlink/internal/ward"
)

func newRequesterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requester",
		Short: "Run the requesting side of a pairing",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Advertise to the coordinator and wait to be attached",
		Long: `Advertise to the coordinator and wait to be attached.

Once attached, type a command and press enter:

  help     ask the coordinator for help
  status   show the attached resource
  leave    unsubscribe and exit
  quit     exit without unsubscribing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()

			printBanner(out,
				[2]string{"Config", e.configPath},
				[2]string{"Identity", e.cfg.Identity},
				[2]string{"Coordinator", addr(e.cfg.Network.CoordinatorAddress, e.cfg.Network.DiscoveryPort)},
				[2]string{"Pairing", addr(e.cfg.Network.LocalAddress, e.cfg.Network.PairingPort)},
			)

			feed := events.NewBroadcaster(e.logger)
			defer feed.Close()
			agent := requester.New(requesterOptions(e.cfg), e.logger, feed)
			att := ward.NewAttendant(agent, e.tel, e.logger)

			feedCtx, stopFeed := context.WithCancel(ctx)
			feedDone := printFeed(feedCtx, out, feed, agent.Identity())
			defer func() {
				stopFeed()
				<-feedDone
			}()

			runDone := make(chan error, 1)
			go func() {
				runDone <- att.Run(ctx, func(resourceID string) {
					color.New(color.FgGreen).Fprintf(out, "    attached to resource %s, type help, status or leave\n", resourceID)
				})
			}()

			go readCommands(ctx, cmd.InOrStdin(), out, att, cancel)

			return <-runDone
		},
	})
	return cmd
}

// readCommands handles stdin lines until input ends or ctx is done.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, att *ward.Attendant, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		var err error
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			continue
		case "h", "help":
			err = att.Help(ctx)
		case "s", "status":
			var st ward.Status
			if st, err = att.Status(ctx); err == nil {
				fmt.Fprintf(out, "    %s (%s) is %s, coordinator %s\n", st.Name, st.ID, st.State, st.Coordinator)
			}
		case "l", "leave":
			err = att.Leave(ctx)
		case "q", "quit", "exit":
			quit()
			return
		default:
			err = fmt.Errorf("unknown command %q", scanner.Text())
		}
		if err != nil {
			color.New(color.FgYellow).Fprintf(out, "    %v\n", err)
		}
	}
}
