// ABOUTME: coordinator subcommands: discover advertising requesters, serve one resource
// ABOUTME: serve claims, attaches, watches for help and detaches on shutdown

package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wardlink/internal/coordinator"
	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/session"
	"github.com/2389/wardlink/internal/ward"
)

// shutdownTimeout bounds the detach sent after the command is interrupted.
const shutdownTimeout = 3 * time.Second

func newCoordinatorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the supervising side of a pairing",
	}
	cmd.AddCommand(newDiscoverCmd(a), newServeCmd(a))
	return cmd
}

func newDiscoverCmd(a *app) *cobra.Command {
	var quiet time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List requesters currently advertising",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.env(cmd)
			if err != nil {
				return err
			}

			agent := coordinator.New(coordinatorOptions(e.cfg), e.logger, nil)
			found, err := agent.CollectRequesters(cmd.Context(), quiet)
			if err != nil {
				return fmt.Errorf("discovering requesters: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, "no requesters found")
				return nil
			}
			for _, c := range found {
				fmt.Fprintf(out, "%s\t%s\n", c.Identity, c.Address)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 0, "stop after this long without a new requester (default from config)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var requesterName, resourceID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach a requester to a resource and report its help requests",
		Args:  cobra.NoArgs,
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

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			printBanner(out,
				[2]string{"Config", e.configPath},
				[2]string{"Identity", e.cfg.Identity},
				[2]string{"Discovery", addr(e.cfg.Network.LocalAddress, e.cfg.Network.DiscoveryPort)},
				[2]string{"Session", addr(e.cfg.Network.LocalAddress, e.cfg.Network.SessionPort)},
				[2]string{"Resource", resourceID},
			)

			feed := events.NewBroadcaster(e.logger)
			defer feed.Close()
			agent := coordinator.New(coordinatorOptions(e.cfg), e.logger, feed)
			sup := ward.NewSupervisor(agent, reg, e.tel, ward.SupervisorConfig{
				Address:         e.cfg.Network.LocalAddress,
				RequestCooldown: e.cfg.Timing.RequestCooldown,
			}, e.logger)

			feedCtx, stopFeed := context.WithCancel(ctx)
			feedDone := printFeed(feedCtx, out, feed, agent.Identity())
			defer func() {
				stopFeed()
				<-feedDone
			}()

			if err := sup.Claim(ctx, resourceID); err != nil {
				return err
			}
			defer releaseClaim(sup, resourceID)

			found, err := sup.Discover(ctx)
			if err != nil {
				return fmt.Errorf("discovering requesters: %w", err)
			}
			peer, err := pick(found, requesterName)
			if err != nil {
				return err
			}
			if err := sup.Attach(ctx, peer, resourceID); err != nil {
				return err
			}

			err = sup.Watch(ctx, func(alert ward.Alert) {
				name := alert.Resource.Name
				if name == "" {
					name = alert.Resource.ID
				}
				color.New(color.FgRed, color.Bold).Fprintf(out, "    ! %s needs help with %s\n", alert.Requester.Identity, name)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}

			// Interrupted while still attached: release the requester.
			if _, _, bound := agent.Peer(); bound {
				detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := sup.Detach(detachCtx); err != nil {
					e.logger.Warn("failed to detach requester on shutdown", "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requesterName, "requester", "", "identity of the requester to attach (default: the only one found)")
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id to attach the requester to")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

func releaseClaim(sup *ward.Supervisor, resourceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = sup.Release(ctx, resourceID)
}

// pick chooses the requester to attach. With no name there must be
// exactly one candidate.
func pick(found []session.Contact, name string) (session.Contact, error) {
	if name == "" {
		switch len(found) {
		case 0:
			return session.Contact{}, fmt.Errorf("no requesters found")
		case 1:
			return found[0], nil
		default:
			return session.Contact{}, fmt.Errorf("%d requesters found, choose one with --requester", len(found))
		}
	}
	for _, c := range found {
		if c.Identity == name {
			return c, nil
		}
	}
	return session.Contact{}, fmt.Errorf("requester %q not found", name)
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
