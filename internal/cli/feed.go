// ABOUTME: Prints pairing lifecycle events from the broadcaster as they happen
// ABOUTME: Also maps config sections onto agent options

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/2389/wardlink/internal/config"
	"github.com/2389/wardlink/internal/coordinator"
	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/requester"
)

// printFeed writes every event agent emits until ctx ends. It returns a
// channel closed once the feed has stopped.
func printFeed(ctx context.Context, w io.Writer, b *events.Broadcaster, agent string) <-chan struct{} {
	ch, _ := b.Subscribe(ctx, agent)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for ev := range ch {
			fmt.Fprintln(w, formatEvent(ev))
		}
	}()
	return stopped
}

func formatEvent(ev *events.Event) string {
	ts := color.HiBlackString(ev.Timestamp.Local().Format("15:04:05"))
	var kind string
	switch ev.Kind {
	case events.KindAttached:
		kind = color.GreenString("attached    ")
	case events.KindDetached:
		kind = color.YellowString("detached    ")
	case events.KindRequested:
		kind = color.New(color.FgRed, color.Bold).Sprint("help        ")
	case events.KindUnsubscribed:
		kind = color.YellowString("unsubscribed")
	default:
		kind = string(ev.Kind)
	}
	line := fmt.Sprintf("%s %s %s", ts, kind, ev.Peer.String())
	if ev.ResourceID != "" {
		line += color.HiBlackString(" resource=") + ev.ResourceID
	}
	return line
}

func coordinatorOptions(cfg *config.Config) coordinator.Options {
	return coordinator.Options{
		Identity:      cfg.Identity,
		LocalAddress:  cfg.Network.LocalAddress,
		DiscoveryPort: cfg.Network.DiscoveryPort,
		PairingPort:   cfg.Network.PairingPort,
		SessionPort:   cfg.Network.SessionPort,
		QuietPeriod:   cfg.Timing.QuietPeriod,
		DialTimeout:   cfg.Timing.DialTimeout,
		ReadTimeout:   cfg.Timing.ReadTimeout,
	}
}

func requesterOptions(cfg *config.Config) requester.Options {
	return requester.Options{
		Identity:           cfg.Identity,
		LocalAddress:       cfg.Network.LocalAddress,
		CoordinatorAddress: cfg.Network.CoordinatorAddress,
		DiscoveryPort:      cfg.Network.DiscoveryPort,
		PairingPort:        cfg.Network.PairingPort,
		SessionPort:        cfg.Network.SessionPort,
		BroadcastInterval:  cfg.Timing.BroadcastInterval,
		DialTimeout:        cfg.Timing.DialTimeout,
		ReadTimeout:        cfg.Timing.ReadTimeout,
	}
}
