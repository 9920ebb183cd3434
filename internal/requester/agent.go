// ABOUTME: Requester agent: broadcast, wait for attach and detach, send requests
// ABOUTME: Each long-running call owns a named loop handle in the session

package requester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/session"
	"github.com/2389/wardlink/internal/transport"
	"github.com/2389/wardlink/internal/wire"
)

// Default timings.
const (
	DefaultBroadcastInterval = 250 * time.Millisecond
	DefaultDialTimeout       = 2 * time.Second
)

// Options configures an Agent. Zero values take the protocol defaults.
type Options struct {
	Identity string

	// LocalAddress is where the pairing listener binds.
	LocalAddress string
	// CoordinatorAddress is dialled with Broadcast while advertising.
	CoordinatorAddress string

	DiscoveryPort int
	PairingPort   int
	SessionPort   int

	BroadcastInterval time.Duration
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.LocalAddress == "" {
		o.LocalAddress = "127.0.0.1"
	}
	if o.CoordinatorAddress == "" {
		o.CoordinatorAddress = "127.0.0.1"
	}
	if o.DiscoveryPort == 0 {
		o.DiscoveryPort = wire.DefaultDiscoveryPort
	}
	if o.PairingPort == 0 {
		o.PairingPort = wire.DefaultPairingPort
	}
	if o.SessionPort == 0 {
		o.SessionPort = wire.DefaultSessionPort
	}
	if o.BroadcastInterval <= 0 {
		o.BroadcastInterval = DefaultBroadcastInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = transport.DefaultReadTimeout
	}
	return o
}

// Agent is one requester. It is safe for concurrent use, but Advertise and
// AwaitDetach share the pairing port and must not overlap.
type Agent struct {
	opts    Options
	sess    *session.Session
	logger  *slog.Logger
	publish events.Publisher
}

// New creates a requester. logger may be nil; pub may be nil.
func New(opts Options, logger *slog.Logger, pub events.Publisher) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Agent{
		opts:    opts,
		sess:    session.New(opts.Identity),
		logger:  logger.With("component", "requester", "identity", opts.Identity),
		publish: pub,
	}
}

// Identity returns the identity this agent broadcasts.
func (a *Agent) Identity() string { return a.sess.Self() }

// State returns the current protocol phase.
func (a *Agent) State() session.State { return a.sess.State() }

// Peer returns the bound coordinator and resource.
func (a *Agent) Peer() (session.Contact, string, bool) { return a.sess.Binding() }

// Advertise broadcasts this agent to the coordinator until one attaches it,
// and returns the resource it was attached to. When ctx ends first it
// returns the cancellation cause and the agent goes back to Idle.
func (a *Agent) Advertise(ctx context.Context) (string, error) {
	if err := transport.CheckAddress(a.opts.CoordinatorAddress); err != nil {
		return "", fmt.Errorf("advertising: %w", err)
	}

	attachCtx, doneAttach, err := a.sess.StartLoop(ctx, session.LoopAttach)
	if err != nil {
		return "", fmt.Errorf("advertising: %w", err)
	}
	defer doneAttach()

	ln, err := a.listen()
	if err != nil {
		return "", fmt.Errorf("opening pairing listener: %w", err)
	}
	defer ln.Close()

	bcastCtx, doneBcast, err := a.sess.StartLoop(attachCtx, session.LoopAdvertise)
	if err != nil {
		return "", fmt.Errorf("advertising: %w", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.broadcast(bcastCtx)
	}()
	stopBroadcast := func() {
		doneBcast()
		wg.Wait()
	}
	defer stopBroadcast()

	a.sess.SetState(session.StateAdvertising)
	a.logger.Info("advertising", "coordinator", a.opts.CoordinatorAddress, "pairing_addr", ln.Addr())

	for {
		cmd, host, err := ln.Next(attachCtx)
		if err != nil {
			a.sess.SetState(session.StateIdle)
			if attachCtx.Err() != nil {
				return "", context.Cause(attachCtx)
			}
			return "", fmt.Errorf("waiting for attach: %w", err)
		}

		connect, ok := cmd.(wire.Connect)
		if !ok {
			a.logger.Debug("ignoring command on pairing address", "keyword", cmd.Keyword(), "from", host)
			continue
		}

		stopBroadcast()
		peer := session.Contact{Identity: connect.Identity, Address: host}
		a.sess.Bind(peer, connect.ResourceID)
		a.logger.Info("attached", "coordinator", peer.String(), "resource", connect.ResourceID)
		a.emit(events.KindAttached, peer, connect.ResourceID)
		return connect.ResourceID, nil
	}
}

// AwaitDetach waits on the pairing address for the coordinator to detach
// this agent and returns the Disconnect confirmation flag.
func (a *Agent) AwaitDetach(ctx context.Context) (bool, error) {
	if _, _, ok := a.sess.Binding(); !ok {
		return false, session.ErrNoPeerBound
	}

	loopCtx, done, err := a.sess.StartLoop(ctx, session.LoopDetach)
	if err != nil {
		return false, fmt.Errorf("awaiting detach: %w", err)
	}
	defer done()

	ln, err := a.listen()
	if err != nil {
		return false, fmt.Errorf("opening pairing listener: %w", err)
	}
	defer ln.Close()

	for {
		cmd, host, err := ln.Next(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				return false, context.Cause(loopCtx)
			}
			return false, fmt.Errorf("waiting for detach: %w", err)
		}

		disconnect, ok := cmd.(wire.Disconnect)
		if !ok {
			a.logger.Debug("ignoring command on pairing address", "keyword", cmd.Keyword(), "from", host)
			continue
		}

		peer, resource, _ := a.sess.Binding()
		a.sess.Clear(session.StateTornDown)
		a.logger.Info("detached", "coordinator", peer.String(), "resource", resource, "confirm", disconnect.Confirm)
		a.emit(events.KindDetached, peer, resource)
		return disconnect.Confirm, nil
	}
}

// SendRequest asks the bound coordinator for help with the bound resource.
// It performs no network I/O when unbound.
func (a *Agent) SendRequest(ctx context.Context) error {
	peer, resource, ok := a.sess.Binding()
	if !ok {
		return session.ErrNoPeerBound
	}

	err := transport.Deliver(ctx, peer.Address, a.opts.SessionPort, a.opts.DialTimeout, wire.Request{ResourceID: resource})
	if err != nil {
		return fmt.Errorf("%w: requesting help for %s: %w", session.ErrPeerUnreachable, resource, err)
	}

	a.logger.Info("help requested", "coordinator", peer.String(), "resource", resource)
	a.emit(events.KindRequested, peer, resource)
	return nil
}

// SendUnsubscribe tells the bound coordinator this agent is leaving, then
// cancels every running loop and clears the binding.
func (a *Agent) SendUnsubscribe(ctx context.Context) error {
	peer, resource, ok := a.sess.Binding()
	if !ok {
		return session.ErrNoPeerBound
	}

	err := transport.Deliver(ctx, peer.Address, a.opts.DiscoveryPort, a.opts.DialTimeout, wire.Unsubscribe{Identity: a.sess.Self()})
	if err != nil {
		return fmt.Errorf("%w: unsubscribing from %s: %w", session.ErrPeerUnreachable, peer.Identity, err)
	}

	cancelled := a.sess.CancelLoops(session.ErrUnsubscribed)
	a.sess.Clear(session.StateTornDown)
	a.logger.Info("unsubscribed", "coordinator", peer.String(), "resource", resource, "cancelled_loops", cancelled)
	a.emit(events.KindUnsubscribed, peer, resource)
	return nil
}

// broadcast announces this agent every interval until ctx ends.
func (a *Agent) broadcast(ctx context.Context) {
	ticker := time.NewTicker(a.opts.BroadcastInterval)
	defer ticker.Stop()

	msg := wire.Broadcast{Identity: a.sess.Self()}
	for {
		err := transport.Deliver(ctx, a.opts.CoordinatorAddress, a.opts.DiscoveryPort, a.opts.DialTimeout, msg)
		if err != nil && ctx.Err() == nil {
			// No coordinator collecting right now; try again next tick.
			a.logger.Debug("broadcast not delivered", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) listen() (*transport.Listener, error) {
	ln, err := transport.Listen(a.opts.LocalAddress, a.opts.PairingPort)
	if err != nil {
		return nil, err
	}
	ln.ReadTimeout = a.opts.ReadTimeout
	ln.OnDrop = func(err error) {
		a.logger.Debug("dropped connection on pairing address", "error", err)
	}
	return ln, nil
}

func (a *Agent) emit(kind events.Kind, peer session.Contact, resource string) {
	if a.publish == nil {
		return
	}
	a.publish.Publish(events.New(kind, a.sess.Self(), peer, resource))
}

// IsPassive reports whether err is the normal end of a listening call
// rather than a failure: plain cancellation or an unsubscribe.
func IsPassive(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, session.ErrUnsubscribed)
}
