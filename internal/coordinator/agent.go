// ABOUTME: Coordinator agent: collect broadcasts, attach and detach a requester
// ABOUTME: Listens for requests and unsubscribes under named session loop handles

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/session"
	"github.com/2389/wardlink/internal/transport"
	"github.com/2389/wardlink/internal/wire"
)

// Default timings.
const (
	DefaultQuietPeriod = 2 * time.Second
	DefaultDialTimeout = 2 * time.Second
)

// Options configures an Agent. Zero values take the protocol defaults.
type Options struct {
	Identity     string
	LocalAddress string

	DiscoveryPort int
	PairingPort   int
	SessionPort   int

	QuietPeriod time.Duration
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.LocalAddress == "" {
		o.LocalAddress = "127.0.0.1"
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
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = transport.DefaultReadTimeout
	}
	return o
}

// Agent is one coordinator with at most one attached requester.
type Agent struct {
	opts    Options
	sess    *session.Session
	logger  *slog.Logger
	publish events.Publisher
}

// New creates a coordinator. logger may be nil; pub may be nil.
func New(opts Options, logger *slog.Logger, pub events.Publisher) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Agent{
		opts:    opts,
		sess:    session.New(opts.Identity),
		logger:  logger.With("component", "coordinator", "identity", opts.Identity),
		publish: pub,
	}
}

// Identity returns the identity sent in Connect.
func (a *Agent) Identity() string { return a.sess.Self() }

// State returns the current protocol phase.
func (a *Agent) State() session.State { return a.sess.State() }

// Peer returns the attached requester and its resource.
func (a *Agent) Peer() (session.Contact, string, bool) { return a.sess.Binding() }

// ActiveLoops lists the named loops currently running.
func (a *Agent) ActiveLoops() []string { return a.sess.ActiveLoops() }

// CollectRequesters gathers the distinct requesters that broadcast on the
// discovery address, in the order they were first seen. It returns once
// quiet passes without a new identity; quiet <= 0 uses the configured
// quiet period. On cancellation it returns what was gathered with the
// cancellation cause.
func (a *Agent) CollectRequesters(ctx context.Context, quiet time.Duration) ([]session.Contact, error) {
	if quiet <= 0 {
		quiet = a.opts.QuietPeriod
	}

	loopCtx, done, err := a.sess.StartLoop(ctx, session.LoopCollect)
	if err != nil {
		return nil, fmt.Errorf("collecting requesters: %w", err)
	}
	defer done()

	ln, err := a.listen(a.opts.DiscoveryPort, "discovery")
	if err != nil {
		return nil, fmt.Errorf("opening discovery listener: %w", err)
	}
	defer ln.Close()

	a.sess.SetState(session.StateCollecting)
	defer a.settle()

	var found []session.Contact
	seen := make(map[string]struct{})
	deadline := time.Now().Add(quiet)

	for {
		waitCtx, cancel := context.WithDeadline(loopCtx, deadline)
		cmd, host, err := ln.Next(waitCtx)
		cancel()

		if err != nil {
			if loopCtx.Err() != nil {
				return found, context.Cause(loopCtx)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				a.logger.Info("collection window closed", "requesters", len(found))
				return found, nil
			}
			return found, fmt.Errorf("collecting requesters: %w", err)
		}

		b, ok := cmd.(wire.Broadcast)
		if !ok {
			a.logger.Debug("ignoring command while collecting", "keyword", cmd.Keyword(), "from", host)
			continue
		}
		if _, dup := seen[b.Identity]; dup {
			continue
		}

		seen[b.Identity] = struct{}{}
		found = append(found, session.Contact{Identity: b.Identity, Address: host})
		deadline = time.Now().Add(quiet)
		a.logger.Debug("requester discovered", "requester", b.Identity, "address", host)
	}
}

// Attach binds peer to resourceID and sends it Connect. The binding is
// kept when the peer cannot be reached, so the caller may retry or detach.
func (a *Agent) Attach(ctx context.Context, peer session.Contact, resourceID string) error {
	if peer.IsZero() {
		return session.ErrEmptyContact
	}

	a.sess.Bind(peer, resourceID)

	msg := wire.Connect{Identity: a.sess.Self(), ResourceID: resourceID}
	if err := transport.Deliver(ctx, peer.Address, a.opts.PairingPort, a.opts.DialTimeout, msg); err != nil {
		return fmt.Errorf("%w: attaching %s: %w", session.ErrPeerUnreachable, peer.Identity, err)
	}

	a.logger.Info("requester attached", "requester", peer.String(), "resource", resourceID)
	a.emit(events.KindAttached, peer, resourceID)
	return nil
}

// Detach sends Disconnect to the attached peer and clears the binding once
// the send succeeds. No acknowledgement is awaited.
func (a *Agent) Detach(ctx context.Context) error {
	peer, resource, ok := a.sess.Binding()
	if !ok {
		return session.ErrNoPeerBound
	}

	msg := wire.Disconnect{Confirm: true}
	if err := transport.Deliver(ctx, peer.Address, a.opts.PairingPort, a.opts.DialTimeout, msg); err != nil {
		return fmt.Errorf("%w: detaching %s: %w", session.ErrPeerUnreachable, peer.Identity, err)
	}

	// An unsubscribe may have cleared it in the meantime.
	a.sess.ClearIf(peer.Identity, session.StateIdle)
	a.logger.Info("requester detached", "requester", peer.String(), "resource", resource)
	a.emit(events.KindDetached, peer, resource)
	return nil
}

// AwaitRequest listens on the session address and returns the resource of
// the first Request. Requests sent while no call is active are not seen.
func (a *Agent) AwaitRequest(ctx context.Context) (string, error) {
	var resource string
	err := a.serveRequests(ctx, func(r string) bool {
		resource = r
		return false
	})
	return resource, err
}

// Requests yields the resource of every help request. One listener stays
// open for the whole iteration, so requests arriving while the caller is
// busy queue up instead of being lost. The sequence stops without an error
// when ctx ends; any other failure, including the peer unsubscribing, is
// yielded once and ends it. Ranging over it again opens a fresh listener.
func (a *Agent) Requests(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		err := a.serveRequests(ctx, func(r string) bool {
			return yield(r, nil)
		})
		if err != nil && ctx.Err() == nil {
			yield("", err)
		}
	}
}

// serveRequests hands every Request to handle until handle returns false.
func (a *Agent) serveRequests(ctx context.Context, handle func(resource string) bool) error {
	loopCtx, done, err := a.sess.StartLoop(ctx, session.LoopRequests)
	if err != nil {
		return fmt.Errorf("awaiting request: %w", err)
	}
	defer done()

	ln, err := a.listen(a.opts.SessionPort, "session")
	if err != nil {
		return fmt.Errorf("opening session listener: %w", err)
	}
	defer ln.Close()

	for {
		cmd, host, err := ln.Next(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				return context.Cause(loopCtx)
			}
			return fmt.Errorf("awaiting request: %w", err)
		}

		req, ok := cmd.(wire.Request)
		if !ok {
			a.logger.Debug("ignoring command on session address", "keyword", cmd.Keyword(), "from", host)
			continue
		}

		peer, _, _ := a.sess.Binding()
		a.logger.Info("help requested", "requester", peer.String(), "resource", req.ResourceID, "from", host)
		a.emit(events.KindRequested, peer, req.ResourceID)
		if !handle(req.ResourceID) {
			return nil
		}
	}
}

// AwaitUnsubscribe listens on the discovery address until the attached peer
// unsubscribes, then clears the binding, cancels every other loop with
// session.ErrPeerUnsubscribed and returns the peer's identity. Notices
// from anyone else are discarded.
func (a *Agent) AwaitUnsubscribe(ctx context.Context) (string, error) {
	loopCtx, done, err := a.sess.StartLoop(ctx, session.LoopUnsubscribe)
	if err != nil {
		return "", fmt.Errorf("awaiting unsubscribe: %w", err)
	}
	defer done()

	ln, err := a.listen(a.opts.DiscoveryPort, "discovery")
	if err != nil {
		return "", fmt.Errorf("opening discovery listener: %w", err)
	}
	defer ln.Close()

	for {
		cmd, host, err := ln.Next(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				return "", context.Cause(loopCtx)
			}
			return "", fmt.Errorf("awaiting unsubscribe: %w", err)
		}

		unsub, ok := cmd.(wire.Unsubscribe)
		if !ok {
			continue
		}

		peer, resource, cleared := a.sess.ClearIf(unsub.Identity, session.StateIdle)
		if !cleared {
			a.logger.Debug("discarding unsubscribe from unbound requester", "requester", unsub.Identity, "from", host)
			continue
		}

		cancelled := a.sess.CancelLoops(session.ErrPeerUnsubscribed, session.LoopUnsubscribe)
		a.logger.Info("requester unsubscribed", "requester", peer.String(), "resource", resource, "cancelled_loops", cancelled)
		a.emit(events.KindUnsubscribed, peer, resource)
		return unsub.Identity, nil
	}
}

// settle leaves the collecting phase for whatever the binding implies.
func (a *Agent) settle() {
	if _, _, ok := a.sess.Binding(); ok {
		a.sess.SetState(session.StateAttached)
		return
	}
	a.sess.SetState(session.StateIdle)
}

func (a *Agent) listen(port int, name string) (*transport.Listener, error) {
	ln, err := transport.Listen(a.opts.LocalAddress, port)
	if err != nil {
		return nil, err
	}
	ln.ReadTimeout = a.opts.ReadTimeout
	ln.OnDrop = func(err error) {
		a.logger.Debug("dropped connection", "endpoint", name, "error", err)
	}
	return ln, nil
}

func (a *Agent) emit(kind events.Kind, peer session.Contact, resource string) {
	if a.publish == nil {
		return
	}
	a.publish.Publish(events.New(kind, a.sess.Self(), peer, resource))
}
