// ABOUTME: Coordinator-side orchestration: locations, claims, discovery and watch
// ABOUTME: Keeps the registry in step with attach, detach and unsubscribe

package ward

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/wardlink/internal/coordinator"
	"github.com/2389/wardlink/internal/dedupe"
	"github.com/2389/wardlink/internal/registry"
	"github.com/2389/wardlink/internal/session"
)

var errPeerLeft = errors.New("peer left")

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Address is recorded in the registry when claiming a resource.
	Address string
	// RequestCooldown collapses repeated alerts for one resource. Zero
	// reports every request.
	RequestCooldown time.Duration
}

// Supervisor runs the coordinator side of a ward.
type Supervisor struct {
	agent    *coordinator.Agent
	reg      registry.Registry
	tel      Telemetry
	cfg      SupervisorConfig
	cooldown *dedupe.Window
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor. tel may be nil, in which case
// location and status lookups fail with ErrNoTelemetry.
func NewSupervisor(agent *coordinator.Agent, reg registry.Registry, tel Telemetry, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		agent:    agent,
		reg:      reg,
		tel:      tel,
		cfg:      cfg,
		cooldown: dedupe.NewWindow(cfg.RequestCooldown, 0),
		logger:   logger.With("component", "supervisor"),
	}
}

// Agent returns the underlying coordinator.
func (s *Supervisor) Agent() *coordinator.Agent { return s.agent }

// self is this supervisor's own contact.
func (s *Supervisor) self() session.Contact {
	return session.Contact{Identity: s.agent.Identity(), Address: s.cfg.Address}
}

// Locations lists every location with its resources, sorted by name.
func (s *Supervisor) Locations(ctx context.Context) ([]Location, error) {
	if s.tel == nil {
		return nil, ErrNoTelemetry
	}

	plans, err := s.tel.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}

	locations := make([]Location, 0, len(plans))
	for id, name := range plans {
		devices, err := s.tel.ListResourcesAt(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing resources at %s: %w", name, err)
		}
		loc := Location{ID: id, Name: name, Resources: make([]Resource, 0, len(devices))}
		for rid, rname := range devices {
			loc.Resources = append(loc.Resources, Resource{ID: rid, Name: rname})
		}
		slices.SortFunc(loc.Resources, func(a, b Resource) int {
			return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
		})
		locations = append(locations, loc)
	}
	slices.SortFunc(locations, func(a, b Location) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return locations, nil
}

// Status reports a resource's name, state and assignments.
func (s *Supervisor) Status(ctx context.Context, resourceID string) (Status, error) {
	return resourceStatus(ctx, s.tel, s.reg, resourceID)
}

// Claim records this supervisor as the coordinator of resourceID.
func (s *Supervisor) Claim(ctx context.Context, resourceID string) error {
	if err := s.reg.AssignCoordinator(ctx, resourceID, s.self()); err != nil {
		return fmt.Errorf("claiming %s: %w", resourceID, err)
	}
	s.logger.Info("resource claimed", "resource", resourceID)
	return nil
}

// Release gives up resourceID if this supervisor still holds it.
func (s *Supervisor) Release(ctx context.Context, resourceID string) error {
	if err := s.reg.UnassignCoordinator(ctx, resourceID, s.self()); err != nil {
		return fmt.Errorf("releasing %s: %w", resourceID, err)
	}
	s.logger.Info("resource released", "resource", resourceID)
	return nil
}

// Discover collects the requesters currently advertising.
func (s *Supervisor) Discover(ctx context.Context) ([]session.Contact, error) {
	return s.agent.CollectRequesters(ctx, 0)
}

// Attach pairs peer with resourceID and records it in the registry.
func (s *Supervisor) Attach(ctx context.Context, peer session.Contact, resourceID string) error {
	if err := s.agent.Attach(ctx, peer, resourceID); err != nil {
		return err
	}
	if err := s.reg.AddRequester(ctx, resourceID, peer); err != nil {
		return fmt.Errorf("recording requester %s: %w", peer.Identity, err)
	}
	return nil
}

// Detach releases the attached requester and drops it from the registry.
func (s *Supervisor) Detach(ctx context.Context) error {
	peer, _, ok := s.agent.Peer()
	if !ok {
		return session.ErrNoPeerBound
	}
	if err := s.agent.Detach(ctx); err != nil {
		return err
	}
	if err := s.reg.RemoveRequester(ctx, peer.Identity); err != nil {
		return fmt.Errorf("removing requester %s: %w", peer.Identity, err)
	}
	return nil
}

// Watch reports help requests from the attached requester to onRequest
// until the requester unsubscribes, in which case it returns nil, or ctx
// ends, in which case it returns the cancellation cause. onRequest runs on
// the watch goroutine; while it runs, further requests queue on the
// listener.
func (s *Supervisor) Watch(ctx context.Context, onRequest func(Alert)) error {
	if _, _, ok := s.agent.Peer(); !ok {
		return session.ErrNoPeerBound
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for resourceID, err := range s.agent.Requests(gctx) {
			if err != nil {
				return err
			}
			if !s.cooldown.Admit(resourceID) {
				s.logger.Debug("suppressing repeated request", "resource", resourceID)
				continue
			}
			onRequest(s.alert(gctx, resourceID))
		}
		return nil
	})

	g.Go(func() error {
		identity, err := s.agent.AwaitUnsubscribe(gctx)
		if err != nil {
			return err
		}
		if err := s.reg.RemoveRequester(ctx, identity); err != nil {
			s.logger.Warn("failed to remove unsubscribed requester", "requester", identity, "error", err)
		}
		// Ends the request loop even if it had not started listening yet.
		return errPeerLeft
	})

	err := g.Wait()
	switch {
	case ctx.Err() != nil:
		return context.Cause(ctx)
	case err == nil, errors.Is(err, errPeerLeft), errors.Is(err, session.ErrPeerUnsubscribed):
		return nil
	default:
		return fmt.Errorf("watching requests: %w", err)
	}
}

// alert builds the notification for a request. A failed name lookup still
// produces an alert carrying only the id.
func (s *Supervisor) alert(ctx context.Context, resourceID string) Alert {
	peer, _, _ := s.agent.Peer()
	a := Alert{Requester: peer, Resource: Resource{ID: resourceID}}
	if s.tel == nil {
		return a
	}
	name, err := s.tel.ResourceName(ctx, resourceID)
	if err != nil {
		s.logger.Debug("resource name lookup failed", "resource", resourceID, "error", err)
		return a
	}
	a.Resource.Name = name
	return a
}
