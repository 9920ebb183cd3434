// ABOUTME: Shared types for ward orchestration: telemetry consumer interface and status views
// ABOUTME: Supervisor and Attendant both report resources through these

package ward

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/wardlink/internal/registry"
	"github.com/2389/wardlink/internal/session"
	"github.com/2389/wardlink/internal/telemetry"
)

// ErrNoTelemetry is returned by lookups when no telemetry backend is configured.
var ErrNoTelemetry = errors.New("no telemetry backend configured")

// Telemetry is the part of the backend client ward needs.
type Telemetry interface {
	ResourceState(ctx context.Context, id string) (telemetry.State, error)
	ResourceName(ctx context.Context, id string) (string, error)
	ListLocations(ctx context.Context) (map[string]string, error)
	ListResourcesAt(ctx context.Context, locationID string) (map[string]string, error)
}

// Resource is one monitored device.
type Resource struct {
	ID   string
	Name string
}

// Location is a floorplan with the resources placed on it.
type Location struct {
	ID        string
	Name      string
	Resources []Resource
}

// Status is the combined telemetry and registry view of a resource.
type Status struct {
	Resource
	State       telemetry.State
	Coordinator session.Contact
	Requesters  []session.Contact
}

// Alert is one help request that passed the cooldown.
type Alert struct {
	Requester session.Contact
	Resource  Resource
}

// resourceStatus looks a resource up in telemetry and, when reg is not nil,
// in the registry. Missing registry entries leave the contact fields empty.
func resourceStatus(ctx context.Context, tel Telemetry, reg registry.Registry, id string) (Status, error) {
	if tel == nil {
		return Status{}, ErrNoTelemetry
	}

	name, err := tel.ResourceName(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("looking up resource %s: %w", id, err)
	}
	state, err := tel.ResourceState(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("looking up resource %s: %w", id, err)
	}
	st := Status{Resource: Resource{ID: id, Name: name}, State: state}

	if reg == nil {
		return st, nil
	}
	st.Coordinator, err = reg.Coordinator(ctx, id)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return Status{}, fmt.Errorf("reading coordinator of %s: %w", id, err)
	}
	st.Requesters, err = reg.Requesters(ctx, id)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return Status{}, fmt.Errorf("reading requesters of %s: %w", id, err)
	}
	return st, nil
}
