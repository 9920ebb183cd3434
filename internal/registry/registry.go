// ABOUTME: Registry interface mapping resources to coordinators and requesters
// ABOUTME: Lookups of unknown resources return ErrNotFound

package registry

import (
	"context"
	"errors"

	"github.com/2389/wardlink/internal/session"
)

// ErrNotFound is returned when a resource has no entry, or no coordinator.
var ErrNotFound = errors.New("not found")

// Registry stores resource assignments.
type Registry interface {
	// AssignCoordinator sets the coordinator of resourceID, replacing any
	// previous one.
	AssignCoordinator(ctx context.Context, resourceID string, c session.Contact) error

	// UnassignCoordinator clears the coordinator of resourceID when it has
	// the same identity as c.
	UnassignCoordinator(ctx context.Context, resourceID string, c session.Contact) error

	// AddRequester records c for resourceID unless its identity is already there.
	AddRequester(ctx context.Context, resourceID string, c session.Contact) error

	// RemoveRequester drops identity from every resource.
	RemoveRequester(ctx context.Context, identity string) error

	Coordinator(ctx context.Context, resourceID string) (session.Contact, error)
	Requesters(ctx context.Context, resourceID string) ([]session.Contact, error)

	Close() error
}
