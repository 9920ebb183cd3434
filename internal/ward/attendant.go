// ABOUTME: Requester-side orchestration: advertise, serve one attachment, advertise again
// ABOUTME: Help and Leave wrap the requester's explicit actions

package ward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/wardlink/internal/requester"
	"github.com/2389/wardlink/internal/session"
)

// Attendant runs the requester side of a ward.
type Attendant struct {
	agent  *requester.Agent
	tel    Telemetry
	logger *slog.Logger
}

// NewAttendant creates an Attendant. tel may be nil.
func NewAttendant(agent *requester.Agent, tel Telemetry, logger *slog.Logger) *Attendant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attendant{
		agent:  agent,
		tel:    tel,
		logger: logger.With("component", "attendant"),
	}
}

// Agent returns the underlying requester.
func (a *Attendant) Agent() *requester.Agent { return a.agent }

// Run advertises until a coordinator attaches, calls onAttached with the
// resource, waits to be detached and starts over. It returns nil when ctx
// ends or after Leave, and an error only when the agent cannot listen.
// onAttached runs on the Run goroutine and may be nil.
func (a *Attendant) Run(ctx context.Context, onAttached func(resourceID string)) error {
	for {
		resourceID, err := a.agent.Advertise(ctx)
		if err != nil {
			if requester.IsPassive(err) {
				return nil
			}
			return fmt.Errorf("advertising: %w", err)
		}

		if onAttached != nil {
			onAttached(resourceID)
		}

		confirm, err := a.agent.AwaitDetach(ctx)
		if err != nil {
			// Leave can clear the binding before the detach loop starts.
			if requester.IsPassive(err) || errors.Is(err, session.ErrNoPeerBound) {
				return nil
			}
			return fmt.Errorf("awaiting detach: %w", err)
		}
		a.logger.Info("released by coordinator, advertising again", "resource", resourceID, "confirm", confirm)
	}
}

// Status reports the resource this attendant is attached to.
func (a *Attendant) Status(ctx context.Context) (Status, error) {
	peer, resourceID, ok := a.agent.Peer()
	if !ok {
		return Status{}, session.ErrNoPeerBound
	}
	st, err := resourceStatus(ctx, a.tel, nil, resourceID)
	if err != nil {
		return Status{}, err
	}
	st.Coordinator = peer
	return st, nil
}

// Help asks the coordinator for help with the bound resource.
func (a *Attendant) Help(ctx context.Context) error {
	return a.agent.SendRequest(ctx)
}

// Leave unsubscribes from the coordinator. A running Run returns nil.
func (a *Attendant) Leave(ctx context.Context) error {
	return a.agent.SendUnsubscribe(ctx)
}
