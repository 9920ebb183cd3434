// ABOUTME: Per-agent session record: identity, bound peer, bound resource and loop handles
// ABOUTME: Every read-modify-write of the binding happens under one mutex

package session

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Loop names. Each long-running operation owns exactly one handle.
const (
	LoopAdvertise   = "advertise"
	LoopAttach      = "attach"
	LoopDetach      = "detach"
	LoopCollect     = "collect"
	LoopRequests    = "requests"
	LoopUnsubscribe = "unsubscribe"
)

// Contact identifies a peer by display identity and reachable host.
type Contact struct {
	Identity string `json:"identity"`
	Address  string `json:"address"`
}

// IsZero reports whether c denotes "no peer".
func (c Contact) IsZero() bool {
	return c.Identity == "" && c.Address == ""
}

func (c Contact) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.Identity + "@" + c.Address
}

// State is the protocol phase of an agent.
type State int

const (
	StateIdle State = iota
	StateAdvertising
	StateCollecting
	StateAttached
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateCollecting:
		return "collecting"
	case StateAttached:
		return "attached"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

type loopHandle struct {
	token  string
	cancel context.CancelCauseFunc
}

// Session holds the mutable state of one agent.
type Session struct {
	self string

	mu       sync.Mutex
	state    State
	peer     Contact
	resource string
	loops    map[string]loopHandle
}

// New creates an unbound session for the given identity.
func New(self string) *Session {
	return &Session{
		self:  self,
		loops: make(map[string]loopHandle),
	}
}

// Self returns the agent's own identity.
func (s *Session) Self() string {
	return s.self
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves to a new phase.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Binding returns the bound peer and resource. ok is false when unbound.
func (s *Session) Binding() (peer Contact, resource string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.resource, !s.peer.IsZero()
}

// Bind records the peer and resource and moves to StateAttached.
func (s *Session) Bind(peer Contact, resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = peer
	s.resource = resource
	s.state = StateAttached
}

// Clear drops the binding and moves to next.
func (s *Session) Clear(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = Contact{}
	s.resource = ""
	s.state = next
}

// ClearIf drops the binding only when the bound peer has the given
// identity. It returns the peer and resource that were cleared.
func (s *Session) ClearIf(identity string, next State) (Contact, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer.IsZero() || s.peer.Identity != identity {
		return Contact{}, "", false
	}
	peer, resource := s.peer, s.resource
	s.peer = Contact{}
	s.resource = ""
	s.state = next
	return peer, resource, true
}

// StartLoop creates a fresh cancellation handle named name and returns the
// loop context with a done function that removes the handle again. A loop
// with the same name must finish before another can start.
func (s *Session) StartLoop(parent context.Context, name string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.loops[name]; running {
		return nil, nil, ErrLoopActive
	}

	ctx, cancel := context.WithCancelCause(parent)
	token := uuid.New().String()
	s.loops[name] = loopHandle{token: token, cancel: cancel}

	done := func() {
		s.mu.Lock()
		if h, ok := s.loops[name]; ok && h.token == token {
			delete(s.loops, name)
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}
	return ctx, done, nil
}

// CancelLoop cancels the named loop with cause. It reports whether the loop
// was running.
func (s *Session) CancelLoop(name string, cause error) bool {
	s.mu.Lock()
	h, ok := s.loops[name]
	s.mu.Unlock()

	if ok {
		h.cancel(cause)
	}
	return ok
}

// CancelLoops cancels every running loop except the named ones and returns
// the names it cancelled.
func (s *Session) CancelLoops(cause error, except ...string) []string {
	s.mu.Lock()
	var targets []loopHandle
	var names []string
	for name, h := range s.loops {
		if slices.Contains(except, name) {
			continue
		}
		targets = append(targets, h)
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, h := range targets {
		h.cancel(cause)
	}
	sort.Strings(names)
	return names
}

// ActiveLoops returns the names of running loops in sorted order.
func (s *Session) ActiveLoops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
