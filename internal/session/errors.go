// ABOUTME: Errors shared by the coordinator and requester agents
// ABOUTME: Explicit actions surface these; passive loops never do

package session

import "errors"

// ErrNoPeerBound is returned when an action needs a bound peer and there is none.
var ErrNoPeerBound = errors.New("no peer bound")

// ErrPeerUnreachable is returned when an explicit action could not reach the peer.
var ErrPeerUnreachable = errors.New("peer unreachable")

// ErrEmptyContact is returned when attaching to a contact with no identity and no address.
var ErrEmptyContact = errors.New("empty contact")

// ErrLoopActive is returned when a loop with the same name is already running.
var ErrLoopActive = errors.New("loop already active")

// ErrUnsubscribed is the cancellation cause for loops of a requester that unsubscribed.
var ErrUnsubscribed = errors.New("unsubscribed")

// ErrPeerUnsubscribed is the cancellation cause for coordinator loops after
// the bound peer unsubscribed.
var ErrPeerUnsubscribed = errors.New("peer unsubscribed")
