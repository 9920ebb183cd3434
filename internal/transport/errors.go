// ABOUTME: Typed errors for binding listeners and dialing peers
// ABOUTME: Callers match on the sentinels with errors.Is and on the types with errors.As

package transport

import (
	"errors"
	"fmt"
)

// ErrBind matches any *BindError.
var ErrBind = errors.New("address unavailable")

// ErrUnreachable matches a *DialError for a peer that refused or timed out.
var ErrUnreachable = errors.New("peer unreachable")

// ErrInvalidAddress matches a *DialError for an address that does not parse.
var ErrInvalidAddress = errors.New("invalid address")

// BindError is returned when a listener cannot bind its local endpoint.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }

// DialKind classifies a dial failure.
type DialKind int

const (
	Unreachable DialKind = iota
	InvalidAddress
)

func (k DialKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case InvalidAddress:
		return "invalid address"
	default:
		return "unknown"
	}
}

// DialError is returned when a connection to a peer cannot be opened.
type DialError struct {
	Kind DialKind
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dialing %s: %s", e.Addr, e.Kind)
	}
	return fmt.Sprintf("dialing %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

func (e *DialError) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == Unreachable
	case ErrInvalidAddress:
		return e.Kind == InvalidAddress
	}
	return false
}
