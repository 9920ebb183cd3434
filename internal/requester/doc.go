// Package requester implements the peer that advertises itself and waits to
// be attached to a resource by a coordinator.
//
// # Lifecycle
//
//	Idle -> Advertising -> Attached -> TornDown -> Advertising ...
//
// Advertise broadcasts the agent's identity to the coordinator's discovery
// address while listening on the pairing address for a Connect. Once
// attached, AwaitDetach listens on the same pairing address for a
// Disconnect, SendRequest raises a help request on the coordinator's session
// address, and SendUnsubscribe ends the pairing from this side.
//
// Dial failures while broadcasting are expected noise and only logged at
// debug level. Dial failures in SendRequest and SendUnsubscribe are returned
// as session.ErrPeerUnreachable.
package requester
