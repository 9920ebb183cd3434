// Package ward ties the pairing agents to the registry and the telemetry
// backend.
//
// A Supervisor drives a coordinator: it browses locations, claims a
// resource, discovers and attaches a requester, and watches for help
// requests until the requester leaves. An Attendant drives a requester: it
// keeps advertising until attached, waits to be detached, and advertises
// again.
//
// Help requests for the same resource are collapsed within the request
// cooldown so one anxious requester does not flood the supervisor. The
// protocol itself never drops a request; only the notification is
// suppressed.
package ward
