// Package coordinator implements the supervising peer that discovers
// advertising requesters, attaches one of them to a resource, and listens
// for its help requests and unsubscribe notices.
//
// # Endpoints
//
// The coordinator listens on two local ports:
//
//   - discovery (default 25555): Broadcast while collecting, Unsubscribe
//     while attached
//   - session (default 25557): Request while attached
//
// and dials the requester's pairing port (default 25556) to send Connect
// and Disconnect.
//
// # Requests
//
// AwaitRequest is one-shot: its listener only exists while a call is
// active, so a request sent between two calls is refused. Requests keeps one
// listener open for as long as the caller ranges over it:
//
//	for resource, err := range agent.Requests(ctx) {
//		if err != nil {
//			return err
//		}
//		notify(resource)
//	}
package coordinator
