// Package events provides an in-memory feed of pairing lifecycle events.
//
// # Overview
//
// Agents publish an Event whenever their pairing changes: a Requester is
// attached or detached, a help request arrives, or a Requester unsubscribes.
// Presentation code subscribes by agent identity and renders what it needs.
//
//	b := events.NewBroadcaster(logger)
//	ch, subID := b.Subscribe(ctx, "nurse-station-3")
//	defer b.Unsubscribe("nurse-station-3", subID)
//
// Publishing never blocks. A subscriber that falls more than
// subscriberBufferSize events behind loses the overflow.
package events
