// Package dedupe suppresses repeats of the same key inside a time window.
//
// The ward supervisor uses a Window keyed by resource id so a requester
// pressing the help button several times in a row raises one notification
// per cooldown instead of one per press.
package dedupe
