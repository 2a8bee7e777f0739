// Package realtime delivers per-user events to connected WebSocket sessions.
//
// A Registry maps user ids to their live Session handles, a Bus fans events
// out to those handles without blocking, and a Gateway runs the socket loops
// and routes inbound frames to registered handlers.
package realtime
