// Package chat implements direct messages between two users: idempotent
// sends with a per-conversation sequence, read cursors and typing signals.
//
// Delivery goes through realtime.Publisher; storage is behind Store.
package chat
