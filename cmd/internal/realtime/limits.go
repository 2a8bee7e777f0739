package realtime

import "time"

// MaxMessageChars bounds chat message text, counted in runes.
const MaxMessageChars = 4000

// Frame, heartbeat and per-connection budget.
const (
	maxFrameBytes    = 64 << 10
	maxPresenceQuery = 200

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
