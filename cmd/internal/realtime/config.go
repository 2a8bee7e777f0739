package realtime

import (
	"time"

	"nexus/cmd/internal/conf"
)

const (
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config holds gateway settings.
type Config struct {
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables websocket.Accept origin verification. Dev only.
	DevInsecure bool

	SendQueue         int
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// RevalidateInterval re-checks the handshake token while connected. 0 disables it.
	RevalidateInterval time.Duration

	Shards int
}

// DefaultConfig returns secure defaults: origin required, localhost only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    defaultOriginRequired,
		AllowedOrigins:    splitOrigins(defaultAllowedOrigins),
		SendQueue:         defaultSendQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadConfig reads the ws.* keys.
func LoadConfig(src *conf.Source) Config {
	def := DefaultConfig()
	cfg := Config{
		OriginRequired:     src.Bool("ws.origin_required", def.OriginRequired),
		AllowedOrigins:     src.CSV("ws.allowed_origins", defaultAllowedOrigins),
		DevInsecure:        src.Bool("ws.dev_insecure", false),
		SendQueue:          src.Int("ws.send_queue", def.SendQueue),
		WriteTimeout:       src.Duration("ws.write_timeout", def.WriteTimeout),
		ReadIdleTimeout:    src.Duration("ws.read_idle_timeout", def.ReadIdleTimeout),
		HeartbeatInterval:  src.Duration("ws.heartbeat_interval", def.HeartbeatInterval),
		HeartbeatTimeout:   src.Duration("ws.heartbeat_timeout", def.HeartbeatTimeout),
		RateEvents:         src.Int("ws.rate_events", def.RateEvents),
		RateWindow:         src.Duration("ws.rate_window", def.RateWindow),
		RevalidateInterval: src.DurationAllowZero("ws.revalidate_interval", 0),
		Shards:             src.Int("ws.shards", 0),
	}
	return cfg.normalized()
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SendQueue < minSendQueueSize {
		c.SendQueue = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.RevalidateInterval < 0 {
		c.RevalidateInterval = 0
	}
	return c
}
