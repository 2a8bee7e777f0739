package revocation

import (
	"time"

	"nexus/cmd/internal/cmap"
	"nexus/cmd/internal/conf"
)

// Config holds revocation store settings.
type Config struct {
	SweepInterval time.Duration
	Shards        int
	RecordQueue   int
}

// DefaultConfig returns the defaults: sweep every minute, 32 shards.
func DefaultConfig() Config {
	return Config{
		SweepInterval: time.Minute,
		Shards:        cmap.DefaultShardCount,
		RecordQueue:   defaultRecordQueue,
	}
}

// LoadConfig reads revocation.sweep_interval, revocation.shards and revocation.record_queue.
func LoadConfig(src *conf.Source) Config {
	def := DefaultConfig()
	return Config{
		SweepInterval: src.Duration("revocation.sweep_interval", def.SweepInterval),
		Shards:        src.Int("revocation.shards", def.Shards),
		RecordQueue:   src.Int("revocation.record_queue", def.RecordQueue),
	}
}
