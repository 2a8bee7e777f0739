package app

import (
	"time"

	"nexus/cmd/internal/conf"
	"nexus/cmd/internal/pgutil"
)

// Config contains the process-level settings. Component settings (auth, ws,
// revocation, password) are loaded by their own packages from the same Source.
type Config struct {
	HTTPAddr string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	LogLevel  string
	LogFormat string // "json" or "pretty"
	LogColor  bool

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, token.hmac_key MUST be set (>= 32 bytes) and revocation ids
	// are HMAC-based.
	RequireTokenHMAC bool
	TokenHMACKey     string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// SeedUsers are "name:password" pairs created at startup if missing.
	SeedUsers []string
}

// LoadConfig reads Config from src with defaults.
func LoadConfig(src *conf.Source) Config {
	return Config{
		HTTPAddr: src.String("http.addr", "0.0.0.0:8080"),

		ReadHeaderTimeout: src.Duration("http.read_header_timeout", 5*time.Second),
		ReadTimeout:       src.Duration("http.read_timeout", 15*time.Second),
		WriteTimeout:      src.Duration("http.write_timeout", 15*time.Second),
		IdleTimeout:       src.Duration("http.idle_timeout", 60*time.Second),
		MaxHeaderBytes:    src.Int("http.max_header_bytes", 1<<20),
		ShutdownTimeout:   src.Duration("http.shutdown_timeout", 10*time.Second),

		LogLevel:  src.String("log.level", "info"),
		LogFormat: src.String("log.format", "json"),
		LogColor:  src.Bool("log.color", false),

		DatabaseURL: src.String("database.url", ""),
		DBMaxConns:  src.Int32("database.max_conns", 10),
		DBMinConns:  src.Int32("database.min_conns", 0),
		DBSchema:    src.String("database.schema", pgutil.DefaultSchema),

		ReadinessRequireDB: src.Bool("readiness.require_db", false),

		RequireTokenHMAC: src.Bool("token.require_hmac", false),
		TokenHMACKey:     src.String("token.hmac_key", ""),

		CORSAllowedOrigins:   src.CSV("http.cors_allowed_origins", ""),
		CORSAllowCredentials: src.Bool("http.cors_allow_credentials", false),
		CORSMaxAgeSeconds:    src.Int("http.cors_max_age", 600),

		SeedUsers: src.CSV("seed.users", ""),
	}
}
