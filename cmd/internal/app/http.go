package app

import (
	"net/http"
	"time"

	authapi "nexus/cmd/internal/auth/api"
	"nexus/cmd/internal/realtime"
	"nexus/cmd/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
)

const readyzPingTimeout = 2 * time.Second

// probes serves liveness and readiness. Liveness never touches dependencies.
type probes struct {
	log       Logger
	pool      *pgxpool.Pool
	requireDB bool
}

func (p probes) healthz(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok\n")
}

func (p probes) readyz(w http.ResponseWriter, r *http.Request) {
	switch {
	case p.pool == nil && p.requireDB:
		writePlain(w, http.StatusServiceUnavailable, "db not configured\n")
	case p.pool == nil:
		writePlain(w, http.StatusOK, "ready\n")
	default:
		if err := PingDB(r.Context(), p.pool, readyzPingTimeout); err != nil {
			p.log.Warn("readyz.db.not_ready", "err", err)
			writePlain(w, http.StatusServiceUnavailable, "db not ready\n")
			return
		}
		writePlain(w, http.StatusOK, "ready\n")
	}
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// registerHTTP mounts probes, metrics, the REST API and the WebSocket endpoint.
func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	metrics *telemetry.Metrics,
	gw *realtime.Gateway,
	auth *authapi.Handler,
) {
	p := probes{log: log, pool: dbPool, requireDB: cfg.ReadinessRequireDB}
	mux.HandleFunc("GET /healthz", p.healthz)
	mux.HandleFunc("GET /readyz", p.readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	auth.Register(mux)
	mux.Handle("GET /ws", gw)
}
