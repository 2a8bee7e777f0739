// Package app wires the nexus server runtime: config, logging, storage,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"nexus/cmd/identity"
	authapi "nexus/cmd/internal/auth/api"
	"nexus/cmd/internal/auth/revocation"
	"nexus/cmd/internal/auth/session"
	"nexus/cmd/internal/chat"
	"nexus/cmd/internal/conf"
	"nexus/cmd/internal/notification"
	"nexus/cmd/internal/realtime"
	"nexus/cmd/internal/telemetry"
	"nexus/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

const throttlePruneInterval = time.Minute

// App is the nexus server runtime. It owns the HTTP server, the DB pool and
// the background loops of the revocation store and the login throttle.
type App struct {
	cfg     Config
	log     Logger
	metrics *telemetry.Metrics

	dbPool *pgxpool.Pool

	revoked       *revocation.Store
	sweepInterval time.Duration

	gw   *realtime.Gateway
	auth *authapi.Handler

	handler http.Handler
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	users    identity.Store
	recorder revocation.Recorder
	chat     chat.Store
	notes    notification.Store
}

// New constructs a fully wired App from src. A nil log builds one from the
// log.* keys.
func New(ctx context.Context, src *conf.Source, log Logger) (*App, error) {
	cfg := LoadConfig(src)
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	pwCfg, err := password.LoadConfig(src)
	if err != nil {
		return nil, err
	}
	hasher, err := tokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfig(src)
	if err != nil {
		return nil, err
	}
	revCfg := revocation.LoadConfig(src)
	wsCfg := realtime.LoadConfig(src)
	authCfg := authapi.LoadConfig(src)

	metrics := telemetry.New()

	pool, st, err := openStores(ctx, cfg, pwCfg, log)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	revOpts := []revocation.Option{
		revocation.WithShards(revCfg.Shards),
		revocation.WithLogger(log),
		revocation.WithMetrics(metrics),
	}
	if st.recorder != nil {
		revOpts = append(revOpts, revocation.WithRecorder(st.recorder, revCfg.RecordQueue))
	}
	revoked := revocation.New(revOpts...)
	if n, err := revoked.Restore(ctx, time.Now().UTC()); err != nil {
		return fail(fmt.Errorf("revocation restore: %w", err))
	} else if n > 0 {
		log.Info("revocation.restored", "entries", n)
	}

	if len(cfg.SeedUsers) > 0 {
		n, err := identity.Seed(ctx, st.users, cfg.SeedUsers)
		if err != nil {
			return fail(fmt.Errorf("seed users: %w", err))
		}
		log.Info("seed.users", "created", n, "requested", len(cfg.SeedUsers))
	}

	sessions, err := session.NewService(sessCfg, revoked, st.users,
		session.WithLogger(log),
		session.WithPasswordConfig(pwCfg),
		session.WithPasswordUpdater(st.users),
		session.WithTokenHasher(hasher),
		session.WithMetrics(metrics),
	)
	if err != nil {
		return fail(err)
	}

	reg := realtime.NewRegistry(wsCfg.Shards)
	bus := realtime.NewBus(reg, realtime.WithBusLogger(log), realtime.WithBusMetrics(metrics))
	gw := realtime.NewGateway(wsCfg, sessions, reg, bus,
		realtime.WithGatewayLogger(log),
		realtime.WithGatewayMetrics(metrics),
	)

	notes := notification.NewService(st.notes, bus,
		notification.WithLogger(log),
		notification.WithMetrics(metrics),
	)
	notes.RegisterHandlers(gw)

	chatSvc := chat.NewService(st.chat, bus,
		chat.WithLogger(log),
		chat.WithUsers(st.users),
		chat.WithNotifier(notes),
	)
	chatSvc.RegisterHandlers(gw)

	auth, err := authapi.NewHandler(authCfg, sessions, st.users,
		authapi.WithLogger(log),
		authapi.WithNotifications(notes),
		authapi.WithChat(chatSvc),
	)
	if err != nil {
		return fail(err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, pool, metrics, gw, auth)

	return &App{
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		dbPool:        pool,
		revoked:       revoked,
		sweepInterval: revCfg.SweepInterval,
		gw:            gw,
		auth:          auth,
		handler:       WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log, metrics),
	}, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Run listens on cfg.HTTPAddr and serves until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It always releases the App's resources.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	bg, stopBg := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.revoked.Run(bg, a.sweepInterval)
	}()
	go func() {
		defer wg.Done()
		a.auth.Run(bg, throttlePruneInterval)
	}()
	defer func() {
		stopBg()
		wg.Wait()
	}()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", ln.Addr().String(), "db_enabled", a.dbPool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Upgraded connections are hijacked, so srv.Shutdown does not wait for them.
	closed := a.gw.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped", "ws_closed", closed)
	return nil
}

func (a *App) close() {
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// openStores picks Postgres when database.url is set and in-memory stores otherwise.
func openStores(ctx context.Context, cfg Config, pw password.Config, log Logger) (*pgxpool.Pool, stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nil, stores{
			users: identity.NewMemoryStore(pw),
			chat:  chat.NewMemoryStore(),
			notes: notification.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, stores{}, err
	}
	st, err := postgresStores(ctx, pool, cfg.DBSchema, pw)
	if err != nil {
		pool.Close()
		return nil, stores{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return pool, st, nil
}

type schemaOwner interface {
	EnsureSchema(ctx context.Context) error
}

func postgresStores(ctx context.Context, pool *pgxpool.Pool, schema string, pw password.Config) (stores, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema), identity.WithPasswordConfig(pw))
	if err != nil {
		return stores{}, err
	}
	rec, err := revocation.NewPostgresRecorder(pool, revocation.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	msgs, err := chat.NewPostgresStore(pool, chat.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	notes, err := notification.NewPostgresStore(pool, notification.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}

	// Each EnsureSchema is idempotent and creates the schema if missing.
	for _, s := range []schemaOwner{users, rec, msgs, notes} {
		if err := s.EnsureSchema(ctx); err != nil {
			return stores{}, err
		}
	}
	return stores{users: users, recorder: rec, chat: msgs, notes: notes}, nil
}
