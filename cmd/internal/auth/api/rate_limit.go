package authapi

import (
	"net/http"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"nexus/cmd/internal/cmap"

	"golang.org/x/time/rate"
)

// loginThrottle is a per-IP token bucket in front of password verification.
// Limiters idle for longer than idle are dropped by prune.
type loginThrottle struct {
	every time.Duration
	burst int
	idle  time.Duration

	ips *cmap.Map[*ipLimiter]
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen atomic.Int64 // unix nanos
}

func newLoginThrottle(cfg Config) *loginThrottle {
	if cfg.LoginRate <= 0 {
		return nil
	}
	return &loginThrottle{
		every: cfg.LoginWindow / time.Duration(cfg.LoginRate),
		burst: cfg.LoginBurst,
		idle:  cfg.LoginIdle,
		ips:   cmap.New[*ipLimiter](),
	}
}

// allow consumes one attempt for ip. When the bucket is empty it reports
// how long until the next attempt would succeed.
func (t *loginThrottle) allow(ip netip.Addr, now time.Time) (bool, time.Duration) {
	if t == nil || !ip.IsValid() {
		return true, 0
	}
	key := ip.String()
	l, ok := t.ips.Get(key)
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		if !t.ips.SetIfAbsent(key, l) {
			if cur, ok := t.ips.Get(key); ok {
				l = cur
			}
		}
	}
	l.seen.Store(now.UnixNano())

	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, t.every
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// prune drops limiters not touched since now-idle.
func (t *loginThrottle) prune(now time.Time) int {
	if t == nil {
		return 0
	}
	cut := now.Add(-t.idle).UnixNano()
	return t.ips.RemoveIf(func(_ string, l *ipLimiter) bool {
		return l.seen.Load() < cut
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
