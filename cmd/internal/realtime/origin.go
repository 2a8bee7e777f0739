package realtime

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

var (
	errOriginMissing = errors.New("missing origin")
	errNoAllowlist   = errors.New("origin not allowed (no allowlist)")
)

// originPolicy checks the Origin header of upgrade requests. An allowlist
// entry matches its exact origin string or any origin on the same host,
// whatever the scheme or port. "*" matches everything.
type originPolicy struct {
	required bool
	any      bool
	exact    map[string]struct{}
	hosts    map[string]struct{}

	// patterns feeds websocket.AcceptOptions.OriginPatterns, which must
	// list cross-origin hosts for Accept to let them through.
	patterns []string
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	p := originPolicy{
		required: required,
		exact:    make(map[string]struct{}, len(allowed)),
		hosts:    make(map[string]struct{}, len(allowed)),
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch a {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		p.exact[a] = struct{}{}
		if h := hostOf(a); h != "" && h != "*" {
			p.hosts[h] = struct{}{}
		}
	}
	p.patterns = slices.Sorted(maps.Keys(p.hosts))
	return p
}

func (p originPolicy) enforce(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case origin == "" && p.required:
		return errOriginMissing
	case origin == "":
		return nil
	case p.any:
		return nil
	case len(p.exact) == 0:
		return errNoAllowlist
	}
	if _, ok := p.exact[origin]; ok {
		return nil
	}
	if h := hostOf(origin); h != "" {
		if _, ok := p.hosts[h]; ok {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// hostOf returns the lowercased host of an origin ("https://a.example:8443")
// or a bare host[:port] entry.
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(s)
}

func splitOrigins(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
