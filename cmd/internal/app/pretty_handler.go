package app

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler writes one key=value line per record for local development:
//
//	ts=15:04:05.000 lvl=[INFO] msg=http.request method=GET status=200 duration=3ms
//
// Access-log fields (method, path, status, class, duration, result) are
// colored when color is on. Attrs from WithAttrs are rendered once, up front.
type prettyHandler struct {
	out     *syncWriter
	level   slog.Leveler
	source  bool
	replace func(groups []string, a slog.Attr) slog.Attr
	color   bool

	groups []string
	prefix string
	pre    []byte
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: &syncWriter{w: w}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
		h.replace = opts.ReplaceAttr
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "ts="...)
	buf = append(buf, h.paint(ts.Format("15:04:05.000"), ansiDim)...)
	buf = append(buf, " lvl="...)
	buf = append(buf, h.paint("["+levelName(r.Level)+"]", levelColor(r.Level))...)
	buf = append(buf, " msg="...)
	buf = append(buf, h.paint(r.Message, ansiBright)...)

	if h.source && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			buf = append(buf, " src="...)
			buf = append(buf, h.paint(filepath.Base(f.File)+":"+strconv.Itoa(f.Line), ansiDim)...)
		}
	}

	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')
	return h.out.write(buf)
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.pre = slices.Clip(h.pre)
	for _, a := range attrs {
		cp.pre = cp.appendAttr(cp.pre, cp.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(slices.Clip(h.groups), name)
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}
	if h.replace != nil {
		a = h.replace(h.groups, a)
		a.Value = a.Value.Resolve()
	}
	key := strings.TrimSpace(a.Key)
	if key == "" {
		return buf
	}

	key, val := h.field(key, a.Value)
	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, key...)
	buf = append(buf, '=')
	return append(buf, val...)
}

// field renders one leaf, renaming status_class to class and duration_ms to duration.
func (h *prettyHandler) field(key string, v slog.Value) (string, string) {
	switch key {
	case "method":
		m := strings.ToUpper(strings.TrimSpace(v.String()))
		return key, h.paint(m, methodColor(m))
	case "path":
		return key, h.paint(strings.TrimSpace(v.String()), ansiCyan)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return key, h.paint(strconv.FormatInt(n, 10), statusColor(int(n/100)))
		}
	case "status_class", "class":
		return "class", colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return "duration", h.paint(strconv.FormatInt(n, 10)+"ms", durationColor(n))
		}
	case "result":
		res := strings.ToLower(strings.TrimSpace(v.String()))
		if c, ok := resultColors[res]; ok {
			return key, h.paint(res, c)
		}
		return key, quoteIfNeeded(res)
	}
	return key, quoteIfNeeded(valueToString(v))
}

func (h *prettyHandler) paint(s, code string) string { return paint(s, code, h.color) }

func paint(s, code string, on bool) string {
	if !on || code == "" {
		return s
	}
	return code + s + ansiReset
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l < slog.LevelInfo:
		return "DEBUG"
	}
	return "INFO"
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l < slog.LevelInfo:
		return ansiMagenta
	}
	return ansiBlue
}

var methodColors = map[string]string{
	"GET":    ansiGreen,
	"HEAD":   ansiGreen,
	"POST":   ansiBlue,
	"PUT":    ansiYellow,
	"PATCH":  ansiYellow,
	"DELETE": ansiRed,
}

func methodColor(m string) string {
	if c, ok := methodColors[m]; ok {
		return c
	}
	return ansiMagenta
}

var resultColors = map[string]string{
	"success":      ansiGreen,
	"ok":           ansiGreen,
	"upgraded":     ansiCyan,
	"redirect":     ansiCyan,
	"client_error": ansiYellow,
	"server_error": ansiRed,
	"error":        ansiRed,
}

// statusColor maps the hundreds digit of a status code to a color.
func statusColor(hundreds int) string {
	switch hundreds {
	case 2:
		return ansiGreen
	case 3:
		return ansiCyan
	case 4:
		return ansiYellow
	case 5:
		return ansiRed
	}
	return ""
}

func colorizeStatusClass(class string, on bool) string {
	if len(class) != 3 || class[0] < '1' || class[0] > '5' {
		return quoteIfNeeded(class)
	}
	return paint(class, statusColor(int(class[0]-'0')), on)
}

func durationColor(ms int64) string {
	switch {
	case ms >= 1000:
		return ansiRed
	case ms >= 250:
		return ansiYellow
	}
	return ansiDim
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return int64(u), true
		}
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}
