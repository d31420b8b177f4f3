// Colourised slog handler for local development.
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
)

const (
	timeFormat = "15:04:05.000"
)

const (
	reset = "\033[0m"

	cyan     = 36
	yellow   = 33
	darkGray = 90
	lightRed = 91
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

// Loggable lets a value decide how it is rendered in log output,
// e.g. to hide credentials.
type Loggable interface {
	ToLog() any
}

type handler struct {
	level  slog.Leveler
	out    io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	prefix string
}

func NewHandler(level slog.Leveler) slog.Handler {
	return NewHandlerWithWriter(os.Stderr, level)
}

func NewHandlerWithWriter(w io.Writer, level slog.Leveler) slog.Handler {
	return &handler{
		level: level,
		out:   w,
		mu:    &sync.Mutex{},
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch {
	case r.Level >= slog.LevelError:
		level = colorize(lightRed, level)
	case r.Level >= slog.LevelWarn:
		level = colorize(yellow, level)
	case r.Level >= slog.LevelInfo:
		level = colorize(cyan, level)
	default:
		level = colorize(darkGray, level)
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = resolve(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = resolve(a.Value)
		return true
	})

	line := colorize(darkGray, r.Time.Format(timeFormat)) +
		" " + level +
		" " + colorize(white, r.Message)
	if len(attrs) > 0 {
		line += " " + colorize(darkGray, attributesToString(attrs))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line+"\n")
	return err
}

// resolve expands slog.LogValuer values, groups become maps.
func resolve(v slog.Value) any {
	v = v.Resolve()
	if v.Kind() != slog.KindGroup {
		return v.Any()
	}
	group := make(map[string]any, len(v.Group()))
	for _, a := range v.Group() {
		group[a.Key] = resolve(a.Value)
	}
	return group
}

func attributesToString(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]orderedAttr, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, orderedAttr{k, convert(attrs[k])})
	}

	asJson, err := json.MarshalIndent(orderedAttrs(ordered), "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

type orderedAttr struct {
	key   string
	value any
}

// json.Marshal sorts map keys anyway, but values that fail to marshal
// must fall back to their fmt representation individually.
type orderedAttrs []orderedAttr

func (o orderedAttrs) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(o))
	for _, a := range o {
		raw, err := json.Marshal(a.value)
		if err != nil {
			raw, _ = json.Marshal(fmt.Sprintf("%v", a.value))
		}
		m[a.key] = raw
	}
	return json.Marshal(m)
}

func convert(value any) any {
	switch v := value.(type) {
	case nil:
		return "nil"
	case error:
		return v.Error()
	case Loggable:
		return v.ToLog()
	case []byte:
		return fmt.Sprintf("%v", v)
	case fmt.Stringer:
		return v.String()
	}
	return value
}
