package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPattern    = "%time [%level] %msg %field%n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

// formatter renders logrus entries through a pattern supporting %time,
// %level, %msg, %field and %n.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%msg", entry.Message,
		"%field", buildFields(entry.Data),
		"%n", "\n",
	)
	out := r.Replace(f.pattern)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out), nil
}

// buildFields renders fields as k=v pairs sorted by key.
func buildFields(data logrus.Fields) string {
	fields := make([]string, 0, len(data))
	for _, key := range slices.Sorted(maps.Keys(data)) {
		val, ok := data[key].(string)
		if !ok {
			val = fmt.Sprint(data[key])
		}
		fields = append(fields, key+"="+val)
	}
	return strings.Join(fields, ",")
}

// PatternHandler is a slog.Handler that writes through a logrus logger
// using the pattern formatter.
type PatternHandler struct {
	logger *logrus.Logger
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewPatternHandler creates a pattern handler writing to w.
func NewPatternHandler(w io.Writer, pattern, timeLayout string, level slog.Leveler) *PatternHandler {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if timeLayout == "" {
		timeLayout = DefaultTimeLayout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&formatter{pattern: pattern, time: timeLayout})
	// slog does the level filtering.
	l.SetLevel(logrus.TraceLevel)
	return &PatternHandler{logger: l, level: level}
}

func (h *PatternHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PatternHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(logrus.Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addField(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, h.prefix, a)
		return true
	})
	h.logger.WithFields(fields).WithTime(r.Time).Log(toLogrusLevel(r.Level), r.Message)
	return nil
}

func (h *PatternHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *PatternHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func addField(fields logrus.Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addField(fields, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	fields[prefix+a.Key] = a.Value.Any()
}

func toLogrusLevel(l slog.Level) logrus.Level {
	switch {
	case l >= slog.LevelError:
		return logrus.ErrorLevel
	case l >= slog.LevelWarn:
		return logrus.WarnLevel
	case l >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
