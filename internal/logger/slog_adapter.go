package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// If l is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{resolve: func() *Logger { return l }}
}

// Slog returns a *slog.Logger backed by the global logger. The global logger
// is looked up on every record, so a later Init is picked up.
func Slog(prefix string) *slog.Logger {
	return slog.New(&slogAdapter{resolve: func() *Logger {
		g := Global()
		if prefix == "" {
			return g
		}
		return g.WithPrefix(prefix)
	}})
}

type slogAdapter struct {
	resolve func() *Logger
	groups  []string
	attrs   []boundAttr
}

// boundAttr is an attribute added through WithAttrs, qualified by the groups
// that were open at that moment.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	l := h.resolve()
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled(slogLevelToLoggerLevel(level))
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	l := h.resolve()
	if l == nil {
		return nil
	}

	var builder strings.Builder
	first := true
	for _, bound := range h.attrs {
		first = writeAttr(&builder, bound.attr, bound.groups, first)
	}
	record.Attrs(func(attr slog.Attr) bool {
		first = writeAttr(&builder, attr, h.groups, first)
		return true
	})

	message := record.Message
	if attrText := builder.String(); attrText != "" {
		if message != "" {
			message = message + " " + attrText
		} else {
			message = attrText
		}
	}

	l.log(slogLevelToLoggerLevel(record.Level), "%s", message)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]boundAttr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, attr := range attrs {
		newAttrs = append(newAttrs, boundAttr{groups: h.groups, attr: attr})
	}
	return &slogAdapter{
		resolve: h.resolve,
		groups:  append([]string(nil), h.groups...),
		attrs:   newAttrs,
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	newGroups := append([]string(nil), h.groups...)
	if name != "" {
		newGroups = append(newGroups, name)
	}
	return &slogAdapter{
		resolve: h.resolve,
		groups:  newGroups,
		attrs:   append([]boundAttr(nil), h.attrs...),
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func writeAttr(builder *strings.Builder, attr slog.Attr, prefix []string, first bool) bool {
	if attr.Equal(slog.Attr{}) {
		return first
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := appendKey(prefix, attr.Key)
		for _, nested := range attr.Value.Group() {
			first = writeAttr(builder, nested, groupPrefix, first)
		}
		return first
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}

	if !first {
		builder.WriteByte(' ')
	}
	fmt.Fprintf(builder, "%s=%v", strings.Join(appendKey(prefix, key), "."), attr.Value.Resolve())
	return false
}

func appendKey(prefix []string, key string) []string {
	combined := make([]string, 0, len(prefix)+1)
	combined = append(combined, prefix...)
	return append(combined, key)
}
