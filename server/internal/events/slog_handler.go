package events

import (
	"context"
	"log/slog"
)

// SlogHandler wraps an slog.Handler and mirrors records at or above a
// minimum level onto the bus as system LogEntry events, which admin
// subscribers see on their live stream.
type SlogHandler struct {
	inner slog.Handler
	bus   *Bus
	min   slog.Level
	attrs []slog.Attr
	group string
}

// NewSlogHandler returns a handler that writes to inner and publishes
// records of level min or higher to bus.
func NewSlogHandler(inner slog.Handler, bus *Bus, min slog.Level) *SlogHandler {
	return &SlogHandler{inner: inner, bus: bus, min: min}
}

// Enabled delegates to the inner handler.
func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle writes the record to the inner handler and publishes it to the bus.
func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min {
		entry := map[string]any{
			"level": r.Level.String(),
			"msg":   r.Message,
			"time":  r.Time,
		}
		if h.group != "" {
			entry["group"] = h.group
		}
		for _, a := range h.attrs {
			entry[a.Key] = attrValue(a)
		}
		r.Attrs(func(a slog.Attr) bool {
			entry[a.Key] = attrValue(a)
			return true
		})
		h.bus.PublishUser("", LogEntry, entry)
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SlogHandler{
		inner: h.inner.WithAttrs(attrs),
		bus:   h.bus,
		min:   h.min,
		attrs: merged,
		group: h.group,
	}
}

// WithGroup returns a new handler with the given group.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &SlogHandler{
		inner: h.inner.WithGroup(name),
		bus:   h.bus,
		min:   h.min,
		attrs: h.attrs,
		group: group,
	}
}

// attrValue renders errors as their message so they survive JSON encoding.
func attrValue(a slog.Attr) any {
	v := a.Value.Resolve().Any()
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}
