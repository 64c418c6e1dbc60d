package handler

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/coffersTech/nanolog/spool/internal/model"
)

// Pusher receives finished entries. *engine.LogBuffer[model.LogEntry]
// satisfies it.
type Pusher interface {
	Push(model.LogEntry)
}

// Options configures a Handler.
type Options struct {
	// Service is written to every entry's label.
	Service string
	// Level is the minimum level handled. Nil means INFO.
	Level slog.Leveler
}

// Handler is a slog.Handler that turns records into model.LogEntry
// values and pushes them into the spool. Metadata is normalized on the
// way in, so the pushed entry shares no maps or slices with the caller.
// It never blocks on I/O and never returns an error.
type Handler struct {
	opts  Options
	out   Pusher
	attrs []groupedAttr
	group []string
}

// groupedAttr is an attr added by WithAttrs together with the groups
// that were open at the time.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// New returns a handler writing into out.
func New(out Pusher, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &Handler{opts: opts, out: out}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	entry := model.LogEntry{
		Label:    h.opts.Service,
		Level:    model.EncodeLevel(r.Level),
		Message:  r.Message,
		LoggedAt: r.Time,
		Metadata: model.Metadata{},
	}

	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		entry.File = f.File
		entry.Line = f.Line
		entry.Function = f.Function
		entry.Source = packagePath(f.Function)
	}

	// 1. Stored attributes (from WithAttrs)
	for _, ga := range h.attrs {
		addAttr(entry.Metadata, ga.groups, ga.attr)
	}
	// 2. Record attributes
	r.Attrs(func(a slog.Attr) bool {
		addAttr(entry.Metadata, h.group, a)
		return true
	})

	// Detach from producer-owned maps and slices before the buffer takes
	// the entry. Values without a textual form become null.
	entry, _ = entry.Normalized("metadata")
	h.out.Push(entry)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]groupedAttr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(h2.attrs, h.attrs)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, groupedAttr{groups: h.group, attr: a})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = append(h.group[:len(h.group):len(h.group)], name)
	return &h2
}

// addAttr stores a under the nested mapping named by groups. Group
// mappings are created only when something is written into them.
func addAttr(md model.Metadata, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return
		}
		if a.Key != "" {
			groups = append(groups[:len(groups):len(groups)], a.Key)
		}
		for _, ga := range attrs {
			addAttr(md, groups, ga)
		}
		return
	}

	target := map[string]any(md)
	for _, g := range groups {
		sub, ok := target[g].(map[string]any)
		if !ok {
			sub = map[string]any{}
			target[g] = sub
		}
		target = sub
	}
	target[a.Key] = a.Value.Any()
}

// packagePath extracts "example.com/app/pkg" from a fully qualified
// function name such as "example.com/app/pkg.(*T).Method".
func packagePath(function string) string {
	slash := strings.LastIndex(function, "/")
	dot := strings.Index(function[slash+1:], ".")
	if dot < 0 {
		return function
	}
	return function[:slash+1+dot]
}
