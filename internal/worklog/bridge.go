// Package worklog routes log records produced while an action runs to the
// host, attributed to the request that produced them.
package worklog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

// Bridge is a slog.Handler that sends records through a ResponseProtocol.
// Records are delivered synchronously, so everything logged by an action
// reaches the connection before the action's response.
type Bridge struct {
	out     protocol.ResponseProtocol
	level   slog.Leveler
	tracker *causal.Tracker
	attrs   []slog.Attr
	groups  []string
}

// NewBridge creates a bridge writing to out. tracker, if non-nil, supplies
// the operation when the record's context carries none.
func NewBridge(out protocol.ResponseProtocol, level slog.Leveler, tracker *causal.Tracker) *Bridge {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Bridge{out: out, level: level, tracker: tracker}
}

func (b *Bridge) Enabled(_ context.Context, level slog.Level) bool {
	return level >= b.level.Level()
}

func (b *Bridge) Handle(ctx context.Context, r slog.Record) error {
	ref, ok := causal.FromContext(ctx)
	if !ok && b.tracker != nil {
		ref, _ = b.tracker.Current()
	}

	attrs := make(map[string]string, len(b.attrs)+r.NumAttrs())
	for _, a := range b.attrs {
		flatten(attrs, "", a)
	}
	prefix := groupPrefix(b.groups)
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, prefix, a)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	return b.out.Log(protocol.LogEvent{
		Operation: ref,
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Attrs:     attrs,
	})
}

func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *b
	prefix := groupPrefix(b.groups)
	next.attrs = slices.Clone(b.attrs)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (b *Bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	next := *b
	next.groups = append(slices.Clone(b.groups), name)
	return &next
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	switch v.Kind() {
	case slog.KindAny:
		dst[prefix+a.Key] = fmt.Sprint(v.Any())
	default:
		dst[prefix+a.Key] = v.String()
	}
}
