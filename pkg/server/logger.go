package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogWriter persists one log record of a run.
type LogWriter interface {
	InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error
}

// DBLogHandler is a slog.Handler that stores records against a run so
// they can be read back through the API. Records are also passed to Next
// when it is set.
type DBLogHandler struct {
	DB    LogWriter
	RunID uuid.UUID
	Level slog.Leveler
	Next  slog.Handler

	attrs  []groupedAttr
	groups []string
}

// groupedAttr remembers the groups open when the attr was added.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

func NewDBLogHandler(db LogWriter, runID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{DB: db, RunID: runID, Level: slog.LevelInfo, Next: next}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.Level != nil {
		min = h.Level.Level()
	}
	return level >= min || (h.Next != nil && h.Next.Enabled(ctx, level))
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		_ = h.Next.Handle(ctx, r)
	}
	if h.Level != nil && r.Level < h.Level.Level() {
		return nil
	}

	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs)+1)
	for _, ga := range h.attrs {
		putAttr(attrs, ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(attrs, h.groups, a)
		return true
	})
	attrs["run_id"] = h.RunID.String()

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte(fmt.Sprintf(`{"run_id":%q}`, h.RunID.String()))
	}

	// Logs must survive the request that started the run.
	return h.DB.InsertLog(context.WithoutCancel(ctx), h.RunID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func putAttr(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	for _, g := range groups {
		sub, ok := dst[g].(map[string]any)
		if !ok {
			sub = map[string]any{}
			dst[g] = sub
		}
		dst = sub
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := map[string]any{}
		for _, ga := range a.Value.Group() {
			putAttr(sub, nil, ga)
		}
		if a.Key == "" {
			for k, v := range sub {
				dst[k] = v
			}
			return
		}
		dst[a.Key] = sub
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			dst[a.Key] = err.Error()
			return
		}
		dst[a.Key] = a.Value.Any()
	default:
		dst[a.Key] = a.Value.Any()
	}
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]groupedAttr{}, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, groupedAttr{groups: h.groups, attr: a})
	}
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return &clone
}
