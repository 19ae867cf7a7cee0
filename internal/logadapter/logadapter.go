// Package logadapter bridges a github.com/sirupsen/logrus.Logger into a
// log/slog.Handler, so the CLI can keep logrus-style formatters/hooks at
// the edge while every internal component of this driver logs through the
// structured log/slog API.
package logadapter

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// Handler adapts slog.Record to a logrus.Entry. It does not implement
// slog's group/attr-tree nesting beyond flattening WithAttrs/WithGroup into
// logrus fields, which is all the CLI's own logging needs.
type Handler struct {
	logger *logrus.Logger
	fields logrus.Fields
	group  string
}

func New(logger *logrus.Logger) *Handler {
	return &Handler{logger: logger, fields: logrus.Fields{}}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return toLogrusLevel(level) <= h.logger.GetLevel()
}

func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	fields := make(logrus.Fields, len(h.fields)+4)
	for k, v := range h.fields {
		fields[k] = v
	}
	record.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fields[key] = a.Value.Any()
		return true
	})
	h.logger.WithFields(fields).WithTime(record.Time).Log(toLogrusLevel(record.Level), record.Message)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(h.fields)+len(attrs))
	for k, v := range h.fields {
		fields[k] = v
	}
	for _, a := range attrs {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fields[key] = a.Value.Any()
	}
	return &Handler{logger: h.logger, fields: fields, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{logger: h.logger, fields: h.fields, group: group}
}

func toLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
