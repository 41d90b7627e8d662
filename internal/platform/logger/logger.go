package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
)

// New returns a structured JSON logger using slog. All records pass through
// a redacting handler so secret-shaped values never reach the sink.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(NewRedactingHandler(handler))
}

const redactedMarker = "[REDACTED]"

// Secret-shaped substrings that must never be persisted: JWTs, bearer
// headers, password/token key-value fragments, and email addresses.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)["']?\s*[:=]\s*["']?[^\s"',}]+`),
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
}

// RedactingHandler rewrites string attribute values before delegating to the
// wrapped handler. Group structure and non-string values pass through.
type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, Redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Redact(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		clean := make([]any, 0, len(members))
		for _, member := range members {
			clean = append(clean, redactAttr(member))
		}
		return slog.Group(attr.Key, clean...)
	default:
		return attr
	}
}

// Redact replaces every detected secret-shaped substring with a marker.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, redactedMarker)
	}
	return s
}
