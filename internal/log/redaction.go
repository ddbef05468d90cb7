// Package log carries the logging support shared by the commands: a
// slog.Handler that redacts credential material and a size-capped rotating
// log file.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// sensitiveKeys lists key substrings whose values never reach a log sink.
// Matching is case-insensitive. Authentication tokens are covered so that a
// debug-level trace of a handshake cannot be replayed from the log.
var sensitiveKeys = []string{
	"password",
	"pass",
	"secret",
	"token",
	"challenge",
	"ticket",
	"keytab",
	"key",
	"cred",
	"auth",
	"binding",
	"hash",
}

// TokenPreview renders an authentication token for logging: its length only,
// never its content.
func TokenPreview[T ~string | ~[]byte](token T) string {
	return fmt.Sprintf("<%d bytes>", len(token))
}

// RedactingHandler is a slog.Handler that redacts sensitive attributes
// before handing records to the wrapped handler.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next with credential redaction.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, redactAttr(a))
		return true
	})

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	clean.AddAttrs(attrs...)
	return h.next.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		group := make([]any, len(attrs))
		for i, attr := range attrs {
			group[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, group...)
	}

	lowerKey := strings.ToLower(a.Key)
	for _, sens := range sensitiveKeys {
		if strings.Contains(lowerKey, sens) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}
