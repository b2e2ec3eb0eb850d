// Package logging provides the gateway's JSON-line structured logger,
// with trace/span correlation.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const serviceName = "mcp-gateway"

// Logger writes one JSON object per line to writer, guarded by mu so
// concurrent callers never interleave partial lines.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// New returns a Logger writing to writer.
func New(writer io.Writer) *Logger {
	return &Logger{writer: writer}
}

// Log emits a structured entry. If ctx carries a valid span, trace_id
// and span_id are attached so log lines can be correlated to traces.
func (l *Logger) Log(ctx context.Context, level, event string, fields map[string]any) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"service":   serviceName,
		"level":     strings.ToUpper(level),
		"event":     event,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		spanCtx := span.SpanContext()
		if spanCtx.IsValid() {
			entry["trace_id"] = spanCtx.TraceID().String()
			entry["span_id"] = spanCtx.SpanID().String()
		}
	}

	for key, value := range fields {
		entry[key] = value
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(payload)
	_, _ = l.writer.Write([]byte("\n"))
}

// Debug, Info, Warn, and Error are convenience wrappers over Log.
func (l *Logger) Debug(ctx context.Context, event string, fields map[string]any) { l.Log(ctx, "debug", event, fields) }
func (l *Logger) Info(ctx context.Context, event string, fields map[string]any)  { l.Log(ctx, "info", event, fields) }
func (l *Logger) Warn(ctx context.Context, event string, fields map[string]any)  { l.Log(ctx, "warn", event, fields) }
func (l *Logger) Error(ctx context.Context, event string, fields map[string]any) { l.Log(ctx, "error", event, fields) }
