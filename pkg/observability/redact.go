package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Attribute limits applied before export.
const (
	maxAttrStringLen = 256
	maxAttrSliceLen  = 32
)

// exportedNamespaces are the attribute key prefixes fieldagg spans may carry.
var exportedNamespaces = []string{
	"fieldagg.",
	"aggregate.",
	"checkpoint.",
	"dataset.",
	"run.",
	"mcp.",
	"http.",
	"error.",
}

// recordNamespaces hold record contents and never leave the process.
var recordNamespaces = []string{
	"record.",
	"value.",
}

// redactor is a SpanProcessor that drops attributes outside the exported
// namespaces and truncates oversized values before the delegate sees them.
// Field lists and value samples can grow with the dataset; the limits keep
// exported spans bounded.
type redactor struct {
	delegate sdktrace.SpanProcessor
	logger   *slog.Logger
	warned   sync.Map
}

// NewRedactingProcessor wraps delegate. When logger is non-nil each dropped
// key is reported once at warn level.
func NewRedactingProcessor(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &redactor{delegate: delegate, logger: logger}
}

func (r *redactor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	r.delegate.OnStart(parent, s)
}

// OnEnd hands the delegate a view of the span with redacted attributes.
func (r *redactor) OnEnd(s sdktrace.ReadOnlySpan) {
	r.delegate.OnEnd(&redactedSpan{ReadOnlySpan: s, attrs: r.redact(s.Attributes())})
}

func (r *redactor) Shutdown(ctx context.Context) error {
	err := r.delegate.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("redactor shutdown: %w", err)
	}

	return nil
}

func (r *redactor) ForceFlush(ctx context.Context) error {
	err := r.delegate.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("redactor flush: %w", err)
	}

	return nil
}

func (r *redactor) redact(attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))

	for _, kv := range attrs {
		key := string(kv.Key)
		if !exportable(key) {
			r.reportDropped(key)

			continue
		}

		out = append(out, truncate(kv))
	}

	return out
}

func exportable(key string) bool {
	for _, prefix := range recordNamespaces {
		if strings.HasPrefix(key, prefix) {
			return false
		}
	}

	if key == "error" {
		return true
	}

	for _, prefix := range exportedNamespaces {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

func truncate(kv attribute.KeyValue) attribute.KeyValue {
	switch kv.Value.Type() {
	case attribute.STRING:
		if s := kv.Value.AsString(); len(s) > maxAttrStringLen {
			return kv.Key.String(s[:maxAttrStringLen])
		}
	case attribute.STRINGSLICE:
		if s := kv.Value.AsStringSlice(); len(s) > maxAttrSliceLen {
			return kv.Key.StringSlice(s[:maxAttrSliceLen])
		}
	case attribute.INT64SLICE:
		if s := kv.Value.AsInt64Slice(); len(s) > maxAttrSliceLen {
			return kv.Key.Int64Slice(s[:maxAttrSliceLen])
		}
	}

	return kv
}

func (r *redactor) reportDropped(key string) {
	if r.logger == nil {
		return
	}

	if _, seen := r.warned.LoadOrStore(key, struct{}{}); seen {
		return
	}

	r.logger.Warn("span attribute dropped", "key", key)
}

type redactedSpan struct {
	sdktrace.ReadOnlySpan

	attrs []attribute.KeyValue
}

func (s *redactedSpan) Attributes() []attribute.KeyValue {
	return s.attrs
}
