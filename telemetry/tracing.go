// OpenTelemetry tracing for task execution and device group transactions.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with task manager span helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Task Spans ---

// StartTaskSpan starts a span for one execution attempt of a task.
func (t *Tracer) StartTaskSpan(ctx context.Context, taskType string, attempt int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+taskType, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("task.type", taskType),
		attribute.Int("task.attempt", attempt),
	)
	return ctx, span
}

// EndTaskSpan ends a task span, recording err if set.
func (t *Tracer) EndTaskSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Transaction Spans ---

// StartTransactionSpan starts a span covering a device group transaction
// from BeginTransaction to CommitTransactionAck.
func (t *Tracer) StartTransactionSpan(ctx context.Context, scope string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "transaction", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("transaction.scope", scope))
	return ctx, span
}

// EndTransactionSpan ends a transaction span. Rejections counts how often
// another device held the lock before this one got it.
func (t *Tracer) EndTransactionSpan(span trace.Span, rejections int, err error) {
	span.SetAttributes(attribute.Int("transaction.rejections", rejections))
	endSpan(span, err)
}

// --- Reflection Spans ---

// StartReflectSpan starts a span covering a reflection and its ack.
func (t *Tracer) StartReflectSpan(ctx context.Context, reflectID uint32) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "reflect", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int64("reflect.id", int64(reflectID)))
	return ctx, span
}

// EndReflectSpan ends a reflection span.
func (t *Tracer) EndReflectSpan(span trace.Span, timestamp uint64, err error) {
	if err == nil {
		span.SetAttributes(attribute.Int64("reflect.ack_timestamp", int64(timestamp)))
	}
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
