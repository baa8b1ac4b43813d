package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each review step into an OpenTelemetry span.
//
// review_started opens a span named "review <step>"; the matching
// review_finished ends it and records the flagged count. A review_finished
// without a prior start (or after a restart of the emitter) produces a
// zero-length span so the step is never lost. review_failed ends the span
// with an error status.
//
// Attributes:
//   - swiss.run_id, swiss.workflow, swiss.step, swiss.index, swiss.total
//   - swiss.model (from review_started)
//   - swiss.elapsed_ms, swiss.flagged_count (from review_finished)
//   - Meta entries; tokens_in, tokens_out and cost_usd map to swiss.llm.*
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("swiss"))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	open map[spanKey]trace.Span
}

type spanKey struct {
	runID string
	index int
}

// NewOTelEmitter creates an OTelEmitter using tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		open:   make(map[spanKey]trace.Span),
	}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	key := spanKey{runID: event.RunID, index: event.Index}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.Kind {
	case KindReviewStarted:
		if prev, ok := o.open[key]; ok {
			prev.End()
		}
		_, span := o.tracer.Start(context.Background(), "review "+event.Name)
		o.addStandardAttributes(span, event)
		span.SetAttributes(attribute.String("swiss.model", event.Model))
		o.addMetadataAttributes(span, event.Meta)
		o.open[key] = span

	case KindReviewFinished:
		span, ok := o.open[key]
		if ok {
			delete(o.open, key)
		} else {
			_, span = o.tracer.Start(context.Background(), "review "+event.Name)
			o.addStandardAttributes(span, event)
		}
		span.SetAttributes(
			attribute.Int64("swiss.elapsed_ms", event.ElapsedMs),
			attribute.Int("swiss.flagged_count", event.FlaggedCount),
		)
		o.addMetadataAttributes(span, event.Meta)
		span.End()

	case KindReviewFailed:
		span, ok := o.open[key]
		if ok {
			delete(o.open, key)
		} else {
			_, span = o.tracer.Start(context.Background(), "review "+event.Name)
			o.addStandardAttributes(span, event)
		}
		span.SetAttributes(attribute.Int64("swiss.elapsed_ms", event.ElapsedMs))
		span.RecordError(errors.New(event.Error))
		span.SetStatus(codes.Error, event.Error)
		span.End()

	default:
		_, span := o.tracer.Start(context.Background(), event.Kind)
		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)
		span.End()
	}
}

// Pending returns the number of steps started but not yet finished.
func (o *OTelEmitter) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

// Flush ends any still-open spans and forces the global tracer provider to
// export, when it supports flushing.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	o.mu.Lock()
	for key, span := range o.open {
		span.End()
		delete(o.open, key)
	}
	o.mu.Unlock()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("swiss.run_id", event.RunID),
		attribute.String("swiss.workflow", event.Workflow),
		attribute.String("swiss.step", event.Name),
		attribute.Int("swiss.index", event.Index),
		attribute.Int("swiss.total", event.Total),
	)
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := key
		switch key {
		case "tokens_in":
			attrKey = "swiss.llm.tokens_in"
		case "tokens_out":
			attrKey = "swiss.llm.tokens_out"
		case "cost_usd":
			attrKey = "swiss.llm.cost_usd"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
