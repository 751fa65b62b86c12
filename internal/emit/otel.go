package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans: one span per event,
// named after event.Msg, attributed with session/step/node and meta fields.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an OTelEmitter using tracer (e.g. otel.Tracer("orchestrator")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()
	o.annotate(span, event)
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.annotate(span, event)
		span.End()
	}
	return nil
}

// Flush force-flushes the globally configured tracer provider, if it
// supports flushing.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("orchestrator.session_id", event.SessionID),
		attribute.Int("orchestrator.step", event.Step),
		attribute.String("orchestrator.node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}
