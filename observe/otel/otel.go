// Package otel bridges observe.Sink to OpenTelemetry tracing.
//
// It converts observe.Event records into OTel spans so that runs, model
// calls, tool invocations, handoffs, and approval decisions are visible in
// any OpenTelemetry-compatible backend (Jaeger, Zipkin, Grafana, etc.).
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/loopworks/agentrun/observe"
)

const instrumentationName = "github.com/loopworks/agentrun"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	spanName := spanNameFor(event)
	startTime := event.Timestamp

	_, span := s.tracer.Start(context.Background(), spanName, trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("agent.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("agent.run.id", event.RunID))
	}
	if event.Agent != "" {
		attrs = append(attrs, attribute.String("agent.name", event.Agent))
	}
	if event.Turn > 0 {
		attrs = append(attrs, attribute.Int("agent.turn", event.Turn))
	}
	if event.Model != "" {
		attrs = append(attrs, attribute.String("agent.model", event.Model))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("agent.tool.name", event.ToolName))
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, attribute.String("agent.tool.call_id", event.ToolCallID))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("agent.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("agent.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("agent.duration_ms", event.DurationMs))
	}

	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("agent.attr."+k, fmt.Sprintf("%v", v)))
	}

	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		return "agent.run"
	case observe.KindModel:
		if event.Model != "" {
			return "agent.model." + event.Model
		}
		return "agent.model.call"
	case observe.KindTool:
		if event.ToolName != "" {
			return "agent.tool." + event.ToolName
		}
		return "agent.tool.call"
	case observe.KindHandoff:
		return "agent.handoff"
	case observe.KindApproval:
		return "agent.approval"
	default:
		if event.Message != "" {
			return "agent." + event.Message
		}
		return "agent.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
