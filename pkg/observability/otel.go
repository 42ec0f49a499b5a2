// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewStdoutTracerProvider builds a TracerProvider that exports spans to
// stdout, matching the teacher's default local-development profile. OTLP
// exporters are not wired here: no collector endpoint is named by this
// module's configuration surface.
func NewStdoutTracerProvider(serviceName string) (TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &otelTracerProvider{tp: tp}, nil
}

type otelTracerProvider struct {
	tp *sdktrace.TracerProvider
}

func (p *otelTracerProvider) Tracer(name string) Tracer {
	return &otelTracer{tracer: p.tp.Tracer(name)}
}

func (p *otelTracerProvider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

func (p *otelTracerProvider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

type otelTracer struct {
	tracer oteltrace.Tracer
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle) {
	cfg := &SpanConfig{}
	for _, o := range opts {
		o.ApplySpanOption(cfg)
	}

	spanOpts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(toOtelKind(cfg.SpanKind))}
	if len(cfg.Attributes) > 0 {
		spanOpts = append(spanOpts, oteltrace.WithAttributes(toOtelAttributes(cfg.Attributes)...))
	}
	if cfg.Timestamp != nil {
		spanOpts = append(spanOpts, oteltrace.WithTimestamp(time.Unix(0, *cfg.Timestamp)))
	}

	ctx, span := t.tracer.Start(ctx, name, spanOpts...)
	return ctx, &otelSpanHandle{span: span}
}

type otelSpanHandle struct {
	span oteltrace.Span
}

func (h *otelSpanHandle) End(opts ...SpanEndOption) {
	cfg := &SpanEndConfig{}
	for _, o := range opts {
		o.ApplySpanEndOption(cfg)
	}
	if cfg.Timestamp != nil {
		h.span.End(oteltrace.WithTimestamp(time.Unix(0, *cfg.Timestamp)))
		return
	}
	h.span.End()
}

func (h *otelSpanHandle) SetStatus(code StatusCode, message string) {
	h.span.SetStatus(toOtelCode(code), message)
}

func (h *otelSpanHandle) SetAttributes(attrs map[string]any) {
	h.span.SetAttributes(toOtelAttributes(attrs)...)
}

func (h *otelSpanHandle) AddEvent(name string, attrs map[string]any) {
	h.span.AddEvent(name, oteltrace.WithAttributes(toOtelAttributes(attrs)...))
}

func (h *otelSpanHandle) SpanContext() TraceContext {
	sc := h.span.SpanContext()
	return TraceContext{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
	}
}

func (h *otelSpanHandle) RecordError(err error) {
	h.span.RecordError(err)
}

func toOtelKind(k SpanKind) oteltrace.SpanKind {
	switch k {
	case SpanKindClient:
		return oteltrace.SpanKindClient
	case SpanKindServer:
		return oteltrace.SpanKindServer
	case SpanKindProducer:
		return oteltrace.SpanKindProducer
	case SpanKindConsumer:
		return oteltrace.SpanKindConsumer
	default:
		return oteltrace.SpanKindInternal
	}
}

func toOtelCode(code StatusCode) codes.Code {
	switch code {
	case StatusCodeOK:
		return codes.Ok
	case StatusCodeError:
		return codes.Error
	default:
		return codes.Unset
	}
}

func toOtelAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
