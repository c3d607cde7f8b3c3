// Copyright 2025 Apify Technologies s.r.o.
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

// Package telemetry wires OpenTelemetry tracing and metrics for the
// server. Every tool call produces one event regardless of outcome,
// aborted calls included. Metrics are always exported through a
// Prometheus reader; traces go to an OTLP collector in prod or to
// stdout in dev.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Environment selects the trace destination.
const (
	EnvProd = "prod"
	EnvDev  = "dev"
)

// Config controls provider construction.
type Config struct {
	// Enabled turns telemetry on. A disabled provider is a safe no-op.
	Enabled bool

	// Env is prod or dev. Prod exports traces over OTLP, dev prints
	// them to stdout.
	Env string

	// ServiceName and ServiceVersion identify this process.
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint is the collector address for prod, e.g.
	// "collector:4317". Empty disables trace export while keeping
	// metrics.
	OTLPEndpoint string

	// OTLPProtocol is grpc (default) or http.
	OTLPProtocol string

	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool
}

// ToolCallEvent is the per-call record emitted by the dispatcher.
type ToolCallEvent struct {
	Tool            string
	ToolKind        string
	Status          string
	SessionID       string
	Transport       string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	Task            bool
	Duration        time.Duration
}

// Provider bundles the tracer and the server's instruments. A nil
// *Provider is valid and drops everything.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer

	callsTotal   otelmetric.Int64Counter
	callDuration otelmetric.Float64Histogram
	actorRuns    otelmetric.Int64Counter
	tasksTotal   otelmetric.Int64Counter
}

// New constructs a provider per cfg. With cfg.Enabled false it returns
// nil, which every method accepts.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // empty schema URL avoids merge conflicts
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	p := &Provider{
		tp:     tp,
		mp:     mp,
		tracer: tp.Tracer("actors-mcp-server"),
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	meter := p.mp.Meter("actors-mcp-server")

	var err error
	p.callsTotal, err = meter.Int64Counter(
		"apify_mcp_tool_calls_total",
		otelmetric.WithDescription("Total number of tool calls by status"),
		otelmetric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	p.callDuration, err = meter.Float64Histogram(
		"apify_mcp_tool_call_duration_seconds",
		otelmetric.WithDescription("Tool call duration in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	p.actorRuns, err = meter.Int64Counter(
		"apify_mcp_actor_runs_total",
		otelmetric.WithDescription("Total number of Actor runs started through call tools"),
		otelmetric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	p.tasksTotal, err = meter.Int64Counter(
		"apify_mcp_tasks_total",
		otelmetric.WithDescription("Total number of task lifecycle events"),
		otelmetric.WithUnit("{task}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// StartToolSpan opens a span for one tool call.
func (p *Provider) StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	if p == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, tool)
	}
	return p.tracer.Start(ctx, "tools/call "+tool, trace.WithSpanKind(trace.SpanKindServer))
}

// TrackToolCall records one finished call. The span, if any, is ended
// by the caller.
func (p *Provider) TrackToolCall(ctx context.Context, ev ToolCallEvent) {
	if p == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool", ev.Tool),
		attribute.String("tool_kind", ev.ToolKind),
		attribute.String("status", ev.Status),
		attribute.String("transport", ev.Transport),
		attribute.Bool("task", ev.Task),
	}
	if ev.ClientName != "" {
		attrs = append(attrs, attribute.String("client_name", ev.ClientName))
	}
	if ev.ProtocolVersion != "" {
		attrs = append(attrs, attribute.String("protocol_version", ev.ProtocolVersion))
	}

	p.callsTotal.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	p.callDuration.Record(ctx, ev.Duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("tool", ev.Tool),
		attribute.String("status", ev.Status),
	))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
	if ev.Status == "failed" {
		span.SetStatus(codes.Error, "tool call failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// TrackActorRun records an Actor run start.
func (p *Provider) TrackActorRun(ctx context.Context, actorFullName, status string) {
	if p == nil {
		return
	}
	p.actorRuns.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("actor", actorFullName),
		attribute.String("status", status),
	))
}

// TrackTask records a task lifecycle event such as created, completed,
// failed, or cancelled.
func (p *Provider) TrackTask(ctx context.Context, event string) {
	if p == nil {
		return
	}
	p.tasksTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event", event)))
}

// MetricsHandler exposes the Prometheus scrape endpoint. The OTel
// prometheus exporter registers with the default registry, so the
// default promhttp handler serves it.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
